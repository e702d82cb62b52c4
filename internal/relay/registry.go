package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nostr-lists/internal/nostr"
	"nostr-lists/internal/types"
)

// Reason says why a pending entry reached its terminal state
type Reason int

const (
	ReasonEndOfStoredEvents Reason = iota + 1
	ReasonTimeout
	ReasonUnsubscribed
	ReasonClosed
	ReasonAcknowledged
	ReasonConnectionLost
)

func (r Reason) String() string {
	switch r {
	case ReasonEndOfStoredEvents:
		return "eose"
	case ReasonTimeout:
		return "timeout"
	case ReasonUnsubscribed:
		return "unsubscribed"
	case ReasonClosed:
		return "closed"
	case ReasonAcknowledged:
		return "acknowledged"
	case ReasonConnectionLost:
		return "connection-lost"
	}
	return "unknown"
}

// Result is delivered exactly once to the handler of every pending entry.
// Partial marks a timeout that happened after at least one event arrived.
type Result struct {
	ID       string
	Reason   Reason
	Events   []types.Event
	Partial  bool
	Accepted bool
	Message  string
	Err      error
}

// Handler receives the terminal Result of a pending entry
type Handler func(Result)

// Sender is the outbound half of a connection
type Sender interface {
	SendFrame(frame interface{}) error
	IsConnected() bool
}

type entryKind int

const (
	entrySubscription entryKind = iota
	entryStream
	entryAck
)

type entry struct {
	id      string
	kind    entryKind
	filter  types.Filter
	handler Handler
	onEvent func(types.Event)
	events  []types.Event
	created time.Time
	timer   *time.Timer
}

// Registry correlates inbound frames with pending subscriptions and publish
// acknowledgement waits. All table access happens under mu; handlers are
// called after their entry is removed and outside the lock.
type Registry struct {
	sender  Sender
	metrics *Metrics

	mu   sync.Mutex
	subs map[string]*entry
	acks map[string]*entry
}

// NewRegistry creates a registry that writes REQ/CLOSE frames through sender
func NewRegistry(sender Sender, metrics *Metrics) *Registry {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Registry{
		sender:  sender,
		metrics: metrics,
		subs:    make(map[string]*entry),
		acks:    make(map[string]*entry),
	}
}

// Subscribe sends a REQ and resolves handler on EOSE, CLOSED, timeout,
// Unsubscribe or connection loss, whichever comes first. A zero timeout
// waits indefinitely.
func (r *Registry) Subscribe(id string, filter types.Filter, handler Handler, timeout time.Duration) error {
	return r.open(&entry{
		id:      id,
		kind:    entrySubscription,
		filter:  filter,
		handler: handler,
	}, timeout)
}

// Stream is a subscription that stays open after EOSE. onEvent runs on the
// read goroutine for every valid event; onDone gets the terminal Result.
func (r *Registry) Stream(id string, filter types.Filter, onEvent func(types.Event), onDone Handler) error {
	return r.open(&entry{
		id:      id,
		kind:    entryStream,
		filter:  filter,
		handler: onDone,
		onEvent: onEvent,
	}, 0)
}

func (r *Registry) open(e *entry, timeout time.Duration) error {
	if e.id == "" {
		return errors.New("subscription id is required")
	}
	e.created = time.Now()

	r.mu.Lock()
	if _, exists := r.subs[e.id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSubscriptionID, e.id)
	}
	r.subs[e.id] = e
	r.mu.Unlock()

	if err := r.sender.SendFrame(ReqFrame(e.id, e.filter)); err != nil {
		// Lost a race with FailAll: the handler already has its result
		if !r.detach(r.subs, e) {
			return nil
		}
		return err
	}
	slog.Debug("subscription opened", "sub_id", e.id, "filter", e.filter.ToMap())

	if timeout > 0 {
		r.arm(r.subs, e, timeout)
	}
	return nil
}

// AwaitAck registers a wait for the OK frame correlated with eventID. The
// caller sends the EVENT frame afterwards.
func (r *Registry) AwaitAck(eventID string, handler Handler, timeout time.Duration) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	e := &entry{
		id:      eventID,
		kind:    entryAck,
		handler: handler,
		created: time.Now(),
	}

	r.mu.Lock()
	if _, exists := r.acks[eventID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: ack for %s", ErrDuplicateSubscriptionID, nostr.ShortID(eventID))
	}
	r.acks[eventID] = e
	r.mu.Unlock()

	if timeout > 0 {
		r.arm(r.acks, e, timeout)
	}
	return nil
}

// arm starts the deadline timer unless the entry already resolved
func (r *Registry) arm(table map[string]*entry, e *entry, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if table[e.id] != e {
		return
	}
	e.timer = time.AfterFunc(timeout, func() { r.expire(table, e) })
}

// detach removes e if it is still the registered entry for its id. Only the
// caller that gets true may resolve it.
func (r *Registry) detach(table map[string]*entry, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detachLocked(table, e)
}

func (r *Registry) detachLocked(table map[string]*entry, e *entry) bool {
	if table[e.id] != e {
		return false
	}
	delete(table, e.id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

func (r *Registry) expire(table map[string]*entry, e *entry) {
	if !r.detach(table, e) {
		return
	}

	res := Result{ID: e.id, Reason: ReasonTimeout, Events: e.events}
	switch {
	case e.kind == entryAck:
		res.Err = ErrPublishAckTimeout
	case len(e.events) > 0:
		res.Partial = true
	default:
		res.Err = ErrSubscriptionTimeout
	}
	if e.kind != entryAck {
		r.sendClose(e.id)
	}
	slog.Debug("pending entry timed out", "id", nostr.ShortID(e.id), "events", len(e.events), "partial", res.Partial)
	e.resolve(res)
}

// Unsubscribe resolves the subscription with ReasonUnsubscribed and sends a
// best-effort CLOSE. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	e := r.subs[id]
	if e == nil || !r.detachLocked(r.subs, e) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.sendClose(id)
	e.resolve(Result{ID: id, Reason: ReasonUnsubscribed, Events: e.events})
}

// CancelAck drops a publish acknowledgement wait
func (r *Registry) CancelAck(eventID string) {
	r.mu.Lock()
	e := r.acks[eventID]
	if e == nil || !r.detachLocked(r.acks, e) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	e.resolve(Result{ID: eventID, Reason: ReasonUnsubscribed})
}

// FailAll resolves every pending entry with ReasonConnectionLost
func (r *Registry) FailAll(err error) {
	r.mu.Lock()
	var pending []*entry
	for _, table := range []map[string]*entry{r.subs, r.acks} {
		for _, e := range table {
			if r.detachLocked(table, e) {
				pending = append(pending, e)
			}
		}
	}
	r.mu.Unlock()

	for _, e := range pending {
		e.resolve(Result{ID: e.id, Reason: ReasonConnectionLost, Events: e.events, Err: err})
	}
}

// Pending returns the number of unresolved entries
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs) + len(r.acks)
}

func (r *Registry) sendClose(id string) {
	if !r.sender.IsConnected() {
		return
	}
	if err := r.sender.SendFrame(CloseFrame(id)); err != nil {
		slog.Debug("failed to send CLOSE", "sub_id", id, "error", err)
	}
}

func (e *entry) resolve(res Result) {
	if e.handler != nil {
		e.handler(res)
	}
}

// Dispatch routes one inbound frame. Malformed frames and frames for unknown
// ids are dropped.
func (r *Registry) Dispatch(data []byte) {
	var msg []interface{}
	if err := json.Unmarshal(data, &msg); err != nil || len(msg) < 2 {
		r.metrics.DroppedFrames.Inc()
		return
	}
	label, ok := msg[0].(string)
	if !ok {
		r.metrics.DroppedFrames.Inc()
		return
	}

	switch label {
	case LabelEvent:
		if len(msg) < 3 {
			r.metrics.DroppedFrames.Inc()
			return
		}
		subID, _ := msg[1].(string)
		r.handleEvent(subID, msg[2])

	case LabelEOSE:
		subID, _ := msg[1].(string)
		r.handleEOSE(subID)

	case LabelOK:
		if len(msg) < 3 {
			r.metrics.DroppedFrames.Inc()
			return
		}
		eventID, _ := msg[1].(string)
		accepted, _ := msg[2].(bool)
		var message string
		if len(msg) >= 4 {
			message, _ = msg[3].(string)
		}
		r.handleOK(eventID, accepted, message)

	case LabelClosed:
		subID, _ := msg[1].(string)
		var message string
		if len(msg) >= 3 {
			message, _ = msg[2].(string)
		}
		r.handleClosed(subID, message)

	case LabelNotice:
		notice, _ := msg[1].(string)
		slog.Info("relay notice", "message", notice)

	case LabelAuth:
		slog.Debug("ignoring relay AUTH challenge")

	default:
		r.metrics.DroppedFrames.Inc()
		slog.Debug("unknown relay message", "label", label)
	}
}

func (r *Registry) handleEvent(subID string, raw interface{}) {
	evt, ok := nostr.ParseEventFromInterface(raw)
	if !ok {
		r.metrics.InvalidEvents.Inc()
		return
	}

	r.mu.Lock()
	e := r.subs[subID]
	if e == nil {
		r.mu.Unlock()
		r.metrics.DroppedFrames.Inc()
		return
	}
	var onEvent func(types.Event)
	if e.kind == entryStream {
		onEvent = e.onEvent
	} else {
		e.events = append(e.events, evt)
	}
	r.mu.Unlock()

	if onEvent != nil {
		onEvent(evt)
	}
}

func (r *Registry) handleEOSE(subID string) {
	r.mu.Lock()
	e := r.subs[subID]
	if e == nil {
		r.mu.Unlock()
		return
	}
	if e.kind == entryStream {
		r.mu.Unlock()
		slog.Debug("stream caught up", "sub_id", subID)
		return
	}
	r.detachLocked(r.subs, e)
	r.mu.Unlock()

	slog.Debug("subscription complete", "sub_id", subID, "events", len(e.events), "duration", time.Since(e.created))
	r.sendClose(subID)
	e.resolve(Result{ID: subID, Reason: ReasonEndOfStoredEvents, Events: e.events})
}

func (r *Registry) handleOK(eventID string, accepted bool, message string) {
	r.mu.Lock()
	e := r.acks[eventID]
	if e == nil {
		r.mu.Unlock()
		return
	}
	r.detachLocked(r.acks, e)
	r.mu.Unlock()

	res := Result{ID: eventID, Reason: ReasonAcknowledged, Accepted: accepted, Message: message}
	if !accepted {
		res.Err = fmt.Errorf("%w: %s", ErrPublishRejected, message)
	}
	e.resolve(res)
}

func (r *Registry) handleClosed(subID, message string) {
	r.mu.Lock()
	e := r.subs[subID]
	if e == nil {
		r.mu.Unlock()
		return
	}
	r.detachLocked(r.subs, e)
	r.mu.Unlock()

	slog.Warn("relay closed subscription", "sub_id", subID, "message", message)
	e.resolve(Result{
		ID:      subID,
		Reason:  ReasonClosed,
		Events:  e.events,
		Message: message,
		Err:     fmt.Errorf("%w: %s", ErrSubscriptionClosed, message),
	})
}
