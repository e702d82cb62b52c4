package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"nostr-lists/internal/nostr"
	"nostr-lists/internal/types"
)

// Defaults for the blocking wait primitives
const (
	DefaultSubscriptionTimeout = 8 * time.Second
	DefaultPublishTimeout      = 5 * time.Second
)

// Options configures a Client
type Options struct {
	Dialer              Dialer
	HandshakeTimeout    time.Duration
	SubscriptionTimeout time.Duration
	PublishTimeout      time.Duration
}

// Client glues a Manager and a Registry into one relay connection
type Client struct {
	manager  *Manager
	registry *Registry
	metrics  *Metrics

	subscriptionTimeout time.Duration
	publishTimeout      time.Duration
}

// FetchResult holds the events of one completed subscription
type FetchResult struct {
	Events []types.Event
	// Partial is set when the subscription timed out after some events arrived
	Partial bool
	Relay   string
}

// PublishResult describes how a relay answered a published event
type PublishResult struct {
	EventID  string
	Relay    string
	Accepted bool
	// Ambiguous means no acknowledgement arrived in time; the event may or
	// may not have been stored.
	Ambiguous bool
	Message   string
}

// NewClient wires a manager and registry together. Nothing is dialed until Connect.
func NewClient(opts Options) *Client {
	metrics := &Metrics{}
	c := &Client{
		metrics:             metrics,
		subscriptionTimeout: opts.SubscriptionTimeout,
		publishTimeout:      opts.PublishTimeout,
	}
	if c.subscriptionTimeout <= 0 {
		c.subscriptionTimeout = DefaultSubscriptionTimeout
	}
	if c.publishTimeout <= 0 {
		c.publishTimeout = DefaultPublishTimeout
	}

	c.manager = NewManager(
		WithDialer(opts.Dialer),
		WithHandshakeTimeout(opts.HandshakeTimeout),
		WithMetrics(metrics),
	)
	c.registry = NewRegistry(c.manager, metrics)
	c.manager.OnFrame(c.registry.Dispatch)
	c.manager.OnDisconnect(c.registry.FailAll)
	return c
}

// Manager exposes the connection manager
func (c *Client) Manager() *Manager { return c.manager }

// Registry exposes the subscription registry
func (c *Client) Registry() *Registry { return c.registry }

// Metrics exposes the traffic counters
func (c *Client) Metrics() *Metrics { return c.metrics }

// Connect opens a connection using ordered failover
func (c *Client) Connect(ctx context.Context, endpoints []string) error {
	return c.manager.Connect(ctx, endpoints)
}

// PreferLast orders endpoints so the last connected relay comes first
func (c *Client) PreferLast(endpoints []string) []string {
	return c.manager.PreferLast(endpoints)
}

// Close closes the connection and resolves anything still pending
func (c *Client) Close() error {
	err := c.manager.Close()
	c.registry.FailAll(ErrNotConnected)
	return err
}

// NewSubscriptionID returns a short unique subscription id
func NewSubscriptionID(prefix string) string {
	id := uuid.NewString()[:8]
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// Fetch runs one subscription to completion and returns its events.
// A soft timeout returns the events collected so far with Partial set.
func (c *Client) Fetch(ctx context.Context, filter types.Filter) (FetchResult, error) {
	id := NewSubscriptionID("fetch")
	done := make(chan Result, 1)
	if err := c.registry.Subscribe(id, filter, func(res Result) { done <- res }, c.subscriptionTimeout); err != nil {
		return FetchResult{}, err
	}

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		c.registry.Unsubscribe(id)
		<-done
		return FetchResult{}, ctx.Err()
	}

	out := FetchResult{Events: res.Events, Partial: res.Partial, Relay: c.manager.Endpoint()}
	switch res.Reason {
	case ReasonEndOfStoredEvents:
		return out, nil
	case ReasonTimeout:
		if res.Partial {
			slog.Warn("subscription timed out with partial results", "sub_id", id, "events", len(res.Events))
			return out, nil
		}
		return out, res.Err
	default:
		if res.Err != nil {
			return out, res.Err
		}
		return out, fmt.Errorf("subscription %s ended: %s", id, res.Reason)
	}
}

// Publish sends a signed event and waits for the relay's OK frame. It never
// retries. An acknowledgement timeout is not an error: the result is marked
// Ambiguous instead.
func (c *Client) Publish(ctx context.Context, evt *types.Event) (PublishResult, error) {
	out := PublishResult{EventID: evt.ID, Relay: c.manager.Endpoint()}
	if !c.manager.IsConnected() {
		return out, ErrNotConnected
	}

	done := make(chan Result, 1)
	if err := c.registry.AwaitAck(evt.ID, func(res Result) { done <- res }, c.publishTimeout); err != nil {
		return out, err
	}
	if err := c.manager.SendFrame(EventFrame(evt)); err != nil {
		c.registry.CancelAck(evt.ID)
		return out, err
	}
	slog.Info("event published, awaiting acknowledgement", "event_id", nostr.ShortID(evt.ID), "relay", out.Relay)

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		c.registry.CancelAck(evt.ID)
		out.Ambiguous = true
		return out, ctx.Err()
	}

	out.Message = res.Message
	switch res.Reason {
	case ReasonAcknowledged:
		out.Accepted = res.Accepted
		if !res.Accepted {
			return out, res.Err
		}
		return out, nil
	case ReasonTimeout:
		out.Ambiguous = true
		slog.Warn("no acknowledgement before timeout", "event_id", nostr.ShortID(evt.ID), "timeout", c.publishTimeout)
		return out, nil
	default:
		// The frame left this process, so the relay may still have it
		out.Ambiguous = true
		return out, res.Err
	}
}

// Stream opens a long-lived subscription. Cancel it with Registry().Unsubscribe.
func (c *Client) Stream(id string, filter types.Filter, onEvent func(types.Event), onDone Handler) error {
	return c.registry.Stream(id, filter, onEvent, onDone)
}
