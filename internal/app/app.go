// Package app drives a list editing session: fetch the author's lists from a
// relay, decrypt one for editing, build and sign a new revision, publish it.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"nostr-lists/internal/lists"
	"nostr-lists/internal/nostr"
	"nostr-lists/internal/relay"
	"nostr-lists/internal/types"
)

// Relay is the relay connection used by the session. *relay.Client satisfies it.
type Relay interface {
	Connect(ctx context.Context, endpoints []string) error
	PreferLast(endpoints []string) []string
	Fetch(ctx context.Context, filter types.Filter) (relay.FetchResult, error)
	Publish(ctx context.Context, evt *types.Event) (relay.PublishResult, error)
}

// Credentials is the resolved credential path. *credential.Provider satisfies it.
type Credentials interface {
	Identity() (string, bool)
	CanSign() bool
	CanDecrypt() bool
	Sign(ctx context.Context, unsigned types.UnsignedEvent) (*types.Event, error)
	Encrypt(ctx context.Context, recipient, plaintext string) (string, error)
	Decrypt(ctx context.Context, sender, ciphertext string) (string, error)
}

// Draft is an edited list waiting to be encoded
type Draft struct {
	ListID  string
	Public  []string
	Private []string
}

// App is one user session
type App struct {
	endpoints []string
	relay     Relay
	creds     Credentials
	view      View

	fetchGroup singleflight.Group

	mu    sync.Mutex
	index map[string]types.Event
	built *types.Event
}

// New creates a session. creds may be nil for an unauthenticated session.
func New(endpoints []string, r Relay, creds Credentials, view View) *App {
	return &App{
		endpoints: endpoints,
		relay:     r,
		creds:     creds,
		view:      view,
		index:     make(map[string]types.Event),
	}
}

// State reports what the resolved credentials allow
func (a *App) State() SessionState {
	if a.creds == nil {
		return StateUnauthenticated
	}
	if pubkey, _ := a.creds.Identity(); pubkey == "" {
		return StateUnauthenticated
	}
	if a.creds.CanSign() {
		return StateCanWrite
	}
	return StateReadOnly
}

func (a *App) require(min SessionState, op string) error {
	if state := a.State(); state < min {
		return fmt.Errorf("%w: %s needs %s, session is %s", ErrInsufficientAuthorization, op, min, state)
	}
	return nil
}

func (a *App) identity() string {
	pubkey, _ := a.creds.Identity()
	return pubkey
}

// fail reports err as the single status line for a failed operation
func (a *App) fail(err error) error {
	a.view.Status(LevelError, err.Error())
	return err
}

// FetchLists loads the author's list events and indexes the newest revision
// of each. Concurrent calls share one relay round trip.
func (a *App) FetchLists(ctx context.Context) ([]lists.Summary, error) {
	if err := a.require(StateReadOnly, "fetch"); err != nil {
		return nil, a.fail(err)
	}
	pubkey := a.identity()

	// The shared fetch must not die with whichever caller started it; the
	// relay timeouts still bound it.
	ch := a.fetchGroup.DoChan(pubkey, func() (interface{}, error) {
		return a.fetch(context.WithoutCancel(ctx), pubkey)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, a.fail(ctx.Err())
	}
	if res.Err != nil {
		return nil, a.fail(res.Err)
	}
	if res.Shared {
		slog.Debug("list fetch coalesced", "author", nostr.ShortID(pubkey))
	}

	summaries := lists.Summaries(res.Val.(map[string]types.Event))
	if len(summaries) == 0 {
		a.view.Status(LevelInfo, "no lists found")
	} else {
		a.view.Status(LevelSuccess, fmt.Sprintf("found %d lists", len(summaries)))
	}
	a.view.Lists(summaries)
	return summaries, nil
}

func (a *App) fetch(ctx context.Context, pubkey string) (map[string]types.Event, error) {
	if err := a.relay.Connect(ctx, a.relay.PreferLast(a.endpoints)); err != nil {
		return nil, err
	}

	res, err := a.relay.Fetch(ctx, types.Filter{
		Kinds:   []int{types.KindCategorizedPeopleList},
		Authors: []string{pubkey},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch lists: %w", err)
	}
	if res.Partial {
		a.view.Status(LevelInfo, "relay did not finish in time, showing partial results")
	}

	// relays are not trusted to honour the authors filter
	own := make([]types.Event, 0, len(res.Events))
	for _, evt := range res.Events {
		if evt.PubKey == pubkey && evt.Kind == types.KindCategorizedPeopleList {
			own = append(own, evt)
		}
	}
	index := lists.IndexLatestByIdentifier(own)
	slog.Info("fetched lists", "relay", res.Relay, "events", len(res.Events), "lists", len(index))

	a.mu.Lock()
	a.index = index
	a.mu.Unlock()
	return index, nil
}

// BeginEdit decodes the newest revision of listID. The private part is only
// decrypted when the credentials can decrypt; otherwise the revision is
// returned Locked.
func (a *App) BeginEdit(ctx context.Context, listID string) (*lists.Revision, error) {
	if err := a.require(StateReadOnly, "edit"); err != nil {
		return nil, a.fail(err)
	}

	a.mu.Lock()
	evt, ok := a.index[listID]
	a.mu.Unlock()
	if !ok {
		return nil, a.fail(fmt.Errorf("%w: %q", ErrUnknownList, listID))
	}

	var rev *lists.Revision
	var err error
	if a.creds.CanDecrypt() {
		rev, err = lists.DecodeRevision(&evt, a.identity(), a.decryptFunc(ctx))
	} else {
		rev, err = lists.DecodePublic(&evt)
	}
	if err != nil {
		return nil, a.fail(fmt.Errorf("decode %q: %w", listID, err))
	}

	if rev.Locked {
		a.view.Status(LevelInfo, "private members are encrypted; provide a secret or bunker to decrypt them")
	} else {
		a.view.Status(LevelSuccess, fmt.Sprintf("decoded %q", listID))
	}
	a.view.Revision(rev)
	return rev, nil
}

// BuildRevision encodes and signs a draft. The signed event is shown and
// kept as the default for PublishRevision.
func (a *App) BuildRevision(ctx context.Context, draft Draft) (*types.Event, error) {
	if err := a.require(StateCanWrite, "build"); err != nil {
		return nil, a.fail(err)
	}
	if len(draft.Public) == 0 && len(draft.Private) == 0 {
		return nil, a.fail(ErrEmptyMembers)
	}

	unsigned, err := lists.EncodeRevision(draft.ListID, draft.Public, draft.Private, a.encryptFunc(ctx))
	if err != nil {
		return nil, a.fail(err)
	}
	unsigned.PubKey = a.identity()

	evt, err := a.creds.Sign(ctx, *unsigned)
	if err != nil {
		return nil, a.fail(err)
	}

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return nil, a.fail(err)
	}

	a.mu.Lock()
	a.built = evt
	a.mu.Unlock()

	a.view.SignedEvent(data)
	a.view.Status(LevelSuccess, fmt.Sprintf("signed revision %s of %q", nostr.ShortID(evt.ID), draft.ListID))
	return evt, nil
}

// PublishRevision sends evt, or the last built revision when evt is nil.
// It is never retried. A missing acknowledgement is reported as ambiguous.
func (a *App) PublishRevision(ctx context.Context, evt *types.Event) (relay.PublishResult, error) {
	if err := a.require(StateCanWrite, "publish"); err != nil {
		return relay.PublishResult{}, a.fail(err)
	}

	if evt == nil {
		a.mu.Lock()
		evt = a.built
		a.mu.Unlock()
	}
	if evt == nil {
		return relay.PublishResult{}, a.fail(ErrNothingToPublish)
	}
	if err := nostr.ValidateEvent(evt); err != nil {
		return relay.PublishResult{}, a.fail(fmt.Errorf("refusing to publish: %w", err))
	}
	if evt.PubKey != a.identity() {
		return relay.PublishResult{}, a.fail(fmt.Errorf("refusing to publish: %w", lists.ErrAuthorMismatch))
	}

	if err := a.relay.Connect(ctx, a.relay.PreferLast(a.endpoints)); err != nil {
		return relay.PublishResult{}, a.fail(err)
	}
	res, err := a.relay.Publish(ctx, evt)
	if err != nil {
		return res, a.fail(fmt.Errorf("publish: %w", err))
	}

	if res.Ambiguous {
		a.view.Status(LevelInfo, fmt.Sprintf("%s did not acknowledge %s in time; it may still have been stored", res.Relay, nostr.ShortID(evt.ID)))
		return res, nil
	}

	a.remember(*evt)
	a.view.Status(LevelSuccess, fmt.Sprintf("published %s to %s", nostr.ShortID(evt.ID), res.Relay))
	return res, nil
}

// remember folds a published event into the index
func (a *App) remember(evt types.Event) {
	listID, ok := evt.TagValue(types.TagListID)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if current, exists := a.index[listID]; exists && current.CreatedAt > evt.CreatedAt {
		return
	}
	a.index[listID] = evt
}

// ParseSignedEvent reads a previously generated list event and checks its
// id and signature
func ParseSignedEvent(data []byte) (*types.Event, error) {
	var evt types.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if evt.Kind != types.KindCategorizedPeopleList {
		return nil, fmt.Errorf("%w: kind %d", lists.ErrWrongKind, evt.Kind)
	}
	if err := nostr.ValidateEvent(&evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

func (a *App) encryptFunc(ctx context.Context) lists.CryptFunc {
	return func(peer, text string) (string, error) {
		return a.creds.Encrypt(ctx, peer, text)
	}
}

func (a *App) decryptFunc(ctx context.Context) lists.CryptFunc {
	return func(peer, text string) (string, error) {
		return a.creds.Decrypt(ctx, peer, text)
	}
}
