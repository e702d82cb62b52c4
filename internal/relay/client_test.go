package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-lists/internal/types"
)

func connectedClient(t *testing.T, opts Options, endpoints ...string) *Client {
	t.Helper()
	c := NewClient(opts)
	require.NoError(t, c.Connect(context.Background(), endpoints))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientFetchAfterFailover(t *testing.T) {
	relay := newMockRelay(t)
	stored := signedListEvent(t, "friends", 100)
	relay.store(stored)

	// nothing listens on port 1, so the first endpoint fails fast
	c := connectedClient(t, Options{HandshakeTimeout: time.Second}, "ws://127.0.0.1:1", relay.URL())
	assert.Equal(t, relay.URL(), c.Manager().Endpoint())

	res, err := c.Fetch(context.Background(), listFilter)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Equal(t, relay.URL(), res.Relay)
	require.Len(t, res.Events, 1)
	assert.Equal(t, stored.ID, res.Events[0].ID)
	assert.Equal(t, 0, c.Registry().Pending())

	counters := c.Metrics().Snapshot()
	assert.Equal(t, int64(1), counters["failovers"])
	assert.GreaterOrEqual(t, counters["frames_in"], int64(2))
	assert.GreaterOrEqual(t, counters["frames_out"], int64(1))
	assert.Zero(t, counters["invalid_events"])
}

func TestClientFetchTimesOutWithoutEvents(t *testing.T) {
	relay := newMockRelay(t)
	relay.set(func(m *mockRelay) { m.silent = true })

	c := connectedClient(t, Options{SubscriptionTimeout: 50 * time.Millisecond}, relay.URL())
	_, err := c.Fetch(context.Background(), listFilter)
	assert.ErrorIs(t, err, ErrSubscriptionTimeout)
}

func TestClientFetchNotConnected(t *testing.T) {
	c := NewClient(Options{})
	_, err := c.Fetch(context.Background(), listFilter)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientFetchCancelled(t *testing.T) {
	relay := newMockRelay(t)
	relay.set(func(m *mockRelay) { m.silent = true })
	c := connectedClient(t, Options{SubscriptionTimeout: time.Minute}, relay.URL())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Fetch(ctx, listFilter)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Registry().Pending())
}

func TestClientPublish(t *testing.T) {
	relay := newMockRelay(t)
	c := connectedClient(t, Options{}, relay.URL())

	evt := signedListEvent(t, "friends", 100)
	res, err := c.Publish(context.Background(), &evt)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, evt.ID, res.EventID)

	require.Len(t, relay.stored(), 1)
	assert.Equal(t, evt.ID, relay.stored()[0].ID)
}

func TestClientPublishRejected(t *testing.T) {
	relay := newMockRelay(t)
	relay.set(func(m *mockRelay) { m.rejectWith = "blocked: not allowed" })
	c := connectedClient(t, Options{}, relay.URL())

	evt := signedListEvent(t, "friends", 100)
	res, err := c.Publish(context.Background(), &evt)
	assert.ErrorIs(t, err, ErrPublishRejected)
	assert.False(t, res.Accepted)
	assert.Equal(t, "blocked: not allowed", res.Message)
	assert.Empty(t, relay.stored())
}

func TestClientPublishAmbiguousOnAckTimeout(t *testing.T) {
	relay := newMockRelay(t)
	relay.set(func(m *mockRelay) { m.silent = true })
	c := connectedClient(t, Options{PublishTimeout: 50 * time.Millisecond}, relay.URL())

	evt := signedListEvent(t, "friends", 100)
	res, err := c.Publish(context.Background(), &evt)
	require.NoError(t, err)
	assert.True(t, res.Ambiguous)
	assert.False(t, res.Accepted)
}

func TestClientPublishNotConnected(t *testing.T) {
	c := NewClient(Options{})
	evt := signedListEvent(t, "friends", 100)
	_, err := c.Publish(context.Background(), &evt)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, c.Registry().Pending())
}

func TestClientConnectionLossResolvesFetch(t *testing.T) {
	relay := newMockRelay(t)
	relay.set(func(m *mockRelay) { m.dropOnReq = true })
	c := connectedClient(t, Options{SubscriptionTimeout: 5 * time.Second}, relay.URL())

	_, err := c.Fetch(context.Background(), listFilter)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.False(t, c.Manager().IsConnected())
}

func TestClientCloseResolvesPending(t *testing.T) {
	relay := newMockRelay(t)
	relay.set(func(m *mockRelay) { m.silent = true })
	c := connectedClient(t, Options{SubscriptionTimeout: time.Minute}, relay.URL())

	errs := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), types.Filter{Kinds: []int{types.KindCategorizedPeopleList}})
		errs <- err
	}()
	require.Eventually(t, func() bool { return c.Registry().Pending() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("fetch did not return after close")
	}
}

func TestNewSubscriptionID(t *testing.T) {
	a := NewSubscriptionID("lists")
	b := NewSubscriptionID("lists")
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("lists-")+8)
	assert.Len(t, NewSubscriptionID(""), 8)
}
