package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectFailsOverInOrder(t *testing.T) {
	dialer := newFakeDialer()
	dialer.transports["wss://b.example"] = newFakeTransport()
	dialer.transports["wss://c.example"] = newFakeTransport()

	m := NewManager(WithDialer(dialer))
	assert.Equal(t, StateIdle, m.State())

	err := m.Connect(context.Background(), []string{"wss://a.example", "wss://b.example", "wss://c.example"})
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, dialer.attempts())
	assert.Equal(t, "wss://b.example", m.Endpoint())
	assert.Equal(t, StateOpen, m.State())
	assert.True(t, m.IsConnected())
	assert.Equal(t, int64(1), m.metrics.Failovers.Load())
}

func TestConnectReusesOpenConnection(t *testing.T) {
	dialer := newFakeDialer()
	dialer.transports["wss://a.example"] = newFakeTransport()
	m := NewManager(WithDialer(dialer))
	defer m.Close()

	require.NoError(t, m.Connect(context.Background(), []string{"wss://a.example"}))
	require.NoError(t, m.Connect(context.Background(), []string{"wss://a.example"}))
	assert.Len(t, dialer.attempts(), 1)
}

func TestConnectAllUnreachable(t *testing.T) {
	m := NewManager(WithDialer(newFakeDialer()))

	err := m.Connect(context.Background(), []string{"wss://a.example", "wss://b.example"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllRelaysUnreachable))
	assert.Contains(t, err.Error(), "wss://b.example")
	assert.Equal(t, StateClosed, m.State())
	assert.False(t, m.IsConnected())
	assert.Empty(t, m.Endpoint())
}

func TestConnectEmptyEndpointList(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(WithDialer(dialer))

	err := m.Connect(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrAllRelaysUnreachable))
	assert.Empty(t, dialer.attempts())
}

func TestConnectBoundsEachHandshake(t *testing.T) {
	dialer := newFakeDialer()
	dialer.hang["wss://slow.example"] = true
	dialer.transports["wss://fast.example"] = newFakeTransport()

	m := NewManager(WithDialer(dialer), WithHandshakeTimeout(50*time.Millisecond))
	defer m.Close()

	start := time.Now()
	require.NoError(t, m.Connect(context.Background(), []string{"wss://slow.example", "wss://fast.example"}))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "wss://fast.example", m.Endpoint())
}

func TestConnectHonoursCancelledContext(t *testing.T) {
	dialer := newFakeDialer()
	dialer.transports["wss://a.example"] = newFakeTransport()
	m := NewManager(WithDialer(dialer))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Connect(ctx, []string{"wss://a.example"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dialer.attempts())
	assert.Equal(t, StateClosed, m.State())
}

func TestSendFrameRequiresOpenConnection(t *testing.T) {
	m := NewManager(WithDialer(newFakeDialer()))
	assert.ErrorIs(t, m.SendFrame(CloseFrame("x")), ErrNotConnected)

	transport := newFakeTransport()
	dialer := newFakeDialer()
	dialer.transports["wss://a.example"] = transport
	m = NewManager(WithDialer(dialer))
	require.NoError(t, m.Connect(context.Background(), []string{"wss://a.example"}))

	require.NoError(t, m.SendFrame(CloseFrame("x")))
	assert.Equal(t, []string{LabelClose}, transport.labels())
	assert.Equal(t, int64(1), m.metrics.FramesOut.Load())

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.SendFrame(CloseFrame("y")), ErrNotConnected)
	assert.Len(t, transport.labels(), 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	dialer := newFakeDialer()
	dialer.transports["wss://a.example"] = newFakeTransport()
	m := NewManager(WithDialer(dialer))

	require.NoError(t, m.Close())
	assert.Equal(t, StateClosed, m.State())

	require.NoError(t, m.Connect(context.Background(), []string{"wss://a.example"}))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, StateClosed, m.State())
	assert.False(t, m.IsConnected())
	assert.Equal(t, "wss://a.example", m.Endpoint(), "last endpoint is retained after close")
}

func TestStateMatchesConnectionUnderConcurrentClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		dialer := newFakeDialer()
		dialer.transports["wss://a.example"] = newFakeTransport()
		m := NewManager(WithDialer(dialer))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Connect(context.Background(), []string{"wss://a.example"})
		}()
		go func() {
			defer wg.Done()
			_ = m.Close()
		}()
		wg.Wait()

		require.Equal(t, m.IsConnected(), m.State() == StateOpen, "state %s", m.State())
		require.NoError(t, m.Close())
		assert.Equal(t, StateClosed, m.State())
	}
}

func TestPreferLast(t *testing.T) {
	dialer := newFakeDialer()
	dialer.transports["wss://b.example"] = newFakeTransport()
	m := NewManager(WithDialer(dialer))

	endpoints := []string{"wss://a.example", "wss://b.example", "wss://c.example"}
	assert.Equal(t, endpoints, m.PreferLast(endpoints))

	require.NoError(t, m.Connect(context.Background(), endpoints))
	defer m.Close()
	assert.Equal(t, []string{"wss://b.example", "wss://a.example", "wss://c.example"}, m.PreferLast(endpoints))
	assert.Equal(t, []string{"wss://x.example"}, m.PreferLast([]string{"wss://x.example"}))
}

func TestInboundFramesReachSink(t *testing.T) {
	transport := newFakeTransport()
	dialer := newFakeDialer()
	dialer.transports["wss://a.example"] = transport
	m := NewManager(WithDialer(dialer))

	got := make(chan []byte, 1)
	m.OnFrame(func(data []byte) { got <- data })
	require.NoError(t, m.Connect(context.Background(), []string{"wss://a.example"}))
	defer m.Close()

	transport.inbound <- []byte(`["NOTICE","hello"]`)
	select {
	case data := <-got:
		assert.Equal(t, `["NOTICE","hello"]`, string(data))
	case <-time.After(time.Second):
		t.Fatal("frame was not delivered")
	}
}

func TestConnectionLossNotifiesOnce(t *testing.T) {
	transport := newFakeTransport()
	dialer := newFakeDialer()
	dialer.transports["wss://a.example"] = transport
	m := NewManager(WithDialer(dialer))

	lost := make(chan error, 2)
	m.OnDisconnect(func(err error) { lost <- err })
	require.NoError(t, m.Connect(context.Background(), []string{"wss://a.example"}))

	close(transport.inbound)
	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("disconnect was not reported")
	}
	assert.Equal(t, StateClosed, m.State())
	assert.False(t, m.IsConnected())
	assert.ErrorIs(t, m.SendFrame(CloseFrame("x")), ErrNotConnected)
	assert.Empty(t, lost)
}

func TestExplicitCloseIsNotReportedAsLoss(t *testing.T) {
	transport := newFakeTransport()
	dialer := newFakeDialer()
	dialer.transports["wss://a.example"] = transport
	m := NewManager(WithDialer(dialer))

	lost := make(chan error, 1)
	m.OnDisconnect(func(err error) { lost <- err })
	require.NoError(t, m.Connect(context.Background(), []string{"wss://a.example"}))
	require.NoError(t, m.Close())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, lost)
}
