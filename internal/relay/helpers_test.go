package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"nostr-lists/internal/nostr"
	"nostr-lists/internal/types"
)

const testPrivKey = "edc90d06fee17615229c8526dc005d959e4af3bdc0b48c5776c951bcafedec85"

func signedListEvent(t *testing.T, listID string, createdAt int64) types.Event {
	t.Helper()
	priv, err := hex.DecodeString(testPrivKey)
	require.NoError(t, err)
	evt, err := nostr.FinalizeEvent(priv, types.UnsignedEvent{
		CreatedAt: createdAt,
		Kind:      types.KindCategorizedPeopleList,
		Tags:      [][]string{{types.TagListID, listID}},
		Content:   "ciphertext",
	})
	require.NoError(t, err)
	return *evt
}

func frame(t *testing.T, parts ...interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(parts)
	require.NoError(t, err)
	return data
}

// fakeTransport is an in-memory Transport. Closing inbound simulates the
// relay dropping the connection.
type fakeTransport struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-f.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-f.closed:
		return nil, net.ErrClosed
	}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, data := range f.written {
		var msg []interface{}
		if json.Unmarshal(data, &msg) == nil && len(msg) > 0 {
			label, _ := msg[0].(string)
			out = append(out, label)
		}
	}
	return out
}

type fakeDialer struct {
	mu         sync.Mutex
	dialed     []string
	transports map[string]*fakeTransport
	hang       map[string]bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		transports: make(map[string]*fakeTransport),
		hang:       make(map[string]bool),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, endpoint)
	transport := d.transports[endpoint]
	hang := d.hang[endpoint]
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if transport == nil {
		return nil, errors.New("connection refused")
	}
	return transport, nil
}

func (d *fakeDialer) attempts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

// fakeSender records frames written by a Registry
type fakeSender struct {
	mu        sync.Mutex
	frames    []types.NostrMessage
	err       error
	connected bool
}

func (s *fakeSender) SendFrame(f interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f.(types.NostrMessage))
	return nil
}

func (s *fakeSender) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSender) labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, f := range s.frames {
		out = append(out, f[0].(string))
	}
	return out
}

// mockRelay is a websocket relay that stores published events and replays
// them to subscriptions, followed by EOSE.
type mockRelay struct {
	server *httptest.Server

	mu       sync.Mutex
	events   []types.Event
	received []string

	// silent relays never answer EVENT or REQ
	silent bool
	// rejectWith makes the relay answer EVENT with OK false
	rejectWith string
	// dropOnReq closes the connection as soon as a REQ arrives
	dropOnReq bool
}

func newMockRelay(t *testing.T) *mockRelay {
	t.Helper()
	m := &mockRelay{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		m.serve(conn)
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockRelay) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *mockRelay) set(fn func(*mockRelay)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *mockRelay) store(evt types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockRelay) stored() []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Event(nil), m.events...)
}

func (m *mockRelay) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg []json.RawMessage
		if json.Unmarshal(data, &msg) != nil || len(msg) < 2 {
			continue
		}
		var label string
		json.Unmarshal(msg[0], &label)

		m.mu.Lock()
		m.received = append(m.received, label)
		silent, reject, drop := m.silent, m.rejectWith, m.dropOnReq
		m.mu.Unlock()

		switch label {
		case LabelReq:
			if drop {
				return
			}
			if silent {
				continue
			}
			var subID string
			json.Unmarshal(msg[1], &subID)
			for _, evt := range m.stored() {
				conn.WriteJSON([]interface{}{LabelEvent, subID, evt})
			}
			conn.WriteJSON([]interface{}{LabelEOSE, subID})
		case LabelEvent:
			if silent {
				continue
			}
			var evt types.Event
			json.Unmarshal(msg[1], &evt)
			if reject != "" {
				conn.WriteJSON([]interface{}{LabelOK, evt.ID, false, reject})
				continue
			}
			m.store(evt)
			conn.WriteJSON([]interface{}{LabelOK, evt.ID, true, ""})
		}
	}
}
