package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// DefaultHandshakeTimeout bounds each endpoint's handshake during Connect
const DefaultHandshakeTimeout = 10 * time.Second

// Manager owns at most one live transport at a time. Connect tries endpoints
// in order and stops at the first that opens; the endpoint that opened is
// retained so later calls can prefer it.
type Manager struct {
	dialer           Dialer
	handshakeTimeout time.Duration
	metrics          *Metrics

	state atomic.Int32

	connectMu sync.Mutex
	writeMu   sync.Mutex

	mu           sync.Mutex
	conn         Transport
	live         string
	last         string
	onFrame      func([]byte)
	onDisconnect func(error)
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithDialer replaces the websocket dialer, mostly for tests
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithHandshakeTimeout sets the per-endpoint handshake bound
func WithHandshakeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.handshakeTimeout = d
		}
	}
}

// WithMetrics shares a counter set with the manager
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// NewManager creates an idle manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		dialer:           WebsocketDialer{},
		handshakeTimeout: DefaultHandshakeTimeout,
		metrics:          &Metrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnFrame sets the sink for inbound frames. It is called from the read goroutine.
func (m *Manager) OnFrame(fn func([]byte)) {
	m.mu.Lock()
	m.onFrame = fn
	m.mu.Unlock()
}

// OnDisconnect sets the callback run when the transport drops unexpectedly
func (m *Manager) OnDisconnect(fn func(error)) {
	m.mu.Lock()
	m.onDisconnect = fn
	m.mu.Unlock()
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Connect opens a transport to the first reachable endpoint. It is a no-op
// when a connection is already open.
func (m *Manager) Connect(ctx context.Context, endpoints []string) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.IsConnected() {
		return nil
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("%w: no relays configured", ErrAllRelaysUnreachable)
	}

	m.setState(StateConnecting)
	var errs []error
	for _, endpoint := range endpoints {
		if err := ctx.Err(); err != nil {
			m.setState(StateClosed)
			return err
		}

		dialCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
		start := time.Now()
		conn, err := m.dialer.Dial(dialCtx, endpoint)
		cancel()
		if err != nil {
			slog.Warn("relay unreachable, trying next", "relay", endpoint, "error", err)
			m.metrics.Failovers.Inc()
			errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.live = endpoint
		m.last = endpoint
		m.setState(StateOpen)
		m.mu.Unlock()

		slog.Info("connected to relay", "relay", endpoint, "duration", time.Since(start))
		go m.readLoop(conn, endpoint)
		return nil
	}

	m.setState(StateClosed)
	return fmt.Errorf("%w: %w", ErrAllRelaysUnreachable, errors.Join(errs...))
}

// IsConnected is true only while the transport is open and is the one
// retained from the last successful Connect.
func (m *Manager) IsConnected() bool {
	if m.State() != StateOpen {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.live != "" && m.live == m.last
}

// Endpoint returns the endpoint of the last successful Connect
func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// PreferLast returns endpoints with the retained endpoint moved to the front.
// Endpoints that are not in the list are never added.
func (m *Manager) PreferLast(endpoints []string) []string {
	last := m.Endpoint()
	ordered := make([]string, 0, len(endpoints))
	found := false
	for _, endpoint := range endpoints {
		if endpoint == last {
			found = true
			continue
		}
		ordered = append(ordered, endpoint)
	}
	if !found {
		return append([]string(nil), endpoints...)
	}
	return append([]string{last}, ordered...)
}

// SendFrame serializes frame and writes it to the open transport
func (m *Manager) SendFrame(frame interface{}) error {
	m.mu.Lock()
	conn := m.conn
	endpoint := m.live
	m.mu.Unlock()
	if conn == nil || m.State() != StateOpen {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("write to %s: %w", endpoint, err)
	}
	m.metrics.FramesOut.Inc()
	return nil
}

// Close shuts the transport down. Safe to call at any time and more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	endpoint := m.live
	m.conn = nil
	m.live = ""
	if conn == nil {
		m.setState(StateClosed)
		m.mu.Unlock()
		return nil
	}
	m.setState(StateClosing)
	m.mu.Unlock()

	err := conn.Close()

	// a Connect racing with Close may already own a new transport
	m.mu.Lock()
	if m.conn == nil {
		m.setState(StateClosed)
	}
	m.mu.Unlock()
	slog.Debug("relay connection closed", "relay", endpoint)
	return err
}

func (m *Manager) readLoop(conn Transport, endpoint string) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			current := m.conn == conn
			if current {
				m.conn = nil
				m.live = ""
				m.setState(StateClosed)
			}
			handler := m.onDisconnect
			m.mu.Unlock()

			// Close() already detached the transport; nothing to report
			if !current {
				return
			}
			conn.Close()
			slog.Warn("relay connection lost", "relay", endpoint, "error", err)
			if handler != nil {
				handler(fmt.Errorf("%w: %s: %v", ErrConnectionLost, endpoint, err))
			}
			return
		}

		m.metrics.FramesIn.Inc()
		m.mu.Lock()
		sink := m.onFrame
		m.mu.Unlock()
		if sink != nil {
			sink(data)
		}
	}
}
