// Package bunker talks to a NIP-46 remote signer. A connected Session
// signs events and performs nip04 encryption with a key it never sees.
package bunker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nostr-lists/internal/nips"
	"nostr-lists/internal/nostr"
	"nostr-lists/internal/relay"
	"nostr-lists/internal/types"
)

// KindRequest is the NIP-46 request/response event kind
const KindRequest = 24133

const (
	DefaultResponseTimeout = 30 * time.Second

	// Rate limiting for sign operations
	signRateLimit  = 10
	signRateWindow = 1 * time.Minute
)

var (
	ErrNotConnected    = errors.New("not connected to bunker")
	ErrResponseTimeout = errors.New("timeout waiting for bunker response")
	ErrRateLimited     = errors.New("rate limit exceeded: too many sign requests")
	ErrUnexpectedReply = errors.New("unexpected bunker response")
)

// Request is a JSON-RPC request to the remote signer
type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// Response is a JSON-RPC response from the remote signer
type Response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Conn is the relay connection a Session talks through. *relay.Client
// satisfies it.
type Conn interface {
	Connect(ctx context.Context, endpoints []string) error
	Stream(id string, filter types.Filter, onEvent func(types.Event), onDone relay.Handler) error
	Publish(ctx context.Context, evt *types.Event) (relay.PublishResult, error)
	Close() error
}

// Session is one connection to a remote signer using a disposable client key
type Session struct {
	url             *URL
	conn            Conn
	clientKey       []byte
	clientPubkey    string
	conversationKey []byte
	timeout         time.Duration

	mu         sync.Mutex
	pending    map[string]chan Response
	connected  bool
	userPubkey string
	signTimes  []time.Time
}

// Option configures a Session
type Option func(*Session)

// WithResponseTimeout bounds how long each request waits for the signer
func WithResponseTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSession prepares a session. Nothing is sent until Connect.
func NewSession(u *URL, conn Conn, opts ...Option) (*Session, error) {
	clientKey, err := nips.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client keypair: %w", err)
	}
	clientPubkey, err := nostr.PublicKeyHex(clientKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	conversationKey, err := nips.Nip44ConversationKey(clientKey, u.SignerPubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute conversation key: %w", err)
	}

	s := &Session{
		url:             u,
		conn:            conn,
		clientKey:       clientKey,
		clientPubkey:    clientPubkey,
		conversationKey: conversationKey,
		timeout:         DefaultResponseTimeout,
		pending:         make(map[string]chan Response),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ClientPubkey is the disposable key the signer sees requests from
func (s *Session) ClientPubkey() string {
	return s.clientPubkey
}

// Connect opens the relay connection, subscribes to responses addressed to
// the client key and performs the connect/get_public_key handshake.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.conn.Connect(ctx, s.url.Relays); err != nil {
		return fmt.Errorf("bunker relays: %w", err)
	}

	since := time.Now().Unix() - 10
	filter := types.Filter{
		Kinds: []int{KindRequest},
		PTags: []string{s.clientPubkey},
		Since: &since,
	}
	if err := s.conn.Stream(relay.NewSubscriptionID("nip46"), filter, s.handleEvent, s.handleDone); err != nil {
		return fmt.Errorf("subscribe to bunker responses: %w", err)
	}

	params := []string{s.url.SignerPubkey}
	if s.url.Secret != "" {
		params = append(params, s.url.Secret)
	}
	result, err := s.call(ctx, "connect", params)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	// Verify response (should be "ack" or the secret)
	if result != "ack" && (s.url.Secret == "" || result != s.url.Secret) {
		return fmt.Errorf("%w to connect: %s", ErrUnexpectedReply, result)
	}

	userPubkey, err := s.call(ctx, "get_public_key", []string{})
	if err != nil {
		return fmt.Errorf("get_public_key failed: %w", err)
	}
	if b, err := hex.DecodeString(userPubkey); err != nil || len(b) != 32 {
		return fmt.Errorf("%w: invalid user pubkey %q", ErrUnexpectedReply, userPubkey)
	}

	s.mu.Lock()
	s.userPubkey = userPubkey
	s.connected = true
	s.mu.Unlock()

	slog.Info("connected to bunker", "signer", nostr.ShortID(s.url.SignerPubkey), "user", nostr.ShortID(userPubkey))
	return nil
}

// Close drops the relay connection. Pending requests fail.
func (s *Session) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return s.conn.Close()
}

// PublicKey returns the user's public key learned during Connect
func (s *Session) PublicKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", ErrNotConnected
	}
	return s.userPubkey, nil
}

// SignEvent asks the signer to sign unsigned
func (s *Session) SignEvent(ctx context.Context, unsigned types.UnsignedEvent) (*types.Event, error) {
	if err := s.checkSignRateLimit(); err != nil {
		return nil, err
	}

	eventJSON, err := json.Marshal(unsigned)
	if err != nil {
		return nil, err
	}
	result, err := s.call(ctx, "sign_event", []string{string(eventJSON)})
	if err != nil {
		return nil, fmt.Errorf("sign_event failed: %w", err)
	}

	var signed types.Event
	if err := json.Unmarshal([]byte(result), &signed); err != nil {
		return nil, fmt.Errorf("failed to parse signed event: %w", err)
	}
	return &signed, nil
}

// Encrypt forwards to nip04_encrypt with the arguments in the order given
func (s *Session) Encrypt(ctx context.Context, a, b string) (string, error) {
	return s.call(ctx, "nip04_encrypt", []string{a, b})
}

// Decrypt forwards to nip04_decrypt with the arguments in the order given
func (s *Session) Decrypt(ctx context.Context, a, b string) (string, error) {
	return s.call(ctx, "nip04_decrypt", []string{a, b})
}

// checkSignRateLimit returns an error if the session has exceeded the sign rate limit
func (s *Session) checkSignRateLimit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}

	now := time.Now()
	cutoff := now.Add(-signRateWindow)
	valid := s.signTimes[:0]
	for _, t := range s.signTimes {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	s.signTimes = valid

	if len(s.signTimes) >= signRateLimit {
		return ErrRateLimited
	}
	s.signTimes = append(s.signTimes, now)
	return nil
}

func (s *Session) call(ctx context.Context, method string, params []string) (string, error) {
	reqIDBytes := make([]byte, 8)
	if _, err := rand.Read(reqIDBytes); err != nil {
		return "", fmt.Errorf("failed to generate request ID: %w", err)
	}
	reqID := hex.EncodeToString(reqIDBytes)

	requestJSON, err := json.Marshal(Request{ID: reqID, Method: method, Params: params})
	if err != nil {
		return "", err
	}
	content, err := nips.Nip44Encrypt(string(requestJSON), s.conversationKey)
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}
	evt, err := nostr.FinalizeEvent(s.clientKey, types.UnsignedEvent{
		CreatedAt: time.Now().Unix(),
		Kind:      KindRequest,
		Tags:      [][]string{{"p", s.url.SignerPubkey}},
		Content:   content,
	})
	if err != nil {
		return "", err
	}

	ch := make(chan Response, 1)
	s.mu.Lock()
	s.pending[reqID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}()

	if _, err := s.conn.Publish(ctx, evt); err != nil {
		return "", fmt.Errorf("publish %s request: %w", method, err)
	}
	slog.Debug("bunker request sent", "method", method, "req_id", reqID)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return "", errors.New(resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		return "", fmt.Errorf("%w: %s", ErrResponseTimeout, method)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) handleEvent(evt types.Event) {
	if evt.Kind != KindRequest || evt.PubKey != s.url.SignerPubkey {
		return
	}

	decrypted, err := nips.Nip44Decrypt(evt.Content, s.conversationKey)
	if err != nil {
		slog.Warn("failed to decrypt bunker response", "event_id", nostr.ShortID(evt.ID), "error", err)
		return
	}
	var resp Response
	if err := json.Unmarshal([]byte(decrypted), &resp); err != nil {
		slog.Warn("failed to parse bunker response", "event_id", nostr.ShortID(evt.ID), "error", err)
		return
	}

	// The signer wants the user to approve in a browser; the real answer follows
	if resp.Result == "auth_url" {
		slog.Warn("bunker requires authorization, open the URL to approve", "url", resp.Error)
		return
	}

	s.mu.Lock()
	ch := s.pending[resp.ID]
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (s *Session) handleDone(res relay.Result) {
	s.mu.Lock()
	s.connected = false
	var waiting []chan Response
	for id, ch := range s.pending {
		waiting = append(waiting, ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	msg := ErrNotConnected.Error()
	if res.Err != nil {
		msg = res.Err.Error()
	}
	for _, ch := range waiting {
		select {
		case ch <- Response{Error: msg}:
		default:
		}
	}
	if res.Reason != relay.ReasonUnsubscribed {
		slog.Warn("bunker subscription ended", "reason", res.Reason.String())
	}
}
