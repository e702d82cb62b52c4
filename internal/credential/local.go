package credential

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-lists/internal/nips"
	"nostr-lists/internal/nostr"
	"nostr-lists/internal/types"
)

// Scheme selects the local encryption routine
type Scheme string

const (
	SchemeNIP04 Scheme = "nip04"
	SchemeNIP44 Scheme = "nip44"
)

// ParseScheme accepts "nip04", "nip44" or empty (nip04)
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeNIP04:
		return SchemeNIP04, nil
	case SchemeNIP44:
		return SchemeNIP44, nil
	}
	return "", fmt.Errorf("unknown encryption scheme %q", s)
}

// LocalKey holds a user-supplied secret and the identity derived from it
type LocalKey struct {
	secret []byte
	pubkey string
	scheme Scheme
}

// ParseSecret decodes an nsec1... or 64-char hex secret
func ParseSecret(input string, scheme Scheme) (*LocalKey, error) {
	input = strings.TrimSpace(input)
	var secret []byte
	var err error
	if strings.HasPrefix(input, "nsec1") {
		secret, err = nips.DecodeSecretKey(input)
	} else {
		secret, err = hex.DecodeString(input)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid secret: %w", err)
	}
	if len(secret) != 32 {
		return nil, errors.New("invalid secret: must be 32 bytes")
	}
	if isZero(secret) {
		return nil, errors.New("invalid secret: zero key")
	}

	pubkey, err := nostr.PublicKeyHex(secret)
	if err != nil {
		return nil, err
	}
	if scheme == "" {
		scheme = SchemeNIP04
	}
	return &LocalKey{secret: secret, pubkey: pubkey, scheme: scheme}, nil
}

// ParsePublicKey decodes an npub1... or 64-char hex public key
func ParsePublicKey(input string) (string, error) {
	input = strings.TrimSpace(input)
	pubkey := strings.ToLower(input)
	if strings.HasPrefix(input, "npub1") {
		decoded, err := nips.DecodePubkey(input)
		if err != nil {
			return "", fmt.Errorf("invalid npub: %w", err)
		}
		pubkey = decoded
	}
	raw, err := hex.DecodeString(pubkey)
	if err != nil || len(raw) != 32 {
		return "", errors.New("invalid public key: must be npub or 64 hex chars")
	}
	if _, err := schnorr.ParsePubKey(raw); err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return pubkey, nil
}

// PublicKey returns the hex public key
func (k *LocalKey) PublicKey() string {
	return k.pubkey
}

// Sign finalizes the event with the local secret
func (k *LocalKey) Sign(unsigned types.UnsignedEvent) (*types.Event, error) {
	return nostr.FinalizeEvent(k.secret, unsigned)
}

// Encrypt encrypts plaintext for peer with the configured scheme
func (k *LocalKey) Encrypt(peer, plaintext string) (string, error) {
	if k.scheme == SchemeNIP44 {
		key, err := nips.Nip44ConversationKey(k.secret, peer)
		if err != nil {
			return "", err
		}
		return nips.Nip44Encrypt(plaintext, key)
	}
	shared, err := nips.Nip04SharedSecret(k.secret, peer)
	if err != nil {
		return "", err
	}
	return nips.Nip04Encrypt(plaintext, shared)
}

// Decrypt decrypts a payload from peer. The scheme is detected from the
// payload: NIP-04 payloads carry an "?iv=" suffix.
func (k *LocalKey) Decrypt(peer, ciphertext string) (string, error) {
	if strings.Contains(ciphertext, "?iv=") {
		shared, err := nips.Nip04SharedSecret(k.secret, peer)
		if err != nil {
			return "", err
		}
		return nips.Nip04Decrypt(ciphertext, shared)
	}
	key, err := nips.Nip44ConversationKey(k.secret, peer)
	if err != nil {
		return "", err
	}
	return nips.Nip44Decrypt(ciphertext, key)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
