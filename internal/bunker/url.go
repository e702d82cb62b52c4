package bunker

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-lists/internal/nostr"
)

var ErrInvalidURL = errors.New("invalid bunker URL")

// URL is a parsed bunker://<signer-pubkey>?relay=...&secret=... address
type URL struct {
	SignerPubkey string
	Relays       []string
	Secret       string
}

// ParseURL parses a bunker:// URL. Relay parameters that are not ws:// or
// wss:// URLs are dropped; at least one must remain.
func ParseURL(raw string) (*URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "bunker://") {
		return nil, fmt.Errorf("%w: must start with bunker://", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	signer := strings.ToLower(u.Host)
	keyBytes, err := hex.DecodeString(signer)
	if err != nil || len(keyBytes) != 32 {
		return nil, fmt.Errorf("%w: remote signer pubkey must be 64 hex characters", ErrInvalidURL)
	}
	if _, err := schnorr.ParsePubKey(keyBytes); err != nil {
		return nil, fmt.Errorf("%w: remote signer pubkey: %v", ErrInvalidURL, err)
	}

	var relays []string
	for _, candidate := range u.Query()["relay"] {
		if normalized := nostr.NormalizeRelayURL(candidate); normalized != "" {
			relays = append(relays, normalized)
		}
	}
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: at least one relay is required", ErrInvalidURL)
	}

	return &URL{
		SignerPubkey: signer,
		Relays:       relays,
		Secret:       u.Query().Get("secret"),
	}, nil
}
