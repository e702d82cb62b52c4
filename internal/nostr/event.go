package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-lists/internal/types"
)

var (
	ErrInvalidEventID   = errors.New("event id does not match content")
	ErrInvalidSignature = errors.New("invalid event signature")
)

// SerializeEvent returns the canonical NIP-01 serialization
// [0, pubkey, created_at, kind, tags, content] used for id computation.
func SerializeEvent(pubkey string, createdAt int64, kind int, tags [][]string, content string) ([]byte, error) {
	if tags == nil {
		tags = [][]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// NIP-01 forbids escaping <, > and & as < etc.
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]interface{}{0, pubkey, createdAt, kind, tags, content}); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators restores U+2028 and U+2029, which encoding/json
// always escapes but NIP-01 keeps raw. Escaped backslashes are skipped as a
// pair so a literal `\u2028` in a string survives.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if rest := b[i+1:]; len(rest) >= 5 && rest[0] == 'u' && string(rest[1:4]) == "202" && (rest[4] == '8' || rest[4] == '9') {
			if rest[4] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// ComputeEventID returns the hex sha256 of the canonical serialization
func ComputeEventID(evt *types.Event) string {
	serialized, err := SerializeEvent(evt.PubKey, evt.CreatedAt, evt.Kind, evt.Tags, evt.Content)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(serialized)
	return hex.EncodeToString(hash[:])
}

// PublicKeyHex derives the x-only public key for a 32-byte secret
func PublicKeyHex(privKeyBytes []byte) (string, error) {
	if len(privKeyBytes) != 32 {
		return "", errors.New("private key must be 32 bytes")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	return hex.EncodeToString(schnorr.SerializePubKey(privKey.PubKey())), nil
}

// FinalizeEvent sets pubkey, id and signature using a local secret
func FinalizeEvent(privKeyBytes []byte, unsigned types.UnsignedEvent) (*types.Event, error) {
	pubkey, err := PublicKeyHex(privKeyBytes)
	if err != nil {
		return nil, err
	}

	evt := &types.Event{
		PubKey:    pubkey,
		CreatedAt: unsigned.CreatedAt,
		Kind:      unsigned.Kind,
		Tags:      unsigned.Tags,
		Content:   unsigned.Content,
	}
	if evt.Tags == nil {
		evt.Tags = [][]string{}
	}
	evt.ID = ComputeEventID(evt)

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid event ID hex: %w", err)
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return evt, nil
}

// ValidateEventSignature verifies Schnorr signature for a Nostr event
func ValidateEventSignature(evt *types.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// ValidateEvent checks that the id matches the content and the signature verifies
func ValidateEvent(evt *types.Event) error {
	if evt.ID == "" || ComputeEventID(evt) != evt.ID {
		return ErrInvalidEventID
	}
	if !ValidateEventSignature(evt) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseEventFromInterface converts raw websocket data to Event (avoids JSON re-encoding)
func ParseEventFromInterface(data interface{}) (types.Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return types.Event{}, false
	}

	evt := types.Event{}

	if id, ok := m["id"].(string); ok {
		evt.ID = id
	}
	if pk, ok := m["pubkey"].(string); ok {
		evt.PubKey = pk
	}
	if createdAt, ok := m["created_at"].(float64); ok {
		evt.CreatedAt = int64(createdAt)
	}
	if kind, ok := m["kind"].(float64); ok {
		evt.Kind = int(kind)
	}
	if content, ok := m["content"].(string); ok {
		evt.Content = content
	}
	if sig, ok := m["sig"].(string); ok {
		evt.Sig = sig
	}

	evt.Tags = make([][]string, 0)
	if tags, ok := m["tags"].([]interface{}); ok {
		for _, tag := range tags {
			if tagArr, ok := tag.([]interface{}); ok {
				strTag := make([]string, 0, len(tagArr))
				for _, elem := range tagArr {
					if s, ok := elem.(string); ok {
						strTag = append(strTag, s)
					}
				}
				evt.Tags = append(evt.Tags, strTag)
			}
		}
	}

	if err := ValidateEvent(&evt); err != nil {
		slog.Warn("event validation failed", "event_id", ShortID(evt.ID), "error", err)
		return types.Event{}, false
	}

	return evt, true
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
