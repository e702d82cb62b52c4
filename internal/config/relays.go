package config

import (
	"strings"

	"nostr-lists/internal/nostr"
)

// ParseRelayList splits relay text on newlines and commas and keeps the
// ws:// and wss:// entries, normalized and de-duplicated in order.
func ParseRelayList(text string) (relays, rejected []string) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})
	return NormalizeRelays(fields)
}

// NormalizeRelays normalizes each entry, dropping duplicates and returning
// entries that are not relay URLs separately
func NormalizeRelays(entries []string) (relays, rejected []string) {
	seen := make(map[string]bool)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		normalized := nostr.NormalizeRelayURL(entry)
		if normalized == "" {
			rejected = append(rejected, entry)
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		relays = append(relays, normalized)
	}
	return relays, rejected
}
