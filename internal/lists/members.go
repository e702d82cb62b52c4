package lists

import (
	"encoding/hex"
	"strings"

	"nostr-lists/internal/nips"
)

// ParseMembers splits free text on newlines, commas, spaces and tabs. Hex
// keys and npub entries are kept (npubs decoded to hex) in first-seen order
// without duplicates; everything else is returned as rejected.
func ParseMembers(text string) (members, rejected []string) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ',' || r == ' ' || r == '\t'
	})

	seen := make(map[string]bool)
	for _, field := range fields {
		key, ok := normalizeMember(field)
		if !ok {
			rejected = append(rejected, field)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		members = append(members, key)
	}
	return members, rejected
}

func normalizeMember(field string) (string, bool) {
	if strings.HasPrefix(strings.ToLower(field), "npub1") {
		key, err := nips.DecodePubkey(field)
		if err != nil {
			return "", false
		}
		return key, true
	}
	if len(field) != 64 {
		return "", false
	}
	if _, err := hex.DecodeString(field); err != nil {
		return "", false
	}
	return strings.ToLower(field), true
}
