package lists

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMembers(t *testing.T) {
	const bobNpub = "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"

	tests := []struct {
		name     string
		input    string
		members  []string
		rejected []string
	}{
		{"empty", "", nil, nil},
		{"newlines", bobPubkey + "\n" + carolPubkey + "\n", []string{bobPubkey, carolPubkey}, nil},
		{"mixed separators", bobPubkey + ",\t" + carolPubkey + "  " + alicePubkey, []string{bobPubkey, carolPubkey, alicePubkey}, nil},
		{"windows line endings", bobPubkey + "\r\n" + carolPubkey, []string{bobPubkey, carolPubkey}, nil},
		{"npub decoded", bobNpub, []string{bobPubkey}, nil},
		{"duplicates across forms", bobPubkey + "\n" + bobNpub + "\n" + strings.ToUpper(bobPubkey), []string{bobPubkey}, nil},
		{"rejects short and non-hex", "abc\n" + strings.Repeat("z", 64) + "\n" + bobPubkey, []string{bobPubkey}, []string{"abc", strings.Repeat("z", 64)}},
		{"rejects bad npub checksum", bobNpub[:len(bobNpub)-1] + "q", nil, []string{bobNpub[:len(bobNpub)-1] + "q"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members, rejected := ParseMembers(tt.input)
			assert.Equal(t, tt.members, members)
			assert.Equal(t, tt.rejected, rejected)
		})
	}
}
