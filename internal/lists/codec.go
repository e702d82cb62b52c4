// Package lists encodes and decodes people lists carried in kind 30000
// replaceable events. Public members are "p" tags; private members are a
// JSON tag array encrypted into the event content.
package lists

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nostr-lists/internal/types"
)

var (
	ErrMissingListID    = errors.New("list identifier is required")
	ErrAuthorMismatch   = errors.New("event author does not match current identity")
	ErrMalformedContent = errors.New("decrypted content is not a tag array")
	ErrNoRecipient      = errors.New("private members need a public member to encrypt to")
	ErrWrongKind        = errors.New("not a people list event")
)

// CryptFunc encrypts or decrypts text for a peer public key
type CryptFunc func(peer, text string) (string, error)

// Revision is one version of a list. Event is nil until it has been signed.
// Locked is set when the content was not decrypted.
type Revision struct {
	ListID  string
	Public  []string
	Private []string
	Locked  bool
	Event   *types.Event
}

var now = time.Now

// EncodeRevision builds the unsigned event for a list revision. Private
// members are encrypted to the first public member.
func EncodeRevision(listID string, public, private []string, encrypt CryptFunc) (*types.UnsignedEvent, error) {
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return nil, ErrMissingListID
	}

	tags := make([][]string, 0, len(public)+1)
	tags = append(tags, []string{types.TagListID, listID})
	for _, member := range public {
		tags = append(tags, []string{types.TagMember, member})
	}

	var content string
	if len(private) > 0 {
		if len(public) == 0 {
			return nil, ErrNoRecipient
		}
		if encrypt == nil {
			return nil, errors.New("no encrypt function for private members")
		}
		plaintext, err := MarshalMemberTags(private)
		if err != nil {
			return nil, err
		}
		content, err = encrypt(public[0], plaintext)
		if err != nil {
			return nil, fmt.Errorf("encrypt private members: %w", err)
		}
	}

	return &types.UnsignedEvent{
		CreatedAt: now().Unix(),
		Kind:      types.KindCategorizedPeopleList,
		Tags:      tags,
		Content:   content,
	}, nil
}

// DecodePublic reads the list identifier and public members without touching
// the encrypted content
func DecodePublic(evt *types.Event) (*Revision, error) {
	if evt.Kind != types.KindCategorizedPeopleList {
		return nil, fmt.Errorf("%w: kind %d", ErrWrongKind, evt.Kind)
	}
	listID, ok := evt.TagValue(types.TagListID)
	if !ok {
		return nil, ErrMissingListID
	}
	return &Revision{
		ListID: listID,
		Public: evt.TagValues(types.TagMember),
		Locked: evt.Content != "",
		Event:  evt,
	}, nil
}

// DecodeRevision decodes a list event authored by self. The content is
// decrypted with the first public member as peer, which mirrors
// EncodeRevision; lists without public members fall back to the author.
func DecodeRevision(evt *types.Event, self string, decrypt CryptFunc) (*Revision, error) {
	rev, err := DecodePublic(evt)
	if err != nil {
		return nil, err
	}
	if !rev.Locked {
		return rev, nil
	}

	if self == "" || !strings.EqualFold(self, evt.PubKey) {
		return nil, ErrAuthorMismatch
	}
	if decrypt == nil {
		return nil, errors.New("no decrypt function for private members")
	}

	peer := evt.PubKey
	if len(rev.Public) > 0 {
		peer = rev.Public[0]
	}
	plaintext, err := decrypt(peer, evt.Content)
	if err != nil {
		return nil, fmt.Errorf("decrypt private members: %w", err)
	}
	rev.Private, err = ParseMemberTags(plaintext)
	if err != nil {
		return nil, err
	}
	rev.Locked = false
	return rev, nil
}

// MarshalMemberTags serializes members as [["p", key], ...]
func MarshalMemberTags(members []string) (string, error) {
	tags := make([][]string, 0, len(members))
	for _, member := range members {
		tags = append(tags, []string{types.TagMember, member})
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseMemberTags takes the second element of every tag in a JSON tag array
func ParseMemberTags(plaintext string) ([]string, error) {
	var tags [][]string
	if err := json.Unmarshal([]byte(plaintext), &tags); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	members := make([]string, 0, len(tags))
	for _, tag := range tags {
		if len(tag) < 2 {
			return nil, fmt.Errorf("%w: tag with %d elements", ErrMalformedContent, len(tag))
		}
		members = append(members, tag[1])
	}
	return members, nil
}
