// Package types provides shared type definitions used across internal packages.
package types

import "encoding/json"

// Event kinds and tag names used by people lists (NIP-51)
const (
	KindCategorizedPeopleList = 30000

	TagListID = "d"
	TagMember = "p"
)

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// UnsignedEvent is an event that still needs an id and signature
type UnsignedEvent struct {
	PubKey    string     `json:"pubkey,omitempty"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
}

// TagValue returns the second element of the first tag named name
func (e *Event) TagValue(name string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// TagValues returns the second element of every tag named name, in order
func (e *Event) TagValues(name string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
	DTags   []string // #d tag filter (d-tag for addressable events)
	PTags   []string // #p tag filter
}

// ToMap builds the REQ filter object
func (f Filter) ToMap() map[string]interface{} {
	m := make(map[string]interface{})
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if len(f.DTags) > 0 {
		m["#d"] = f.DTags
	}
	if len(f.PTags) > 0 {
		m["#p"] = f.PTags
	}
	return m
}

// MarshalJSON encodes the filter as a NIP-01 filter object
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToMap())
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}
