package app

import "errors"

// SessionState is derived from the credential path that resolved
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateReadOnly
	StateCanWrite
)

func (s SessionState) String() string {
	switch s {
	case StateReadOnly:
		return "readonly"
	case StateCanWrite:
		return "can-write"
	}
	return "unauthenticated"
}

var (
	ErrInsufficientAuthorization = errors.New("insufficient authorization")
	ErrUnknownList               = errors.New("unknown list")
	ErrNothingToPublish          = errors.New("nothing to publish")
	ErrEmptyMembers              = errors.New("a list needs at least one member")
)
