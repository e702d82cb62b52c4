package credential

import (
	"context"

	"nostr-lists/internal/types"
)

// HostSigner is a signing capability held by the surrounding environment
// (a remote signer, a browser extension bridge, a hardware device).
// SignEvent returns a complete event with id, pubkey and sig set.
type HostSigner interface {
	PublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, event types.UnsignedEvent) (*types.Event, error)
}

// HostCipher is the optional encryption half of a host capability.
//
// Host implementations disagree on whether the peer key or the payload comes
// first, so the arguments are passed through untouched and the Provider tries
// both orders.
type HostCipher interface {
	Encrypt(ctx context.Context, a, b string) (string, error)
	Decrypt(ctx context.Context, a, b string) (string, error)
}
