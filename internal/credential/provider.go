// Package credential resolves which signing and encryption path is active for
// a session and exposes it behind one uniform interface.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nostr-lists/internal/nostr"
	"nostr-lists/internal/types"
)

// Options are the credential sources offered by the caller. Any of them may
// be empty.
type Options struct {
	Host      HostSigner // preferred when it answers with a public key
	Secret    string     // nsec1... or hex
	PublicKey string     // npub1... or hex, read-only identity
	Scheme    Scheme     // local encryption scheme
}

// Provider is resolved once per session and is safe for concurrent use.
type Provider struct {
	host     HostSigner
	cipher   HostCipher
	local    *LocalKey
	pubkey   string
	usesHost bool
}

// Resolve picks the active credential path: host capability first, then the
// local secret, then a bare public key (read-only).
func Resolve(ctx context.Context, opts Options) (*Provider, error) {
	p := &Provider{}

	var local *LocalKey
	if opts.Secret != "" {
		key, err := ParseSecret(opts.Secret, opts.Scheme)
		if err != nil {
			slog.Warn("ignoring local secret", "error", err)
		} else {
			local = key
		}
	}

	if opts.Host != nil {
		pubkey, err := opts.Host.PublicKey(ctx)
		if err == nil {
			pubkey, err = ParsePublicKey(pubkey)
		}
		if err != nil {
			slog.Warn("host capability did not provide a public key", "error", err)
		} else {
			p.host = opts.Host
			p.pubkey = pubkey
			p.usesHost = true
			if cipher, ok := opts.Host.(HostCipher); ok {
				p.cipher = cipher
			}
		}
	}

	switch {
	case p.usesHost:
		// The local key is only a fallback for the same identity
		if local != nil && local.PublicKey() != p.pubkey {
			slog.Warn("local secret belongs to a different identity, not using it as fallback",
				"host", nostr.ShortID(p.pubkey), "local", nostr.ShortID(local.PublicKey()))
			local = nil
		}
		p.local = local
	case local != nil:
		p.local = local
		p.pubkey = local.PublicKey()
	case opts.PublicKey != "":
		pubkey, err := ParsePublicKey(opts.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoCredentialAvailable, err)
		}
		p.pubkey = pubkey
	default:
		return nil, ErrNoCredentialAvailable
	}

	slog.Debug("credential resolved",
		"pubkey", nostr.ShortID(p.pubkey),
		"host", p.usesHost,
		"host_cipher", p.cipher != nil,
		"local", p.local != nil)
	return p, nil
}

// Identity returns the hex public key and whether the host capability is in use
func (p *Provider) Identity() (string, bool) {
	return p.pubkey, p.usesHost
}

// CanSign reports whether any signing path is available
func (p *Provider) CanSign() bool {
	return p.usesHost || p.local != nil
}

// CanDecrypt reports whether any decryption path is available
func (p *Provider) CanDecrypt() bool {
	return p.cipher != nil || p.local != nil
}

// Sign produces a signed event. The host result is only accepted when it
// carries id, sig and pubkey and the signature verifies; otherwise the event
// is finalized with the local secret.
func (p *Provider) Sign(ctx context.Context, unsigned types.UnsignedEvent) (*types.Event, error) {
	if unsigned.PubKey == "" {
		unsigned.PubKey = p.pubkey
	}

	var hostErr error
	if p.usesHost {
		evt, err := p.host.SignEvent(ctx, unsigned)
		if err == nil {
			err = p.checkHostEvent(evt)
		}
		if err == nil {
			return evt, nil
		}
		hostErr = err
		slog.Warn("host signing failed", "error", err, "fallback", p.local != nil)
	}

	if p.local == nil {
		if hostErr == nil {
			hostErr = errors.New("no signing capability for read-only identity")
		}
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, hostErr)
	}

	evt, err := p.local.Sign(unsigned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return evt, nil
}

func (p *Provider) checkHostEvent(evt *types.Event) error {
	if evt == nil || evt.ID == "" || evt.Sig == "" || evt.PubKey == "" {
		return errors.New("host returned an incomplete event")
	}
	if evt.PubKey != p.pubkey {
		return errors.New("host signed with a different public key")
	}
	return nostr.ValidateEvent(evt)
}

// Encrypt encrypts plaintext for recipient
func (p *Provider) Encrypt(ctx context.Context, recipient, plaintext string) (string, error) {
	var hostCall func(context.Context, string, string) (string, error)
	if p.cipher != nil {
		hostCall = p.cipher.Encrypt
	}
	var localCall func(string, string) (string, error)
	if p.local != nil {
		localCall = p.local.Encrypt
	}
	return p.crypt(ctx, "encrypt", hostCall, localCall, recipient, plaintext)
}

// Decrypt decrypts ciphertext received from sender
func (p *Provider) Decrypt(ctx context.Context, sender, ciphertext string) (string, error) {
	var hostCall func(context.Context, string, string) (string, error)
	if p.cipher != nil {
		hostCall = p.cipher.Decrypt
	}
	var localCall func(string, string) (string, error)
	if p.local != nil {
		localCall = p.local.Decrypt
	}
	return p.crypt(ctx, "decrypt", hostCall, localCall, sender, ciphertext)
}

// crypt runs one host operation with (peer, payload), then with
// (payload, peer), then the local routine.
func (p *Provider) crypt(
	ctx context.Context,
	op string,
	hostCall func(context.Context, string, string) (string, error),
	localCall func(string, string) (string, error),
	peer, payload string,
) (string, error) {
	var hostErr error
	if hostCall != nil {
		out, err := hostCall(ctx, peer, payload)
		if err == nil {
			return out, nil
		}
		hostErr = err

		out, err = hostCall(ctx, payload, peer)
		if err == nil {
			slog.Debug("host "+op+" succeeded with swapped arguments", "peer", nostr.ShortID(peer))
			return out, nil
		}
		slog.Warn("host "+op+" failed in both argument orders", "error", hostErr, "fallback", localCall != nil)
	}

	if localCall == nil {
		if hostErr == nil {
			hostErr = errors.New("no host cipher and no local secret")
		}
		return "", fmt.Errorf("%w: %s: %v", ErrCryptoUnavailable, op, hostErr)
	}

	out, err := localCall(peer, payload)
	if err != nil {
		return "", fmt.Errorf("local %s: %w", op, err)
	}
	return out, nil
}
