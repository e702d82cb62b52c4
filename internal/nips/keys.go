package nips

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
)

// GeneratePrivateKey generates a new random secp256k1 private key
func GeneratePrivateKey() ([]byte, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return privKey.Serialize(), nil
}

// parsePeerKey parses a 32-byte x-only public key given as hex
func parsePeerKey(peerHex string) (*btcec.PublicKey, error) {
	pubKeyBytes, err := hex.DecodeString(peerHex)
	if err != nil || len(pubKeyBytes) != 32 {
		return nil, errors.New("invalid public key")
	}

	// Even y-coordinate first, standard for x-only keys
	pubKeyWithPrefix := append([]byte{0x02}, pubKeyBytes...)
	pubKey, err := btcec.ParsePubKey(pubKeyWithPrefix)
	if err != nil {
		pubKeyWithPrefix[0] = 0x03
		pubKey, err = btcec.ParsePubKey(pubKeyWithPrefix)
		if err != nil {
			return nil, errors.New("invalid public key")
		}
	}
	return pubKey, nil
}

// sharedX returns the 32-byte x coordinate of privKey * peer
func sharedX(privKeyBytes []byte, peerHex string) ([]byte, error) {
	if len(privKeyBytes) != 32 {
		return nil, errors.New("invalid private key")
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	pubKey, err := parsePeerKey(peerHex)
	if err != nil {
		return nil, err
	}

	// This returns just the X coordinate per RFC 5903 Section 9
	shared := btcec.GenerateSharedSecret(privKey, pubKey)

	// x.Bytes() may return fewer bytes if leading bytes are 0
	if len(shared) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(shared):], shared)
		return padded, nil
	}
	return shared, nil
}
