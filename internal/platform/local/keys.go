package local

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

const authSecretLen = 16

// keyPair holds the user-agent keys a push subscription is bound to.
// The public key travels to the server as p256dh; the auth secret salts
// the content-encryption key derivation.
type keyPair struct {
	priv       *ecdh.PrivateKey
	authSecret []byte
}

func newKeyPair() (*keyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate subscription key: %w", err)
	}
	secret := make([]byte, authSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate auth secret: %w", err)
	}
	return &keyPair{priv: priv, authSecret: secret}, nil
}

func loadKeyPair(privBytes, authSecret []byte) (*keyPair, error) {
	priv, err := ecdh.P256().NewPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("load subscription key: %w", err)
	}
	if len(authSecret) != authSecretLen {
		return nil, fmt.Errorf("auth secret must be %d bytes, got %d", authSecretLen, len(authSecret))
	}
	return &keyPair{priv: priv, authSecret: authSecret}, nil
}

// publicKey returns the uncompressed P-256 point (65 bytes).
func (k *keyPair) publicKey() []byte {
	return k.priv.PublicKey().Bytes()
}

func ecdhPublicKey(raw []byte) (*ecdh.PublicKey, error) {
	return ecdh.P256().NewPublicKey(raw)
}
