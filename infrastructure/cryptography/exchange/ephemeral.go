// Package exchange performs the ephemeral ECDH key agreement a session
// key is derived from. One Ephemeral per handshake, never reused.
package exchange

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// SessionKeySize is the derived symmetric key length.
const SessionKeySize = sha256.Size

type Ephemeral struct {
	privateKey *ecdh.PrivateKey
	publicSPKI []byte
}

func NewEphemeral() (*Ephemeral, error) {
	privateKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	publicSPKI, err := x509.MarshalPKIXPublicKey(privateKey.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("encode ephemeral public key: %w", err)
	}
	return &Ephemeral{privateKey: privateKey, publicSPKI: publicSPKI}, nil
}

// PublicKey returns the SubjectPublicKeyInfo encoding of the ephemeral
// public key, as exchanged during the handshake.
func (e *Ephemeral) PublicKey() []byte {
	return e.publicSPKI
}

// DeriveSharedKey runs ECDH against the peer's SPKI-encoded public key
// and hashes the shared secret down to the symmetric session key.
func (e *Ephemeral) DeriveSharedKey(peerPublicSPKI []byte) ([]byte, error) {
	peerKey, err := parsePublicKey(peerPublicSPKI)
	if err != nil {
		return nil, err
	}
	secret, err := e.privateKey.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}
	key := sha256.Sum256(secret)
	return key[:], nil
}

func parsePublicKey(spki []byte) (*ecdh.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("parse peer public key: %w", err)
	}
	switch key := parsed.(type) {
	case *ecdh.PublicKey:
		return key, nil
	case *ecdsa.PublicKey:
		ecdhKey, err := key.ECDH()
		if err != nil {
			return nil, fmt.Errorf("convert peer public key: %w", err)
		}
		return ecdhKey, nil
	default:
		return nil, fmt.Errorf("unexpected peer public key type %T", parsed)
	}
}
