// Package aead is the per-session packet encryption layer. The payload
// of an encrypted packet is rewritten in place as
//
//	nonce (12) || tag (16) || ciphertext
//
// with a fresh random nonce per packet. The envelope identifier and flag
// are not bound as associated data; binding them would change the wire
// format.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"portlink/application"
	"portlink/domain/protocol"
)

const (
	NonceSize = 12
	TagSize   = 16
)

// ErrCryptoFailure reports an authentication or decryption failure. It
// is fatal for the connection that produced it.
var ErrCryptoFailure = errors.New("packet decryption failed")

// AESGCM encrypts and decrypts packet payloads under one session key.
type AESGCM struct {
	aead cipher.AEAD
}

func NewAESGCM(key []byte) (*AESGCM, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

func (g *AESGCM) Encrypt(packet *protocol.Packet) error {
	if !packet.Encrypted {
		return nil
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	// Seal appends ciphertext||tag; the wire layout wants the tag first.
	sealed := g.aead.Seal(nil, nonce, packet.Payload(), nil)
	split := len(sealed) - TagSize

	payload := make([]byte, 0, NonceSize+len(sealed))
	payload = append(payload, nonce...)
	payload = append(payload, sealed[split:]...)
	payload = append(payload, sealed[:split]...)

	packet.SetPayload(payload)
	return nil
}

func (g *AESGCM) Decrypt(packet *protocol.Packet) error {
	if !packet.Encrypted {
		return nil
	}

	payload := packet.Payload()
	if len(payload) < NonceSize+TagSize {
		return fmt.Errorf("%w: payload too short (%d bytes)", ErrCryptoFailure, len(payload))
	}
	nonce := payload[:NonceSize]
	tag := payload[NonceSize : NonceSize+TagSize]
	ciphertext := payload[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := g.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ErrCryptoFailure
	}
	packet.SetPayload(plaintext)
	return nil
}

// Noop is the crypto capability of a connection that has not completed
// its handshake. It refuses encrypted packets instead of passing
// ciphertext-flagged plaintext through.
type Noop struct{}

func (Noop) Encrypt(packet *protocol.Packet) error {
	if packet.Encrypted {
		return errors.New("no session key established")
	}
	return nil
}

func (Noop) Decrypt(packet *protocol.Packet) error {
	if packet.Encrypted {
		return errors.New("no session key established")
	}
	return nil
}

var (
	_ application.PacketCrypto = (*AESGCM)(nil)
	_ application.PacketCrypto = Noop{}
)
