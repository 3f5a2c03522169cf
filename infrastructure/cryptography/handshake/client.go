package handshake

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"portlink/application"
	"portlink/domain/protocol"
	"portlink/infrastructure/cryptography/aead"
	"portlink/infrastructure/cryptography/exchange"
	"portlink/infrastructure/cryptography/trust"
	"portlink/infrastructure/network"
)

// Client drives the client half of the handshake, enforcing the
// trust-on-first-use policy before anything is signed or derived.
type Client struct {
	trust *trust.Store
}

func NewClient(trustStore *trust.Store) *Client {
	return &Client{trust: trustStore}
}

func (c *Client) Handshake(host string, port int, reader *network.FrameReader, writer *network.FrameWriter) (application.PacketCrypto, error) {
	identityPacket, err := readHandshakePacket(reader)
	if err != nil {
		return nil, fmt.Errorf("read identity key: %w", err)
	}
	identitySPKI := identityPacket.Payload()
	if len(identitySPKI) == 0 {
		return nil, fmt.Errorf("%w: empty identity key", ErrUnexpectedPacket)
	}

	trusted, err := c.trust.VerifyOrTrust(host, port, identitySPKI)
	if err != nil {
		return nil, err
	}
	if !trusted {
		return nil, fmt.Errorf("%s:%d: %w", host, port, ErrIdentityMismatch)
	}

	challenge := make([]byte, ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	ephemeral, err := exchange.NewEphemeral()
	if err != nil {
		return nil, err
	}

	clientPacket, err := encodeMessage(ClientHandshake{
		Challenge:          challenge,
		ClientEphemeralKey: ephemeral.PublicKey(),
	})
	if err != nil {
		return nil, err
	}
	if err := writeHandshakePacket(writer, clientPacket); err != nil {
		return nil, fmt.Errorf("send client handshake: %w", err)
	}

	serverPacket, err := readHandshakePacket(reader)
	if err != nil {
		return nil, fmt.Errorf("read server handshake: %w", err)
	}
	serverHandshake, err := protocol.Decode[ServerHandshake](serverPacket.Payload())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedPacket, err)
	}
	if len(serverHandshake.ServerEphemeralKey) == 0 {
		return nil, fmt.Errorf("%w: empty server ephemeral key", ErrUnexpectedPacket)
	}

	if err := verifySignature(identitySPKI, signedData(
		challenge,
		ephemeral.PublicKey(),
		serverHandshake.ServerEphemeralKey,
	), serverHandshake.Signature); err != nil {
		return nil, err
	}

	sessionKey, err := ephemeral.DeriveSharedKey(serverHandshake.ServerEphemeralKey)
	if err != nil {
		return nil, err
	}
	return aead.NewAESGCM(sessionKey)
}

func verifySignature(identitySPKI, data, signature []byte) error {
	parsed, err := x509.ParsePKIXPublicKey(identitySPKI)
	if err != nil {
		return fmt.Errorf("parse identity key: %w", err)
	}
	publicKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("unexpected identity key type %T", parsed)
	}

	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(publicKey, digest[:], signature) {
		return ErrBadSignature
	}
	return nil
}
