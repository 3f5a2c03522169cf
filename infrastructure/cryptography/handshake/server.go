package handshake

import (
	"fmt"

	"portlink/application"
	"portlink/domain/protocol"
	"portlink/infrastructure/cryptography/aead"
	"portlink/infrastructure/cryptography/exchange"
	"portlink/infrastructure/cryptography/identity"
	"portlink/infrastructure/network"
)

// Server drives the server half of the four-message handshake:
//
//	1. server -> client  identity public key
//	2. client -> server  challenge + client ephemeral key
//	3. server -> client  server ephemeral key + identity signature
//	4. both derive the session key
type Server struct {
	identity *identity.Store
}

func NewServer(identityStore *identity.Store) *Server {
	return &Server{identity: identityStore}
}

// Handshake runs to completion or fails without sending anything
// further; a failed handshake never half-establishes a session.
func (s *Server) Handshake(reader *network.FrameReader, writer *network.FrameWriter) (application.PacketCrypto, error) {
	identityPacket := protocol.NewSystem(protocol.SystemHandshake, s.identity.PublicKey())
	if err := writeHandshakePacket(writer, identityPacket); err != nil {
		return nil, fmt.Errorf("send identity key: %w", err)
	}

	clientPacket, err := readHandshakePacket(reader)
	if err != nil {
		return nil, fmt.Errorf("read client handshake: %w", err)
	}
	clientHandshake, err := protocol.Decode[ClientHandshake](clientPacket.Payload())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedPacket, err)
	}
	if len(clientHandshake.Challenge) != ChallengeSize {
		return nil, fmt.Errorf("%w: challenge length %d", ErrUnexpectedPacket, len(clientHandshake.Challenge))
	}
	if len(clientHandshake.ClientEphemeralKey) == 0 {
		return nil, fmt.Errorf("%w: empty client ephemeral key", ErrUnexpectedPacket)
	}

	serverPacket, ephemeral, err := s.buildServerHandshake(clientHandshake)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakePacket(writer, serverPacket); err != nil {
		return nil, fmt.Errorf("send server handshake: %w", err)
	}

	sessionKey, err := ephemeral.DeriveSharedKey(clientHandshake.ClientEphemeralKey)
	if err != nil {
		return nil, err
	}
	return aead.NewAESGCM(sessionKey)
}

// buildServerHandshake generates the ephemeral key pair and signs the
// challenge bound to both ephemeral publics.
func (s *Server) buildServerHandshake(clientHandshake ClientHandshake) (*protocol.Packet, *exchange.Ephemeral, error) {
	ephemeral, err := exchange.NewEphemeral()
	if err != nil {
		return nil, nil, err
	}

	signature, err := s.identity.Sign(signedData(
		clientHandshake.Challenge,
		clientHandshake.ClientEphemeralKey,
		ephemeral.PublicKey(),
	))
	if err != nil {
		return nil, nil, err
	}

	packet, err := encodeMessage(ServerHandshake{
		ServerEphemeralKey: ephemeral.PublicKey(),
		Signature:          signature,
	})
	if err != nil {
		return nil, nil, err
	}
	return packet, ephemeral, nil
}
