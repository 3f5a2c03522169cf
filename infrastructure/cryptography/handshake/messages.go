package handshake

import "portlink/domain/protocol"

// ChallengeSize is the length of the client's random challenge.
const ChallengeSize = 32

// ClientHandshake is the second handshake message: the client's random
// challenge and its ephemeral public key.
type ClientHandshake struct {
	_                  struct{} `cbor:",toarray"`
	Challenge          []byte
	ClientEphemeralKey []byte
}

// ServerHandshake is the third handshake message: the server's ephemeral
// public key and its identity signature over
// challenge || client ephemeral || server ephemeral.
type ServerHandshake struct {
	_                  struct{} `cbor:",toarray"`
	ServerEphemeralKey []byte
	Signature          []byte
}

// signedData builds the byte sequence the identity signature covers.
func signedData(challenge, clientEphemeral, serverEphemeral []byte) []byte {
	data := make([]byte, 0, len(challenge)+len(clientEphemeral)+len(serverEphemeral))
	data = append(data, challenge...)
	data = append(data, clientEphemeral...)
	data = append(data, serverEphemeral...)
	return data
}

func encodeMessage[T any](message T) (*protocol.Packet, error) {
	payload, err := protocol.Encode(message)
	if err != nil {
		return nil, err
	}
	return protocol.NewSystem(protocol.SystemHandshake, payload), nil
}
