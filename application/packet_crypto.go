package application

import "portlink/domain/protocol"

// PacketCrypto is the two-method capability bound to a connection when
// its handshake completes. Implementations transform the packet payload
// in place; packets with the encrypted flag unset pass through untouched.
type PacketCrypto interface {
	Encrypt(packet *protocol.Packet) error
	Decrypt(packet *protocol.Packet) error
}
