package application

import (
	"net"

	"github.com/google/uuid"

	"portlink/domain/protocol"
)

// Peer is the sending side of a live session as seen by packet handlers.
// Both the server-side connection and the client implement it.
type Peer interface {
	ID() uuid.UUID
	RemoteAddr() net.Addr
	Send(packet *protocol.Packet) error
	Disconnect(reason string) error
}
