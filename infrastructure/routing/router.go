// Package routing dispatches application packets to registered handlers
// by numeric identifier.
package routing

import (
	"sync"

	"github.com/rs/zerolog/log"

	"portlink/application"
	"portlink/domain/protocol"
)

// Handler processes one application packet from one peer. Returning an
// error tears the peer's session down.
type Handler func(peer application.Peer, packet *protocol.Packet) error

// Router maps identifiers to handlers. Registration may happen at any
// time, including while connections are dispatching; lookups never block
// registrations.
type Router struct {
	handlers sync.Map // int -> Handler
}

func NewRouter() *Router {
	return &Router{}
}

// Register installs a handler for an identifier. A nil handler is an
// explicit ignore: the identifier is known, packets to it are dropped
// without diagnostics.
func (r *Router) Register(identifier protocol.PacketIdentifier, handler Handler) {
	r.handlers.Store(identifier.Int(), handler)
}

// Route looks up and invokes the handler for the packet. Unknown
// identifiers are logged and skipped; they are not fatal to the session.
func (r *Router) Route(peer application.Peer, packet *protocol.Packet) error {
	value, ok := r.handlers.Load(packet.Identifier)
	if !ok {
		log.Warn().Int("identifier", packet.Identifier).Str("client", peer.ID().String()).
			Msg("no handler registered for packet")
		return nil
	}
	handler := value.(Handler)
	if handler == nil {
		return nil
	}
	return handler(peer, packet)
}
