// Package server accepts connections, runs their handshakes and read
// loops, and owns the registry every other component looks clients up
// in.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"portlink/application"
	"portlink/domain/protocol"
	"portlink/infrastructure/cryptography/handshake"
	"portlink/infrastructure/cryptography/identity"
	"portlink/infrastructure/network"
	"portlink/infrastructure/rate"
	"portlink/infrastructure/routing"
	"portlink/infrastructure/scheduling"
	"portlink/settings"
)

// ErrUnknownClient reports a send to a client id that is not registered.
var ErrUnknownClient = errors.New("unknown client")

// PacketEvent pairs an application packet with the peer it arrived from.
type PacketEvent struct {
	Peer   application.Peer
	Packet *protocol.Packet
}

type Server struct {
	settings settings.Settings
	router   *routing.Router

	identity  *identity.Store
	scheduler *scheduling.KeepAliveScheduler
	pool      *network.BufferPool

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	// clients is the registry: connection id -> *Connection. Writers are
	// the accept and disconnect paths, and Stop, which clears it.
	clients  sync.Map
	clientWG sync.WaitGroup

	// gate bounds concurrent broadcast sends across all clients.
	gate *semaphore.Weighted

	started atomic.Bool

	OnClientConnected    application.Handlers[*Connection]
	OnClientDisconnected application.Handlers[*Connection]
	OnPacketReceived     application.Handlers[PacketEvent]
}

func NewServer(cfg settings.Settings, router *routing.Router) (*Server, error) {
	identityStore, err := identity.NewStore(cfg.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("load server identity: %w", err)
	}
	scheduler, err := scheduling.NewKeepAliveScheduler(cfg.KeepAlive)
	if err != nil {
		return nil, err
	}
	return &Server{
		settings:  cfg,
		router:    router,
		identity:  identityStore,
		scheduler: scheduler,
		pool:      network.NewBufferPool(),
		gate:      semaphore.NewWeighted(int64(cfg.BroadcastConcurrency)),
	}, nil
}

// Start binds the listener and launches the accept loop and the
// keep-alive scheduler. It returns once the server is accepting.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(s.settings.Host, strconv.Itoa(s.settings.Port)))
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.scheduler.Run(s.ctx)

	// Accept blocks without a context; closing the listener is how the
	// cancellation reaches it.
	go func() {
		<-s.ctx.Done()
		_ = listener.Close()
	}()
	go s.acceptLoop()

	log.Info().Stringer("addr", listener.Addr()).Msg("server listening")
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.clientWG.Add(1)
		go func() {
			defer s.clientWG.Done()
			s.handleClient(conn)
		}()
	}
}

// handleClient runs the handshake and, on success, the connection's read
// loop. It returns when the session is over.
func (s *Server) handleClient(conn net.Conn) {
	adapter := network.NewTCPAdapter(conn)
	reader := network.NewFrameReader(adapter, s.pool, s.settings.MaxPacketSize)
	writer := network.NewFrameWriter(adapter, s.pool, s.settings.MaxPacketSize)

	// A stream that stalls mid-handshake must not hold its slot open.
	if s.settings.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.settings.HandshakeTimeout))
	}
	crypto, err := handshake.NewServer(s.identity).Handshake(reader, writer)
	if err != nil {
		log.Warn().Err(err).Stringer("remote", conn.RemoteAddr()).Msg("handshake failed")
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	ctx, cancel := context.WithCancel(s.ctx)
	c := &Connection{
		id:         uuid.New(),
		adapter:    adapter,
		remoteAddr: conn.RemoteAddr(),
		reader:     reader,
		writer:     writer,
		crypto:     crypto,
		limiter:    rate.NewLimiter(s.settings.Rate),
		scheduler:  s.scheduler,
		cancel:     cancel,
		onClosed:   s.removeClient,
	}

	s.clients.Store(c.id, c)
	s.scheduler.Register(c)
	s.OnClientConnected.Emit(c)
	log.Info().Str("client", c.id.String()).Stringer("remote", c.remoteAddr).Msg("client connected")

	s.readLoop(ctx, c)
}

func (s *Server) removeClient(c *Connection, reason string) {
	s.clients.Delete(c.id)
	s.OnClientDisconnected.Emit(c)
	log.Info().Str("client", c.id.String()).Str("reason", reason).Msg("client disconnected")
}

func (s *Server) readLoop(ctx context.Context, c *Connection) {
	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, network.ErrConnectionClosed) {
				log.Debug().Err(err).Str("client", c.id.String()).Msg("read failed")
			}
			c.disconnectSilent("connection closed")
			return
		}
		s.scheduler.UpdateLastReceived(c.id)

		if frame == nil {
			// Keep-alive: liveness only, no envelope.
			continue
		}
		frameLength := len(frame)

		packet, err := protocol.Unmarshal(frame)
		c.reader.Release(frame)
		if err != nil {
			log.Warn().Err(err).Str("client", c.id.String()).Msg("malformed packet")
			c.disconnectSilent("malformed packet")
			return
		}

		if protocol.IsSystem(packet.Identifier) {
			if closed := s.handleSystem(c, packet); closed {
				return
			}
			continue
		}

		if !c.limiter.TryConsume(frameLength) {
			log.Warn().Str("client", c.id.String()).Msg("rate limit exceeded")
			_ = c.Disconnect("Rate limit exceeded.")
			return
		}

		if err := c.crypto.Decrypt(packet); err != nil {
			log.Warn().Err(err).Str("client", c.id.String()).Msg("packet decryption failed")
			c.disconnectSilent("decryption failure")
			return
		}

		s.OnPacketReceived.Emit(PacketEvent{Peer: c, Packet: packet})
		if err := s.router.Route(c, packet); err != nil {
			log.Error().Err(err).Str("client", c.id.String()).Int("identifier", packet.Identifier).
				Msg("packet handler failed")
			c.disconnectSilent("handler failure")
			return
		}
	}
}

// handleSystem processes a reserved-range packet. The returned flag is
// true when the connection is gone.
func (s *Server) handleSystem(c *Connection, packet *protocol.Packet) bool {
	switch packet.Identifier {
	case int(protocol.SystemKeepAlive):
		return false
	case int(protocol.SystemDisconnect):
		reason, err := protocol.DecodeString(packet.Payload())
		if err != nil || reason == "" {
			reason = "peer disconnected"
		}
		c.disconnectSilent(reason)
		return true
	default:
		log.Debug().Int("identifier", packet.Identifier).Str("client", c.id.String()).
			Msg("ignoring reserved packet")
		return false
	}
}

// SendToClient delivers one packet to one registered client.
func (s *Server) SendToClient(id uuid.UUID, packet *protocol.Packet) error {
	value, ok := s.clients.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	return value.(*Connection).Send(packet)
}

// Broadcast fans the packet out to every registered client, bounded by
// the broadcast gate. A failed send disconnects that client only.
func (s *Server) Broadcast(ctx context.Context, packet *protocol.Packet) error {
	// Warm the serialization cache before the fan-out so concurrent
	// sends of an unencrypted packet share one encoding.
	if !packet.Encrypted {
		if _, err := packet.Marshal(); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	var broadcastErr error
	s.clients.Range(func(_, value any) bool {
		c := value.(*Connection)
		if err := s.gate.Acquire(ctx, 1); err != nil {
			broadcastErr = err
			return false
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.gate.Release(1)
			if err := c.Send(packet); err != nil && !errors.Is(err, application.ErrNotConnected) {
				log.Warn().Err(err).Str("client", c.id.String()).Msg("broadcast send failed")
				c.disconnectSilent("send failure")
			}
		}()
		return true
	})
	wg.Wait()
	return broadcastErr
}

// ConnectionCount reports the registry size.
func (s *Server) ConnectionCount() int {
	count := 0
	s.clients.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Connections returns a snapshot of the registry.
func (s *Server) Connections() []*Connection {
	var snapshot []*Connection
	s.clients.Range(func(_, value any) bool {
		snapshot = append(snapshot, value.(*Connection))
		return true
	})
	return snapshot
}

// Stop shuts the server down: no new accepts, a Disconnect envelope to
// every client, then a bounded wait before stragglers are forcibly
// closed.
func (s *Server) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return errors.New("server not started")
	}

	s.cancel()

	for _, c := range s.Connections() {
		go func(c *Connection) {
			_ = c.Disconnect("Server is shutting down.")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		s.clientWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.settings.ShutdownTimeout):
		log.Warn().Msg("shutdown timeout, forcing remaining connections closed")
		for _, c := range s.Connections() {
			c.forceClose()
		}
	}

	// Clear whatever is left; laggard teardowns become no-ops.
	s.clients.Range(func(key, _ any) bool {
		s.clients.Delete(key)
		return true
	})

	log.Info().Msg("server stopped")
	return nil
}
