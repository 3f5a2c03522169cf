// Package client implements the connecting side: one live session at a
// time, established by the TOFU handshake before any state is published.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"portlink/application"
	"portlink/domain/protocol"
	"portlink/infrastructure/cryptography/handshake"
	"portlink/infrastructure/cryptography/trust"
	"portlink/infrastructure/network"
	"portlink/infrastructure/routing"
	"portlink/infrastructure/scheduling"
	"portlink/settings"
)

type Client struct {
	settings settings.Settings
	trust    *trust.Store

	// router is optional; nil routes everything through OnPacket only.
	router *routing.Router

	pool *network.BufferPool
	id   uuid.UUID

	// connected is compare-and-set on connect and doubles as the
	// one-shot disconnect flag for the session.
	connected atomic.Bool

	adapter    application.ConnectionAdapter
	remoteAddr net.Addr
	reader     *network.FrameReader
	writer     *network.FrameWriter
	crypto     application.PacketCrypto
	scheduler  *scheduling.KeepAliveScheduler
	cancel     context.CancelFunc

	sendMu sync.Mutex

	OnDisconnected application.Handlers[string]
	OnPacket       application.Handlers[*protocol.Packet]
}

func NewClient(cfg settings.Settings, router *routing.Router) (*Client, error) {
	trustStore, err := trust.NewStore(cfg.KnownServersFile)
	if err != nil {
		return nil, err
	}
	return &Client{
		settings: cfg,
		trust:    trustStore,
		router:   router,
		pool:     network.NewBufferPool(),
		id:       uuid.New(),
	}, nil
}

func (c *Client) ID() uuid.UUID {
	return c.id
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// Connect dials, verifies the server and completes the handshake before
// any session state is published, so a failed attempt leaves the client
// immediately reconnectable.
func (c *Client) Connect(host string, port int) error {
	if !c.connected.CompareAndSwap(false, true) {
		return application.ErrAlreadyConnected
	}
	established := false
	defer func() {
		if !established {
			c.connected.Store(false)
		}
	}()

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), c.settings.DialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s:%d: %w", host, port, err)
	}

	adapter := network.NewTCPAdapter(conn)
	reader := network.NewFrameReader(adapter, c.pool, c.settings.MaxPacketSize)
	writer := network.NewFrameWriter(adapter, c.pool, c.settings.MaxPacketSize)

	crypto, err := handshake.NewClient(c.trust).Handshake(host, port, reader, writer)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("handshake with %s:%d: %w", host, port, err)
	}

	scheduler, err := scheduling.NewKeepAliveScheduler(c.settings.KeepAlive)
	if err != nil {
		_ = conn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.adapter = adapter
	c.remoteAddr = conn.RemoteAddr()
	c.reader = reader
	c.writer = writer
	c.crypto = crypto
	c.scheduler = scheduler
	c.cancel = cancel

	scheduler.Register(c)
	go scheduler.Run(ctx)
	go c.readLoop(ctx)

	established = true
	log.Info().Stringer("remote", c.remoteAddr).Msg("connected")
	return nil
}

func (c *Client) Send(packet *protocol.Packet) error {
	if !c.connected.Load() {
		return application.ErrNotConnected
	}

	outgoing := packet
	if packet.Encrypted {
		outgoing = packet.Clone()
		if err := c.crypto.Encrypt(outgoing); err != nil {
			return err
		}
	}
	data, err := outgoing.Marshal()
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.writer.WriteFrame(data); err != nil {
		return err
	}
	c.scheduler.UpdateLastSent(c.id)
	return nil
}

// SendKeepAlive satisfies the scheduler.
func (c *Client) SendKeepAlive() error {
	if !c.connected.Load() {
		return application.ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.writer.WriteKeepAlive()
}

// DisconnectIdle satisfies the scheduler: the server went silent.
func (c *Client) DisconnectIdle() {
	c.teardownOnce("server unresponsive")
}

// Disconnect announces the disconnect to the server, then tears the
// session down. No-op without a live session.
func (c *Client) Disconnect(reason string) error {
	if !c.connected.CompareAndSwap(true, false) {
		return application.ErrNotConnected
	}

	payload, err := protocol.EncodeString(reason)
	if err == nil {
		packet := protocol.NewSystem(protocol.SystemDisconnect, payload)
		if data, marshalErr := packet.Marshal(); marshalErr == nil {
			c.sendMu.Lock()
			_ = c.writer.WriteFrame(data)
			c.sendMu.Unlock()
		}
	}

	c.teardown(reason)
	return nil
}

// teardownOnce is the silent path for loop- and scheduler-initiated
// teardowns.
func (c *Client) teardownOnce(reason string) {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	c.teardown(reason)
}

func (c *Client) teardown(reason string) {
	c.cancel()
	_ = c.adapter.Close()
	c.scheduler.Unregister(c.id)
	c.OnDisconnected.Emit(reason)
	log.Info().Str("reason", reason).Msg("disconnected")
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, network.ErrConnectionClosed) {
				log.Debug().Err(err).Msg("read failed")
			}
			c.teardownOnce("connection closed")
			return
		}
		c.scheduler.UpdateLastReceived(c.id)

		if frame == nil {
			continue
		}

		packet, err := protocol.Unmarshal(frame)
		c.reader.Release(frame)
		if err != nil {
			log.Warn().Err(err).Msg("malformed packet from server")
			c.teardownOnce("malformed packet")
			return
		}

		if protocol.IsSystem(packet.Identifier) {
			if closed := c.handleSystem(packet); closed {
				return
			}
			continue
		}

		if err := c.crypto.Decrypt(packet); err != nil {
			log.Warn().Err(err).Msg("packet decryption failed")
			c.teardownOnce("decryption failure")
			return
		}

		c.OnPacket.Emit(packet)
		if c.router != nil {
			if err := c.router.Route(c, packet); err != nil {
				log.Error().Err(err).Int("identifier", packet.Identifier).Msg("packet handler failed")
				c.teardownOnce("handler failure")
				return
			}
		}
	}
}

func (c *Client) handleSystem(packet *protocol.Packet) bool {
	switch packet.Identifier {
	case int(protocol.SystemKeepAlive):
		return false
	case int(protocol.SystemDisconnect):
		reason, err := protocol.DecodeString(packet.Payload())
		if err != nil || reason == "" {
			reason = "server disconnected"
		}
		c.teardownOnce(reason)
		return true
	default:
		log.Debug().Int("identifier", packet.Identifier).Msg("ignoring reserved packet")
		return false
	}
}

var _ application.Peer = (*Client)(nil)
var _ scheduling.Peer = (*Client)(nil)
