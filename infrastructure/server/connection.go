package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"portlink/application"
	"portlink/domain/protocol"
	"portlink/infrastructure/network"
	"portlink/infrastructure/rate"
	"portlink/infrastructure/scheduling"
)

// Connection is one accepted client session. All writes are serialized
// through the send mutex; disconnect is one-shot, later invocations are
// no-ops.
type Connection struct {
	id         uuid.UUID
	adapter    application.ConnectionAdapter
	remoteAddr net.Addr

	reader *network.FrameReader
	writer *network.FrameWriter

	sendMu sync.Mutex

	// crypto is bound once, when the handshake completes and before the
	// read loop starts, and never reverts.
	crypto application.PacketCrypto

	limiter   *rate.Limiter
	scheduler *scheduling.KeepAliveScheduler

	cancel       context.CancelFunc
	disconnected atomic.Bool

	// onClosed removes the connection from the server registry and fires
	// the disconnect event. Called exactly once, from teardown.
	onClosed func(c *Connection, reason string)
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// Send serializes, optionally encrypts, and writes one packet. Packets
// sent through one connection arrive in send-mutex acquisition order.
func (c *Connection) Send(packet *protocol.Packet) error {
	if c.disconnected.Load() {
		return application.ErrNotConnected
	}
	return c.write(packet)
}

func (c *Connection) write(packet *protocol.Packet) error {
	outgoing := packet
	if packet.Encrypted {
		// Encrypt a copy: the caller's packet may be shared across
		// connections with different session keys.
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

// SendKeepAlive emits a zero-length frame. The scheduler already
// accounted for it, so last-sent is not updated here.
func (c *Connection) SendKeepAlive() error {
	if c.disconnected.Load() {
		return application.ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.writer.WriteKeepAlive()
}

// Disconnect sends a best-effort Disconnect envelope, then tears the
// session down. Safe to call any number of times.
func (c *Connection) Disconnect(reason string) error {
	if !c.disconnected.CompareAndSwap(false, true) {
		return nil
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

// disconnectSilent skips the Disconnect envelope, for peers that are
// already unreachable.
func (c *Connection) disconnectSilent(reason string) {
	if !c.disconnected.CompareAndSwap(false, true) {
		return
	}
	c.teardown(reason)
}

// DisconnectIdle satisfies the scheduler: the peer missed its liveness
// window, so there is no point writing to it.
func (c *Connection) DisconnectIdle() {
	c.disconnectSilent("keep-alive timeout")
}

// forceClose unblocks any pending I/O without waiting for the normal
// disconnect path. Used when graceful shutdown runs out of patience.
func (c *Connection) forceClose() {
	_ = c.adapter.Close()
}

func (c *Connection) teardown(reason string) {
	c.cancel()
	_ = c.adapter.Close()
	c.scheduler.Unregister(c.id)
	c.onClosed(c, reason)
}

var _ application.Peer = (*Connection)(nil)
var _ scheduling.Peer = (*Connection)(nil)
