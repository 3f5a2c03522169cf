package server

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"portlink/application"
	"portlink/domain/protocol"
	"portlink/infrastructure/client"
	"portlink/infrastructure/cryptography/handshake"
	"portlink/infrastructure/cryptography/trust"
	"portlink/infrastructure/network"
	"portlink/infrastructure/routing"
	"portlink/settings"
)

var echoIdentifier = protocol.MustPacketIdentifier(101)

func serverSettings(t *testing.T) settings.Settings {
	t.Helper()
	cfg := settings.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.KeepAlive = settings.KeepAliveSettings{Interval: 100 * time.Millisecond, Timeout: 400 * time.Millisecond}
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.IdentityFile = filepath.Join(t.TempDir(), "server_key.json")
	cfg.KnownServersFile = filepath.Join(t.TempDir(), "unused.json")
	return cfg
}

func clientSettings(t *testing.T, base settings.Settings) settings.Settings {
	t.Helper()
	cfg := base
	cfg.KnownServersFile = filepath.Join(t.TempDir(), "known_servers.json")
	return cfg
}

func startServer(t *testing.T, cfg settings.Settings, router *routing.Router) (*Server, int) {
	t.Helper()
	if router == nil {
		router = routing.NewRouter()
	}
	s, err := NewServer(cfg, router)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s, s.Addr().(*net.TCPAddr).Port
}

func TestEndToEnd_EncryptedEcho(t *testing.T) {
	cfg := serverSettings(t)
	router := routing.NewRouter()
	router.Register(echoIdentifier, func(peer application.Peer, packet *protocol.Packet) error {
		reply := protocol.New(echoIdentifier, true, packet.Payload())
		return peer.Send(reply)
	})

	srv, port := startServer(t, cfg, router)

	connected := make(chan *Connection, 1)
	srv.OnClientConnected.Subscribe(func(c *Connection) { connected <- c })

	c, err := client.NewClient(clientSettings(t, cfg), nil)
	require.NoError(t, err)

	received := make(chan *protocol.Packet, 1)
	c.OnPacket.Subscribe(func(p *protocol.Packet) { received <- p })

	require.NoError(t, c.Connect("127.0.0.1", port))

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the client")
	}
	require.Equal(t, 1, srv.ConnectionCount())

	payload, err := protocol.EncodeString("Hello")
	require.NoError(t, err)
	require.NoError(t, c.Send(protocol.New(echoIdentifier, true, payload)))

	select {
	case echo := <-received:
		require.True(t, echo.Encrypted)
		text, err := protocol.DecodeString(echo.Payload())
		require.NoError(t, err)
		require.Equal(t, "Hello", text)
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived")
	}

	disconnected := make(chan *Connection, 1)
	srv.OnClientDisconnected.Subscribe(func(conn *Connection) { disconnected <- conn })

	require.NoError(t, c.Disconnect("done"))
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the disconnect")
	}
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEndToEnd_ConnectTwiceFails(t *testing.T) {
	cfg := serverSettings(t)
	_, port := startServer(t, cfg, nil)

	c, err := client.NewClient(clientSettings(t, cfg), nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect("127.0.0.1", port))

	require.ErrorIs(t, c.Connect("127.0.0.1", port), application.ErrAlreadyConnected)

	require.NoError(t, c.Disconnect("test over"))
}

func TestEndToEnd_TOFUMismatch(t *testing.T) {
	cfg := serverSettings(t)
	_, port := startServer(t, cfg, nil)

	clientCfg := clientSettings(t, cfg)

	// Pin a fingerprint that cannot match the server's identity.
	store, err := trust.NewStore(clientCfg.KnownServersFile)
	require.NoError(t, err)
	_, err = store.VerifyOrTrust("127.0.0.1", port, []byte("an imposter key"))
	require.NoError(t, err)

	c, err := client.NewClient(clientCfg, nil)
	require.NoError(t, err)

	err = c.Connect("127.0.0.1", port)
	require.ErrorIs(t, err, handshake.ErrIdentityMismatch)
	require.False(t, c.Connected())

	// The failed connect left the client reconnectable; a fresh trust
	// store accepts the server.
	c2, err := client.NewClient(clientSettings(t, cfg), nil)
	require.NoError(t, err)
	require.NoError(t, c2.Connect("127.0.0.1", port))
	require.NoError(t, c2.Disconnect("ok"))
}

func TestEndToEnd_KeepAliveTimeoutDisconnectsStalledClient(t *testing.T) {
	cfg := serverSettings(t)
	srv, port := startServer(t, cfg, nil)

	disconnected := make(chan *Connection, 1)
	srv.OnClientDisconnected.Subscribe(func(c *Connection) { disconnected <- c })

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	store, err := trust.NewStore(filepath.Join(t.TempDir(), "known_servers.json"))
	require.NoError(t, err)
	pool := network.NewBufferPool()
	reader := network.NewFrameReader(conn, pool, cfg.MaxPacketSize)
	writer := network.NewFrameWriter(conn, pool, cfg.MaxPacketSize)
	_, err = handshake.NewClient(store).Handshake("127.0.0.1", port, reader, writer)
	require.NoError(t, err)

	// Stall: never read, never write. The scheduler must cut the client
	// loose within timeout plus a grace second.
	select {
	case <-disconnected:
	case <-time.After(cfg.KeepAlive.Timeout + time.Second):
		t.Fatal("stalled client was never disconnected")
	}
}

func TestEndToEnd_KeepAlivesKeepIdleSessionAlive(t *testing.T) {
	cfg := serverSettings(t)
	srv, port := startServer(t, cfg, nil)

	c, err := client.NewClient(clientSettings(t, cfg), nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect("127.0.0.1", port))

	// Neither side sends application traffic for several timeout spans;
	// mutual keep-alives must hold the session open.
	time.Sleep(3 * cfg.KeepAlive.Timeout)
	require.True(t, c.Connected())
	require.Equal(t, 1, srv.ConnectionCount())

	require.NoError(t, c.Disconnect("still alive"))
}

func TestEndToEnd_RateLimitDisconnects(t *testing.T) {
	cfg := serverSettings(t)
	cfg.Rate = settings.RateSettings{
		PacketsPerSecond: 1,
		PacketsBurst:     3,
		BytesPerSecond:   100000,
		BytesBurst:       100000,
	}
	_, port := startServer(t, cfg, nil)

	c, err := client.NewClient(clientSettings(t, cfg), nil)
	require.NoError(t, err)

	reasons := make(chan string, 1)
	c.OnDisconnected.Subscribe(func(reason string) { reasons <- reason })

	require.NoError(t, c.Connect("127.0.0.1", port))

	// One packet past the burst budget trips the limiter; the server
	// reads all of them, so the Disconnect envelope arrives on a clean
	// close.
	payload, err := protocol.EncodeString("x")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_ = c.Send(protocol.New(echoIdentifier, false, payload))
	}

	select {
	case reason := <-reasons:
		require.Equal(t, "Rate limit exceeded.", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("rate-limited client was never disconnected")
	}
}

func TestEndToEnd_BroadcastReachesAllClients(t *testing.T) {
	cfg := serverSettings(t)
	srv, port := startServer(t, cfg, nil)

	const clientCount = 5
	received := make(chan string, clientCount)
	clients := make([]*client.Client, clientCount)
	for i := range clients {
		c, err := client.NewClient(clientSettings(t, cfg), nil)
		require.NoError(t, err)
		c.OnPacket.Subscribe(func(p *protocol.Packet) {
			text, _ := protocol.DecodeString(p.Payload())
			received <- text
		})
		require.NoError(t, c.Connect("127.0.0.1", port))
		clients[i] = c
	}
	require.Eventually(t, func() bool { return srv.ConnectionCount() == clientCount }, 2*time.Second, 10*time.Millisecond)

	payload, err := protocol.EncodeString("fan-out")
	require.NoError(t, err)
	require.NoError(t, srv.Broadcast(context.Background(), protocol.New(echoIdentifier, true, payload)))

	for i := 0; i < clientCount; i++ {
		select {
		case text := <-received:
			require.Equal(t, "fan-out", text)
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d never received the broadcast", i)
		}
	}

	for _, c := range clients {
		require.NoError(t, c.Disconnect("done"))
	}
}

func TestEndToEnd_GracefulShutdownWithLaggard(t *testing.T) {
	cfg := serverSettings(t)
	cfg.ShutdownTimeout = time.Second
	srv, port := startServer(t, cfg, nil)

	const wellBehaved = 4
	reasons := make(chan string, wellBehaved)
	for i := 0; i < wellBehaved; i++ {
		c, err := client.NewClient(clientSettings(t, cfg), nil)
		require.NoError(t, err)
		c.OnDisconnected.Subscribe(func(reason string) { reasons <- reason })
		require.NoError(t, c.Connect("127.0.0.1", port))
	}

	// One client that completed its handshake but reads nothing.
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()
	store, err := trust.NewStore(filepath.Join(t.TempDir(), "known_servers.json"))
	require.NoError(t, err)
	pool := network.NewBufferPool()
	reader := network.NewFrameReader(conn, pool, cfg.MaxPacketSize)
	writer := network.NewFrameWriter(conn, pool, cfg.MaxPacketSize)
	_, err = handshake.NewClient(store).Handshake("127.0.0.1", port, reader, writer)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.ConnectionCount() == wellBehaved+1 }, 2*time.Second, 10*time.Millisecond)

	stopDone := make(chan error, 1)
	go func() { stopDone <- srv.Stop() }()

	select {
	case err := <-stopDone:
		require.NoError(t, err)
	case <-time.After(cfg.ShutdownTimeout + 3*time.Second):
		t.Fatal("Stop did not return")
	}

	require.Equal(t, 0, srv.ConnectionCount(), "registry must be empty after stop")

	for i := 0; i < wellBehaved; i++ {
		select {
		case reason := <-reasons:
			require.Equal(t, "Server is shutting down.", reason)
		case <-time.After(2 * time.Second):
			t.Fatal("well-behaved client missed the shutdown notice")
		}
	}
}

func TestServer_SendToUnknownClient(t *testing.T) {
	cfg := serverSettings(t)
	srv, _ := startServer(t, cfg, nil)

	err := srv.SendToClient(uuid.New(), protocol.New(echoIdentifier, false, nil))
	require.ErrorIs(t, err, ErrUnknownClient)
}
