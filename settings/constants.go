package settings

import "time"

const (
	DefaultPort = 25565

	// DefaultMaxPacketSize is the largest serialized envelope accepted on
	// the wire. Frames announcing more than this are treated as hostile.
	DefaultMaxPacketSize = 64 * 1024

	DefaultDialTimeout = 5 * time.Second

	// DefaultHandshakeTimeout bounds how long an accepted stream may
	// take to complete its handshake before the server gives up on it.
	DefaultHandshakeTimeout = 10 * time.Second

	DefaultBroadcastConcurrency = 100

	DefaultShutdownTimeout = 10 * time.Second

	DefaultIdentityFile     = "server_key.json"
	DefaultKnownServersFile = "known_servers.json"
)
