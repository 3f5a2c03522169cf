package settings

import "time"

// Settings carries everything a server or client needs to run a session.
// Zero values are not usable; start from Default and override.
type Settings struct {
	Host string
	Port int

	// MaxPacketSize bounds the serialized envelope, length prefix excluded.
	MaxPacketSize int

	DialTimeout time.Duration

	// HandshakeTimeout bounds the server-side handshake of an accepted
	// stream.
	HandshakeTimeout time.Duration

	KeepAlive KeepAliveSettings
	Rate      RateSettings

	// BroadcastConcurrency caps in-flight broadcast sends across all clients.
	BroadcastConcurrency int

	// ShutdownTimeout is how long Stop waits for per-client tasks before
	// forcibly closing the stragglers.
	ShutdownTimeout time.Duration

	IdentityFile     string
	KnownServersFile string
}

func Default() Settings {
	return Settings{
		Host:                 "localhost",
		Port:                 DefaultPort,
		MaxPacketSize:        DefaultMaxPacketSize,
		DialTimeout:          DefaultDialTimeout,
		HandshakeTimeout:     DefaultHandshakeTimeout,
		KeepAlive:            DefaultKeepAlive(),
		Rate:                 DefaultRate(),
		BroadcastConcurrency: DefaultBroadcastConcurrency,
		ShutdownTimeout:      DefaultShutdownTimeout,
		IdentityFile:         DefaultIdentityFile,
		KnownServersFile:     DefaultKnownServersFile,
	}
}
