package settings

import "time"

const (
	// KeepAliveInterval is how long a connection may sit without outbound
	// traffic before a keep-alive frame is emitted for it.
	KeepAliveInterval = 5 * time.Second

	// KeepAliveTimeout is how long a peer may stay silent before its
	// session is torn down. Must be larger than KeepAliveInterval so a
	// healthy peer always gets pinged before it can time out.
	KeepAliveTimeout = 15 * time.Second
)

type KeepAliveSettings struct {
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultKeepAlive() KeepAliveSettings {
	return KeepAliveSettings{
		Interval: KeepAliveInterval,
		Timeout:  KeepAliveTimeout,
	}
}

// Valid reports whether the interval/timeout pair can drive a scheduler.
func (k KeepAliveSettings) Valid() bool {
	return k.Interval > 0 && k.Timeout > 0 && k.Interval < k.Timeout
}
