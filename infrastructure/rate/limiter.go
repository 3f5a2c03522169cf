// Package rate enforces per-client packet and byte budgets with a dual
// token bucket refilled continuously from the monotonic clock.
package rate

import (
	"sync"
	"time"

	"portlink/settings"
)

type Limiter struct {
	mu sync.Mutex

	packetsPerSecond float64
	packetsBurst     float64
	bytesPerSecond   float64
	bytesBurst       float64

	availablePackets float64
	availableBytes   float64
	lastRefill       time.Time
}

// NewLimiter starts with both buckets full, so a client gets its burst
// allowance immediately after connecting.
func NewLimiter(s settings.RateSettings) *Limiter {
	return &Limiter{
		packetsPerSecond: s.PacketsPerSecond,
		packetsBurst:     s.PacketsBurst,
		bytesPerSecond:   s.BytesPerSecond,
		bytesBurst:       s.BytesBurst,
		availablePackets: s.PacketsBurst,
		availableBytes:   s.BytesBurst,
		lastRefill:       time.Now(),
	}
}

// TryConsume refills both buckets, then debits one packet and byteCount
// bytes if and only if both debits fit. A failed attempt debits nothing.
func (l *Limiter) TryConsume(byteCount int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now

	l.availablePackets = min(l.availablePackets+elapsed*l.packetsPerSecond, l.packetsBurst)
	l.availableBytes = min(l.availableBytes+elapsed*l.bytesPerSecond, l.bytesBurst)

	if l.availablePackets < 1 || l.availableBytes < float64(byteCount) {
		return false
	}
	l.availablePackets--
	l.availableBytes -= float64(byteCount)
	return true
}
