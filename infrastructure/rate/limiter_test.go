package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portlink/settings"
)

func TestLimiter_BurstThenReject(t *testing.T) {
	limiter := NewLimiter(settings.RateSettings{
		PacketsPerSecond: 1,
		PacketsBurst:     5,
		BytesPerSecond:   1000,
		BytesBurst:       10000,
	})

	for i := 0; i < 5; i++ {
		require.True(t, limiter.TryConsume(10), "packet %d should pass within burst", i)
	}
	require.False(t, limiter.TryConsume(10), "burst exhausted")
}

func TestLimiter_ByteBucketExhaustsFirst(t *testing.T) {
	limiter := NewLimiter(settings.RateSettings{
		PacketsPerSecond: 20,
		PacketsBurst:     40,
		BytesPerSecond:   1000,
		BytesBurst:       2000,
	})

	// At 50 bytes a packet both buckets would allow 40; at 100 bytes the
	// byte bucket runs dry after 20 while 20 packet tokens remain.
	accepted := 0
	for i := 0; i < 100; i++ {
		if limiter.TryConsume(100) {
			accepted++
		}
	}
	require.Equal(t, 20, accepted, "2000 byte burst / 100 bytes per packet")
}

func TestLimiter_FailedAttemptDebitsNothing(t *testing.T) {
	limiter := NewLimiter(settings.RateSettings{
		PacketsPerSecond: 1,
		PacketsBurst:     10,
		BytesPerSecond:   1,
		BytesBurst:       100,
	})

	require.False(t, limiter.TryConsume(101), "over byte burst")
	// The failed attempt must not have debited the byte bucket: the full
	// 100-byte burst is still available.
	require.True(t, limiter.TryConsume(100))
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	limiter := NewLimiter(settings.RateSettings{
		PacketsPerSecond: 100,
		PacketsBurst:     1,
		BytesPerSecond:   10000,
		BytesBurst:       100,
	})

	require.True(t, limiter.TryConsume(1))
	require.False(t, limiter.TryConsume(1))

	time.Sleep(30 * time.Millisecond) // 100 pkt/s refills a token in 10ms
	require.True(t, limiter.TryConsume(1))
}

func TestLimiter_RefillCapsAtBurst(t *testing.T) {
	limiter := NewLimiter(settings.RateSettings{
		PacketsPerSecond: 1000,
		PacketsBurst:     2,
		BytesPerSecond:   1000000,
		BytesBurst:       1000,
	})

	time.Sleep(20 * time.Millisecond)

	require.True(t, limiter.TryConsume(1))
	require.True(t, limiter.TryConsume(1))
	require.False(t, limiter.TryConsume(1), "burst cap is 2 regardless of idle time")
}
