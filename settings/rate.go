package settings

// RateSettings parameterizes the per-client dual token bucket. Sustained
// rates refill continuously; bursts cap how much can accumulate.
type RateSettings struct {
	PacketsPerSecond float64
	PacketsBurst     float64
	BytesPerSecond   float64
	BytesBurst       float64
}

func DefaultRate() RateSettings {
	return RateSettings{
		PacketsPerSecond: 20,
		PacketsBurst:     40,
		BytesPerSecond:   1000,
		BytesBurst:       2000,
	}
}
