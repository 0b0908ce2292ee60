package transport

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// retryPolicy is the network-error backoff policy C6 owns per spec §4.6:
// base 0.5s, factor 2, max 3 attempts, jitter +-20%.
type retryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	JitterPct   float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		JitterPct:   0.20,
	}
}

// next computes the delay before retry attempt (1-based). ok is false once
// attempts are exhausted.
func (p retryPolicy) next(seed string, attempt int) (delay time.Duration, ok bool) {
	if attempt <= 0 || attempt > p.MaxAttempts {
		return 0, false
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	raw := base
	for i := 1; i < attempt; i++ {
		raw = time.Duration(float64(raw) * mult)
	}
	if p.JitterPct <= 0 {
		return raw, true
	}
	u := deterministicUnit(fmt.Sprintf("%s:%d", seed, attempt))
	x := (u * 2.0) - 1.0
	jittered := time.Duration(float64(raw) * (1.0 + x*p.JitterPct))
	if jittered < 0 {
		jittered = 0
	}
	return jittered, true
}

// deterministicUnit hashes parts into a stable value in [0,1).
func deterministicUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u%1_000_000) / 1_000_000.0
}
