package push

import (
	"math/rand"
	"sync"
	"time"
)

// reconnectBackoff implements full-jitter exponential backoff for the
// MQTT reconnect loop (spec.md §4.7: "exponential backoff (1s -> 60s
// cap, full jitter)"), in the same *rand.Rand-holder idiom the teacher
// uses for its queue consumer retry jitter.
type reconnectBackoff struct {
	base time.Duration
	cap  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func newReconnectBackoff() *reconnectBackoff {
	return &reconnectBackoff{
		base: time.Second,
		cap:  60 * time.Second,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next returns the delay before reconnect attempt N (1-based).
func (b *reconnectBackoff) next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	upper := b.base
	for i := 1; i < attempt && upper < b.cap; i++ {
		upper *= 2
	}
	if upper > b.cap {
		upper = b.cap
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.rnd.Int63n(int64(upper) + 1))
}
