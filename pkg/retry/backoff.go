// Package retry provides backoff delay computation
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	// MinDelay is the floor applied to every computed delay
	MinDelay = 50 * time.Millisecond

	// JitterFraction is the maximum relative perturbation applied when jitter is enabled
	JitterFraction = 0.25
)

// JitterSource yields uniform values in [0, 1)
type JitterSource interface {
	Float64() float64
}

// lockedSource makes a *rand.Rand safe for concurrent use
type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

// NewJitterSource creates a seeded, goroutine-safe jitter source
func NewJitterSource(seed int64) JitterSource {
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

// Delay computes the wait after failed attempt n (1-based) under p.
// Without jitter the result is min(InitialDelay*BackoffFactor^(n-1), MaxDelay).
// With jitter it is perturbed uniformly by up to ±JitterFraction. The result is
// always clamped to [MinDelay, MaxDelay].
func Delay(attempt int, p Policy, src JitterSource) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 1) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter && src != nil {
		delay += (src.Float64()*2 - 1) * JitterFraction * delay
	}

	result := time.Duration(delay)
	if result > p.MaxDelay {
		result = p.MaxDelay
	}
	if result < MinDelay {
		result = MinDelay
	}
	return result
}
