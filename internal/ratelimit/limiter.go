// Package ratelimit caps how many messages a user may post per window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Nop allows everything.
type Nop struct{}

func (Nop) Allow(context.Context, string) (bool, error) { return true, nil }

const maxLocalKeys = 10000

// Local is an in-process token bucket per key.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	burst   int
}

func NewLocal(perWindow int, window time.Duration) *Local {
	if perWindow <= 0 {
		perWindow = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Local{
		buckets: make(map[string]*rate.Limiter),
		every:   rate.Every(window / time.Duration(perWindow)),
		burst:   perWindow,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxLocalKeys {
			l.pruneLocked()
		}
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[key] = b
	}
	return b.Allow(), nil
}

// pruneLocked drops buckets that have refilled completely.
func (l *Local) pruneLocked() {
	for k, b := range l.buckets {
		if b.Tokens() >= float64(l.burst) {
			delete(l.buckets, k)
		}
	}
}
