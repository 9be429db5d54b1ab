// Package ratelimit implements per-source token bucket rate limiting
// with separate budgets for general and sensitive endpoint classes.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket for one source. Tokens refill continuously
// at rate per second up to burst.
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewLimiter creates a full bucket.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.lastUpdate = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true
	}
	return false
}

// Tokens returns the current token count.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens
}

// Reset refills the bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = float64(l.burst)
	l.lastUpdate = time.Now()
}

// Store tracks one limiter per source key and evicts idle ones.
type Store struct {
	limiters map[string]*Limiter
	rate     float64
	burst    int
	mu       sync.RWMutex

	cleanup   time.Duration
	idleAfter time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewStore creates a limiter store. A zero cleanup interval disables
// eviction.
func NewStore(rate float64, burst int, cleanupInterval time.Duration) *Store {
	s := &Store{
		limiters:  make(map[string]*Limiter),
		rate:      rate,
		burst:     burst,
		cleanup:   cleanupInterval,
		idleAfter: 5 * time.Minute,
		stop:      make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// Allow checks whether a request from key is within budget.
func (s *Store) Allow(key string) bool {
	return s.getLimiter(key).Allow()
}

func (s *Store) getLimiter(key string) *Limiter {
	s.mu.RLock()
	limiter, exists := s.limiters[key]
	s.mu.RUnlock()
	if exists {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if limiter, exists := s.limiters[key]; exists {
		return limiter
	}
	limiter = NewLimiter(s.rate, s.burst)
	s.limiters[key] = limiter
	return limiter
}

// Reset forgets the limiter for key; the next request starts a fresh
// bucket.
func (s *Store) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limiters, key)
}

// Count returns the number of tracked sources.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// Stop terminates the eviction loop.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) evictIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, limiter := range s.limiters {
		limiter.mu.Lock()
		idle := now.Sub(limiter.lastUpdate)
		limiter.mu.Unlock()
		if idle > s.idleAfter {
			delete(s.limiters, key)
		}
	}
}
