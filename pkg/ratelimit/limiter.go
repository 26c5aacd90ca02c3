package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of a rate limit check
type Result struct {
	Allowed      bool
	RetryAfter   time.Duration
	CurrentCount int
}

// window tracks request counting for one key within a fixed window
type window struct {
	start time.Time
	count int
}

// Limiter implements per-key rate limiting over a fixed window shared across
// executions. All read-modify-write on a key happens under one mutex so
// concurrent callers cannot both pass a full window.
type Limiter struct {
	windows     map[string]*window
	maxRequests int
	windowSize  time.Duration

	mu              sync.Mutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewLimiter creates a rate limiter allowing maxRequests per windowSize per key
func NewLimiter(maxRequests int, windowSize time.Duration) *Limiter {
	rl := &Limiter{
		windows:         make(map[string]*window),
		maxRequests:     maxRequests,
		windowSize:      windowSize,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.startCleanup()

	return rl
}

// Check reports whether a request for the key would be allowed right now,
// without recording it
func (rl *Limiter) Check(key string) Result {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w := rl.currentWindow(key, time.Now())
	if w.count >= rl.maxRequests {
		return Result{
			Allowed:      false,
			RetryAfter:   rl.retryAfter(w, time.Now()),
			CurrentCount: w.count,
		}
	}

	return Result{Allowed: true, CurrentCount: w.count}
}

// Record counts one request against the key
func (rl *Limiter) Record(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w := rl.currentWindow(key, time.Now())
	w.count++
}

// Allow atomically checks and, if allowed, records a request for the key.
// This is the entry point the governor uses; separate Check+Record would
// race under concurrent callers sharing a key.
func (rl *Limiter) Allow(key string) Result {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w := rl.currentWindow(key, now)
	if w.count >= rl.maxRequests {
		return Result{
			Allowed:      false,
			RetryAfter:   rl.retryAfter(w, now),
			CurrentCount: w.count,
		}
	}

	w.count++
	return Result{Allowed: true, CurrentCount: w.count}
}

// currentWindow returns the live window for a key, resetting it when the
// window has elapsed. Callers must hold the mutex.
func (rl *Limiter) currentWindow(key string, now time.Time) *window {
	w, exists := rl.windows[key]
	if !exists || now.Sub(w.start) >= rl.windowSize {
		w = &window{start: now}
		rl.windows[key] = w
	}
	return w
}

// retryAfter computes how long until the key's window resets
func (rl *Limiter) retryAfter(w *window, now time.Time) time.Duration {
	remaining := rl.windowSize - now.Sub(w.start)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// startCleanup periodically removes expired windows
func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes windows that have fully elapsed
func (rl *Limiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, w := range rl.windows {
		if now.Sub(w.start) >= rl.windowSize {
			delete(rl.windows, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}
