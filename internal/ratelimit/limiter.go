// Package ratelimit implements the per-sender command limiter: a counter per
// key that expires ttl after its last increment.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Limiter counts attempts per key inside a sliding TTL window.
type Limiter struct {
	mu    sync.Mutex
	cache *gocache.Cache
	ttl   time.Duration
	max   int
}

// New builds a limiter allowing max attempts per ttl window.
func New(ttl time.Duration, max int) *Limiter {
	cleanup := ttl
	if cleanup < time.Second {
		cleanup = time.Second
	}

	return &Limiter{
		cache: gocache.New(ttl, cleanup),
		ttl:   ttl,
		max:   max,
	}
}

// Exceeded reports whether key already reached the maximum count.
func (l *Limiter) Exceeded(key int64) bool {
	return l.Count(key) >= l.max
}

// Allow counts an attempt for key unless key already reached the maximum.
// The check and the increment happen under one lock, so concurrent attempts
// from the same key never get past max.
func (l *Limiter) Allow(key int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := cacheKey(key)
	count := 0
	if val, ok := l.cache.Get(k); ok {
		count = val.(int)
	}
	if count >= l.max {
		return false
	}

	l.cache.Set(k, count+1, l.ttl)
	return true
}

// Increment bumps the counter for key and restarts its window.
func (l *Limiter) Increment(key int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := cacheKey(key)
	count := 0
	if val, ok := l.cache.Get(k); ok {
		count = val.(int)
	}

	l.cache.Set(k, count+1, l.ttl)
}

// Count returns the current counter for key, zero once the window expired.
func (l *Limiter) Count(key int64) int {
	val, ok := l.cache.Get(cacheKey(key))
	if !ok {
		return 0
	}

	return val.(int)
}

// Reset forgets key.
func (l *Limiter) Reset(key int64) {
	l.cache.Delete(cacheKey(key))
}

func cacheKey(key int64) string {
	return strconv.FormatInt(key, 10)
}
