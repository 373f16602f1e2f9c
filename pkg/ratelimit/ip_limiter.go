package ratelimit

import (
	"sync"
	"time"
)

// KeyedLimiter keeps one token bucket per client key (an IP address, a session id)
type KeyedLimiter struct {
	limiters   map[string]*TokenBucket
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	now        func() time.Time
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewKeyedLimiter creates a limiter and starts a janitor that drops idle buckets every cleanupEvery
func NewKeyedLimiter(maxTokens, refillRate float64, cleanupEvery time.Duration) *KeyedLimiter {
	limiter := &KeyedLimiter{
		limiters:   make(map[string]*TokenBucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}

	if cleanupEvery > 0 {
		go limiter.cleanupLoop(cleanupEvery)
	}

	return limiter
}

// Allow checks if a request for the given key can proceed
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.getLimiter(key).Allow()
}

func (kl *KeyedLimiter) getLimiter(key string) *TokenBucket {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	limiter, exists := kl.limiters[key]

	if !exists {
		limiter = newTokenBucket(kl.maxTokens, kl.refillRate, kl.now)
		kl.limiters[key] = limiter
	}
	return limiter
}

// Len returns the number of tracked keys
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// Sweep removes buckets that have refilled completely; they carry no state worth keeping
func (kl *KeyedLimiter) Sweep() {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	for key, limiter := range kl.limiters {
		if limiter.Full() {
			delete(kl.limiters, key)
		}
	}
}

func (kl *KeyedLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			kl.Sweep()
		case <-kl.stopChan:
			return
		}
	}
}

// Stop stops the janitor goroutine
func (kl *KeyedLimiter) Stop() {
	kl.stopOnce.Do(func() { close(kl.stopChan) })
}
