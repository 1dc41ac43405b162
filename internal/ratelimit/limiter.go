package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds rate limiting configuration
type Config struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Limiter is an in-memory token bucket per key
type Limiter struct {
	config Config
	logger *logrus.Logger

	buckets map[string]*bucket
	mutex   sync.Mutex

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewLimiter creates a limiter. A disabled limiter allows everything and
// starts no goroutine.
func NewLimiter(config Config, logger *logrus.Logger) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	rl := &Limiter{
		config:      config,
		logger:      logger,
		buckets:     make(map[string]*bucket),
		stopCleanup: make(chan struct{}),
	}

	if config.Enabled {
		go rl.cleanupLoop()
	}
	return rl
}

// Allow consumes one token for key
func (rl *Limiter) Allow(ctx context.Context, key string) *Result {
	if !rl.config.Enabled {
		return &Result{Allowed: true, Remaining: rl.config.BurstSize}
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.buckets[key] = b
	}

	perSecond := float64(rl.config.RequestsPerMinute) / 60
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(b.tokens+elapsed*perSecond, float64(rl.config.BurstSize))
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return &Result{Allowed: true, Remaining: int(b.tokens)}
	}

	retryAfter := time.Duration((1 - b.tokens) / perSecond * float64(time.Second))

	rl.logger.WithFields(logrus.Fields{
		"key":         maskKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	return &Result{Allowed: false, RetryAfter: retryAfter}
}

// Stop ends the cleanup goroutine
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *Limiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets that have refilled completely
func (rl *Limiter) cleanup(now time.Time) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	full := time.Duration(float64(rl.config.BurstSize) / float64(rl.config.RequestsPerMinute) * float64(time.Minute))
	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) > full {
			delete(rl.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.WithField("removed_buckets", removed).Debug("Rate limit cleanup completed")
	}
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
