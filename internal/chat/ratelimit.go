package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter implements per-sender command rate limiting
type RateLimiter struct {
	mu       sync.Mutex
	senders  map[string]*senderLimit
	config   RateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once
}

type senderLimit struct {
	limiter *rate.Limiter
	lastCmd time.Time
}

// RateLimitConfig configures rate limiting behavior
type RateLimitConfig struct {
	// CommandsPerSecond is the sustained rate
	CommandsPerSecond float64
	// Burst is how many commands may be sent back to back
	Burst int
	// IdleTimeout drops limiters of senders that went quiet
	IdleTimeout time.Duration
}

// DefaultRateLimitConfig for chat commands
var DefaultRateLimitConfig = RateLimitConfig{
	CommandsPerSecond: 2,               // 1 command per 500ms sustained
	Burst:             5,               // 5 commands at once
	IdleTimeout:       5 * time.Minute, // forget quiet senders
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		senders:  make(map[string]*senderLimit),
		config:   cfg,
		stopChan: make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanupLoop()

	return rl
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

// Allow checks if a sender can execute a command
func (rl *RateLimiter) Allow(sender string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	l, ok := rl.senders[sender]
	if !ok {
		l = &senderLimit{limiter: rate.NewLimiter(rate.Limit(rl.config.CommandsPerSecond), rl.config.Burst)}
		rl.senders[sender] = l
	}
	l.lastCmd = now
	return l.limiter.AllowN(now, 1)
}

// Tracked returns how many senders currently have a limiter.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.senders)
}

func (rl *RateLimiter) cleanupLoop() {
	interval := rl.config.IdleTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case now := <-ticker.C:
			rl.cleanup(now)
		}
	}
}

// cleanup removes limiters idle since before now-IdleTimeout
func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.config.IdleTimeout)
	for key, l := range rl.senders {
		if l.lastCmd.Before(cutoff) {
			delete(rl.senders, key)
		}
	}
}
