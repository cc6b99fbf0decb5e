package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Rolling-window token bucket with 429 backoff
// ---------------------------------------------------------------------------

// Config configures a Limiter bound to one upstream API.
type Config struct {
	Name string `yaml:"name"`

	// MaxCalls is the number of requests allowed in any rolling Window.
	MaxCalls int `yaml:"max_calls"`

	// Window is the rolling window length. Default 60s.
	Window time.Duration `yaml:"window"`

	// BaseBackoff is the first 429 delay before the multiplier. Default 1s.
	BaseBackoff time.Duration `yaml:"base_backoff"`

	// MaxBackoff caps a single 429 sleep. Default 60s.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// MaxMultiplier caps the geometric backoff multiplier. Default 8.
	MaxMultiplier float64 `yaml:"max_multiplier"`
}

// DefaultConfig returns a 60 req/min limiter.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		MaxCalls:      60,
		Window:        time.Minute,
		BaseBackoff:   time.Second,
		MaxBackoff:    time.Minute,
		MaxMultiplier: 8,
	}
}

// Clock abstracts time so tests can drive the limiter deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Limiter throttles requests to one upstream. Every spent token returns to
// the bucket exactly Window after it was spent, so no rolling Window ever
// sees more than MaxCalls acquisitions.
type Limiter struct {
	config Config
	clock  Clock
	rng    *rand.Rand

	mu          sync.Mutex
	spent       []time.Time // acquisition times inside the current window, oldest first
	multiplier  float64
	consecutive int

	acquired    int64
	rateLimited int64
	waited      time.Duration
}

// New creates a limiter with the real clock.
func New(config Config) *Limiter {
	return NewWithClock(config, realClock{})
}

// NewWithClock creates a limiter driven by clock.
func NewWithClock(config Config, clock Clock) *Limiter {
	if config.MaxCalls <= 0 {
		config.MaxCalls = 60
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = time.Minute
	}
	if config.MaxMultiplier < 1 {
		config.MaxMultiplier = 8
	}
	return &Limiter{
		config:     config,
		clock:      clock,
		rng:        rand.New(rand.NewSource(clock.Now().UnixNano())),
		spent:      make([]time.Time, 0, config.MaxCalls),
		multiplier: 1.0,
	}
}

// Acquire blocks until one request may be issued. It only fails when ctx is
// cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.clock.Now()
		l.evict(now)
		if len(l.spent) < l.config.MaxCalls {
			l.spent = append(l.spent, now)
			l.acquired++
			l.mu.Unlock()
			return nil
		}
		// Bucket empty: sleep until the oldest token comes back.
		wait := l.spent[0].Add(l.config.Window).Sub(now)
		l.waited += wait
		l.mu.Unlock()

		log.Debug().
			Str("limiter", l.config.Name).
			Dur("wait", wait).
			Msg("ratelimit: window exhausted, waiting")

		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// evict drops acquisitions that left the rolling window. Caller holds mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.config.Window)
	i := 0
	for i < len(l.spent) && !l.spent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.spent = append(l.spent[:0], l.spent[i:]...)
	}
}

// Available returns how many requests could be issued right now.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.clock.Now())
	return l.config.MaxCalls - len(l.spent)
}

// Handle429 records an explicit rate-limit response from upstream: the
// multiplier grows geometrically (capped) and the caller sleeps a jittered,
// exponentially increasing delay. It never fails except on ctx cancellation.
func (l *Limiter) Handle429(ctx context.Context) error {
	l.mu.Lock()
	l.consecutive++
	l.rateLimited++
	l.multiplier = math.Min(l.multiplier*2, l.config.MaxMultiplier)
	delay := l.backoffLocked(l.consecutive, l.multiplier)
	jitter := time.Duration(l.rng.Float64() * 0.25 * float64(delay))
	consecutive, multiplier := l.consecutive, l.multiplier
	l.mu.Unlock()

	log.Warn().
		Str("limiter", l.config.Name).
		Int("consecutive_429", consecutive).
		Float64("multiplier", multiplier).
		Dur("backoff", delay+jitter).
		Msg("ratelimit: upstream returned 429, backing off")

	return l.clock.Sleep(ctx, delay+jitter)
}

// Reset is called after a successful request and decays the multiplier
// back toward 1.0.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutive = 0
	l.multiplier = math.Max(1.0, l.multiplier/2)
}

// NextBackoff returns the un-jittered delay the next 429 would cause.
func (l *Limiter) NextBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoffLocked(l.consecutive+1, math.Min(l.multiplier*2, l.config.MaxMultiplier))
}

func (l *Limiter) backoffLocked(consecutive int, multiplier float64) time.Duration {
	exp := math.Pow(2, float64(consecutive-1))
	d := float64(l.config.BaseBackoff) * exp * multiplier
	if d > float64(l.config.MaxBackoff) || math.IsInf(d, 0) {
		return l.config.MaxBackoff
	}
	return time.Duration(d)
}

// Stats reports limiter counters.
type Stats struct {
	Name        string        `json:"name"`
	Acquired    int64         `json:"acquired"`
	RateLimited int64         `json:"rate_limited"`
	Multiplier  float64       `json:"multiplier"`
	Available   int           `json:"available"`
	Waited      time.Duration `json:"waited"`
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.clock.Now())
	return Stats{
		Name:        l.config.Name,
		Acquired:    l.acquired,
		RateLimited: l.rateLimited,
		Multiplier:  l.multiplier,
		Available:   l.config.MaxCalls - len(l.spent),
		Waited:      l.waited,
	}
}
