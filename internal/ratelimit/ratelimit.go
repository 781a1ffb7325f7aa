// file: internal/ratelimit/ratelimit.go
// version: 1.1.0
// guid: 6c7d8e9f-0a1b-2c3d-4e5f-6a7b8c9d0e1f

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned by Do when the provider's breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// MaxLayerWait bounds the cumulative breaker wait a layer spends in one
// cycle before deferring its remaining items to the next cycle.
const MaxLayerWait = 10 * time.Minute

// errRecordedFailure is used to charge the breaker without a real call.
var errRecordedFailure = errors.New("recorded failure")

// ProviderSettings holds the per-provider pacing and breaker configuration.
type ProviderSettings struct {
	MinDelay    time.Duration
	MaxFailures uint32
	Cooldown    time.Duration
}

// DefaultSettings is the per-provider table from operational experience.
// Unknown providers fall back to defaultProvider.
var DefaultSettings = map[string]ProviderSettings{
	"skaldleita":  {MinDelay: 1 * time.Second, MaxFailures: 5, Cooldown: 120 * time.Second},
	"audnexus":    {MinDelay: 2 * time.Second, MaxFailures: 3, Cooldown: 300 * time.Second},
	"openlibrary": {MinDelay: 1500 * time.Millisecond, MaxFailures: 5, Cooldown: 120 * time.Second},
	"googlebooks": {MinDelay: 1 * time.Second, MaxFailures: 5, Cooldown: 120 * time.Second},
	"hardcover":   {MinDelay: 1500 * time.Millisecond, MaxFailures: 5, Cooldown: 120 * time.Second},
	"openrouter":  {MinDelay: 5 * time.Second, MaxFailures: 3, Cooldown: 600 * time.Second},
	"gemini":      {MinDelay: 7 * time.Second, MaxFailures: 3, Cooldown: 300 * time.Second},
}

var defaultProvider = ProviderSettings{
	MinDelay:    1 * time.Second,
	MaxFailures: 5,
	Cooldown:    120 * time.Second,
}

// Limiter is the process-wide rate-limit and circuit-breaker state shared by
// every provider adapter. All mutation happens behind one mutex; the actual
// provider call never runs under it.
type Limiter struct {
	mu       sync.Mutex
	settings map[string]ProviderSettings
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
	openedAt map[string]time.Time
}

// New creates a Limiter with the default provider table.
func New() *Limiter {
	return NewWithSettings(DefaultSettings)
}

// NewWithSettings creates a Limiter with a custom table (used by tests with
// short delays and cooldowns).
func NewWithSettings(settings map[string]ProviderSettings) *Limiter {
	l := &Limiter{
		settings: make(map[string]ProviderSettings, len(settings)),
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		openedAt: make(map[string]time.Time),
	}
	for name, s := range settings {
		l.settings[name] = s
	}
	return l
}

func (l *Limiter) settingsFor(provider string) ProviderSettings {
	if s, ok := l.settings[provider]; ok {
		return s
	}
	return defaultProvider
}

// limiterFor returns the provider's token bucket, creating it on first use.
// Burst 1 with rate 1/MinDelay guarantees consecutive calls are spaced by at
// least MinDelay.
func (l *Limiter) limiterFor(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[provider]
	if !ok {
		s := l.settingsFor(provider)
		lim = rate.NewLimiter(rate.Every(s.MinDelay), 1)
		l.limiters[provider] = lim
	}
	return lim
}

func (l *Limiter) breakerFor(provider string) *gobreaker.CircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()
	cb, ok := l.breakers[provider]
	if !ok {
		s := l.settingsFor(provider)
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        provider,
			MaxRequests: 1,
			Timeout:     s.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= s.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				l.mu.Lock()
				if to == gobreaker.StateOpen {
					l.openedAt[name] = time.Now()
				} else {
					delete(l.openedAt, name)
				}
				l.mu.Unlock()
				log.Printf("[WARN] breaker %s: %s -> %s", name, from, to)
			},
		})
		l.breakers[provider] = cb
	}
	return cb
}

// Wait blocks until at least MinDelay has elapsed since the last call to the
// provider, or the context is canceled.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	return l.limiterFor(provider).Wait(ctx)
}

// Do runs fn through the provider's circuit breaker. While the breaker is
// open it returns ErrCircuitOpen without invoking fn; otherwise fn's error is
// counted and returned.
func (l *Limiter) Do(provider string, fn func() error) error {
	_, err := l.breakerFor(provider).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", provider, ErrCircuitOpen)
	}
	return err
}

// IsOpen reports whether the provider's breaker currently rejects calls.
func (l *Limiter) IsOpen(provider string) bool {
	return l.breakerFor(provider).State() == gobreaker.StateOpen
}

// RemainingCooldown returns how long until the provider's breaker re-opens
// for traffic, or 0 when it is not open.
func (l *Limiter) RemainingCooldown(provider string) time.Duration {
	if !l.IsOpen(provider) {
		return 0
	}
	l.mu.Lock()
	opened, ok := l.openedAt[provider]
	s := l.settingsFor(provider)
	l.mu.Unlock()
	if !ok {
		return s.Cooldown
	}
	remaining := time.Until(opened.Add(s.Cooldown))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordFailure charges one failure against the provider's breaker without
// issuing a call.
func (l *Limiter) RecordFailure(provider string) {
	cb := l.breakerFor(provider)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errRecordedFailure })
}

// RecordQuotaExhausted charges two failures at once: a "quota exhausted /
// limit: 0" response means retrying today is pointless, so the breaker should
// trip sooner.
func (l *Limiter) RecordQuotaExhausted(provider string) {
	l.RecordFailure(provider)
	l.RecordFailure(provider)
}

// WaitForClose blocks until the provider's breaker is no longer open,
// polling every min(remaining, 60s). It gives up after maxWait of cumulative
// waiting and returns false; the caller must not skip the layer permanently,
// only defer it to the next cycle.
func (l *Limiter) WaitForClose(ctx context.Context, provider string, maxWait time.Duration) bool {
	const maxTick = 60 * time.Second
	var waited time.Duration
	for l.IsOpen(provider) {
		if waited >= maxWait {
			return false
		}
		tick := l.RemainingCooldown(provider)
		if tick <= 0 {
			tick = time.Second
		}
		if tick > maxTick {
			tick = maxTick
		}
		if waited+tick > maxWait {
			tick = maxWait - waited
		}
		log.Printf("[INFO] breaker %s open, waiting %s (%s remaining)", provider, tick, l.RemainingCooldown(provider))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(tick):
			waited += tick
		}
	}
	return true
}
