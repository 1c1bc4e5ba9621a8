package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"taskpilot/pkg/config"
	"taskpilot/pkg/logger"
)

const (
	historyWindow = time.Hour
	burstWindow   = 10 * time.Second
	maxBackoff    = 30 * time.Second
)

// fallbackLimit applies when a service has no configured entry at all.
var fallbackLimit = config.ServiceLimit{PerMinute: 10, PerHour: 100, Burst: 2, Cooldown: 6.0}

// serviceAliases folds caller-supplied names (URLs, model ids) onto the
// canonical keys the limit table is keyed by. First match wins.
var serviceAliases = []struct{ substr, key string }{
	{"claude", "anthropic"},
	{"anthropic", "anthropic"},
	{"gpt", "openai"},
	{"tts", "openai"},
	{"openai", "openai"},
	{"techcrunch", "techcrunch"},
	{"arstechnica", "arstechnica"},
	{"theverge", "theverge"},
	{"hackernews", "hackernews"},
	{"ycombinator", "hackernews"},
	{"tweet", "twitter"},
	{"twitter", "twitter"},
}

// ServiceStats is a point-in-time view of one service's pacing state.
type ServiceStats struct {
	Service           string  `json:"service"`
	RequestsLastMin   int     `json:"requests_last_minute"`
	RequestsLastHour  int     `json:"requests_last_hour"`
	MinuteLimit       int     `json:"minute_limit"`
	HourLimit         int     `json:"hour_limit"`
	MinuteUtilization float64 `json:"minute_utilization"`
	HourUtilization   float64 `json:"hour_utilization"`
	BackingOff        bool    `json:"is_backing_off"`
}

// Limiter paces outbound calls per external service with sliding
// per-minute and per-hour windows, a short burst window with
// exponential backoff, and a minimum cooldown between calls.
type Limiter struct {
	mu           sync.Mutex
	limits       map[string]config.ServiceLimit
	requests     map[string][]time.Time
	lastRequest  map[string]time.Time
	backoffUntil map[string]time.Time
	now          func() time.Time
}

func New(cfg *config.RateLimitsConfig) *Limiter {
	limits := map[string]config.ServiceLimit{}
	if cfg != nil {
		// Config keys go through the same alias folding as caller
		// names, so an entry keyed "openai_tts" or "ycombinator"
		// lands on the canonical service it limits.
		for name, limit := range cfg.Services {
			key, _ := canonicalKey(name)
			limits[key] = limit
		}
	}
	if _, ok := limits["generic"]; !ok {
		limits["generic"] = fallbackLimit
	}
	return &Limiter{
		limits:       limits,
		requests:     map[string][]time.Time{},
		lastRequest:  map[string]time.Time{},
		backoffUntil: map[string]time.Time{},
		now:          time.Now,
	}
}

// Wait blocks until the service may be called, then records the call.
// It returns the delay actually imposed. Cancelling the context aborts
// the wait without recording a call.
func (l *Limiter) Wait(ctx context.Context, service string) (time.Duration, error) {
	delay, key := l.reserve(service)
	if delay <= 0 {
		return 0, nil
	}

	logger.Debugf("rate limiter: delaying %s for %.1fs", key, delay.Seconds())
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		l.release(key)
		return 0, ctx.Err()
	case <-timer.C:
		return delay, nil
	}
}

// reserve computes the required delay, records the upcoming call at its
// reserved time, and returns the delay plus the canonical service key.
func (l *Limiter) reserve(service string) (time.Duration, string) {
	key := normalize(service)
	limit := l.limitFor(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(key, now)

	delay := l.requiredDelay(key, limit, now)
	at := now.Add(delay)
	l.requests[key] = append(l.requests[key], at)
	l.lastRequest[key] = at
	return delay, key
}

// release drops the most recent reservation after an aborted wait.
func (l *Limiter) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	times := l.requests[key]
	if len(times) == 0 {
		return
	}
	l.requests[key] = times[:len(times)-1]
	if len(l.requests[key]) > 0 {
		l.lastRequest[key] = l.requests[key][len(l.requests[key])-1]
	} else {
		delete(l.lastRequest, key)
	}
}

func (l *Limiter) requiredDelay(key string, limit config.ServiceLimit, now time.Time) time.Duration {
	// Active backoff from a prior burst takes precedence.
	if until, ok := l.backoffUntil[key]; ok && now.Before(until) {
		return until.Sub(now)
	}

	var cooldown time.Duration
	if last, ok := l.lastRequest[key]; ok {
		gap := time.Duration(limit.Cooldown * float64(time.Second))
		if since := now.Sub(last); since < gap {
			cooldown = gap - since
		}
	}

	times := l.requests[key]

	if d := windowDelay(times, now, time.Minute, limit.PerMinute); d > 0 {
		if d < cooldown {
			return cooldown
		}
		return d
	}
	if d := windowDelay(times, now, time.Hour, limit.PerHour); d > 0 {
		if d < cooldown {
			return cooldown
		}
		return d
	}

	burst := countSince(times, now.Add(-burstWindow))
	if limit.Burst > 0 && burst >= limit.Burst {
		backoff := time.Duration(burst) * 2 * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		l.backoffUntil[key] = now.Add(backoff)
		logger.Warnf("rate limiter: burst limit hit for %s, backing off %.0fs", key, backoff.Seconds())
		return backoff
	}

	return cooldown
}

// windowDelay returns how long until the oldest request in the window
// ages out, or 0 when the window still has capacity.
func windowDelay(times []time.Time, now time.Time, window time.Duration, limit int) time.Duration {
	if limit <= 0 {
		return 0
	}
	cutoff := now.Add(-window)
	for i, t := range times {
		if t.After(cutoff) {
			if len(times)-i >= limit {
				return t.Add(window).Sub(now)
			}
			return 0
		}
	}
	return 0
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (l *Limiter) prune(key string, now time.Time) {
	cutoff := now.Add(-historyWindow)
	times := l.requests[key]
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.requests[key] = times[i:]
	}
}

func (l *Limiter) limitFor(key string) config.ServiceLimit {
	if limit, ok := l.limits[key]; ok {
		return limit
	}
	if limit, ok := l.limits["generic"]; ok {
		return limit
	}
	return fallbackLimit
}

// Stats returns the pacing state for one service.
func (l *Limiter) Stats(service string) ServiceStats {
	key := normalize(service)
	limit := l.limitFor(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	times := l.requests[key]
	lastMin := countSince(times, now.Add(-time.Minute))
	lastHour := countSince(times, now.Add(-time.Hour))

	stats := ServiceStats{
		Service:          key,
		RequestsLastMin:  lastMin,
		RequestsLastHour: lastHour,
		MinuteLimit:      limit.PerMinute,
		HourLimit:        limit.PerHour,
	}
	if limit.PerMinute > 0 {
		stats.MinuteUtilization = float64(lastMin) / float64(limit.PerMinute)
	}
	if limit.PerHour > 0 {
		stats.HourUtilization = float64(lastHour) / float64(limit.PerHour)
	}
	if until, ok := l.backoffUntil[key]; ok && now.Before(until) {
		stats.BackingOff = true
	}
	return stats
}

// AllStats returns pacing state for every service seen so far.
func (l *Limiter) AllStats() map[string]ServiceStats {
	l.mu.Lock()
	keys := make([]string, 0, len(l.requests))
	for key := range l.requests {
		keys = append(keys, key)
	}
	l.mu.Unlock()

	out := make(map[string]ServiceStats, len(keys))
	for _, key := range keys {
		out[key] = l.Stats(key)
	}
	return out
}

func normalize(service string) string {
	if key, ok := canonicalKey(service); ok {
		return key
	}
	return "generic"
}

// canonicalKey folds a name onto the alias table, reporting whether it
// matched. Unmatched names come back lowercased unchanged.
func canonicalKey(service string) (string, bool) {
	s := strings.ToLower(service)
	for _, alias := range serviceAliases {
		if strings.Contains(s, alias.substr) {
			return alias.key, true
		}
	}
	return s, false
}
