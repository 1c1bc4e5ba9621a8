package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/pkg/config"
)

func newTestLimiter(limits map[string]config.ServiceLimit) (*Limiter, *time.Time) {
	l := New(&config.RateLimitsConfig{Services: limits})
	clock := time.Unix(1700000000, 0)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestNormalizeServiceNames(t *testing.T) {
	cases := map[string]string{
		"Claude-3-Haiku":                "anthropic",
		"api.anthropic.com":             "anthropic",
		"gpt-4o-mini":                   "openai",
		"openai-tts":                    "openai",
		"https://news.ycombinator.com":  "hackernews",
		"techcrunch.com/feed":           "techcrunch",
		"some-unknown-internal-service": "generic",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalize(in), in)
	}
}

func TestConfiguredAliasKeysGovernCanonicalService(t *testing.T) {
	// Operators key limits by names like "openai_tts"; the entry must
	// still govern calls that normalize to "openai".
	l, _ := newTestLimiter(map[string]config.ServiceLimit{
		"openai_tts":     {PerMinute: 60, PerHour: 500, Burst: 8, Cooldown: 3.0},
		"ycombinator":    {PerMinute: 60, PerHour: 1000, Burst: 10, Cooldown: 7.0},
		"internal-batch": {PerMinute: 1, PerHour: 1, Burst: 1, Cooldown: 60.0},
	})

	l.reserve("gpt-4o-mini")
	delay, key := l.reserve("openai-tts")
	assert.Equal(t, "openai", key)
	assert.Equal(t, 3*time.Second, delay)

	l.reserve("https://news.ycombinator.com/rss")
	delay, key = l.reserve("hackernews")
	assert.Equal(t, "hackernews", key)
	assert.Equal(t, 7*time.Second, delay)

	// Unrecognized config keys keep their own entry instead of
	// shadowing the generic fallback.
	stats := l.Stats("some-unknown-internal-service")
	assert.Equal(t, fallbackLimit.PerMinute, stats.MinuteLimit)
}

func TestCooldownBetweenCalls(t *testing.T) {
	l, clock := newTestLimiter(map[string]config.ServiceLimit{
		"anthropic": {PerMinute: 60, PerHour: 1000, Burst: 10, Cooldown: 2.0},
	})

	delay, _ := l.reserve("anthropic")
	assert.Zero(t, delay)

	// Immediate second call waits out the cooldown gap.
	delay, _ = l.reserve("anthropic")
	assert.Equal(t, 2*time.Second, delay)

	// After the gap has passed there is no delay.
	*clock = clock.Add(5 * time.Second)
	delay, _ = l.reserve("anthropic")
	assert.Zero(t, delay)
}

func TestMinuteWindowFills(t *testing.T) {
	l, clock := newTestLimiter(map[string]config.ServiceLimit{
		"techcrunch": {PerMinute: 3, PerHour: 1000, Burst: 100},
	})

	for i := 0; i < 3; i++ {
		delay, _ := l.reserve("techcrunch")
		assert.Zero(t, delay)
		*clock = clock.Add(time.Second)
	}

	// Window is full; the next call waits for the oldest entry to age out.
	delay, _ := l.reserve("techcrunch")
	assert.Equal(t, 57*time.Second, delay)
}

func TestBurstTriggersBackoff(t *testing.T) {
	l, _ := newTestLimiter(map[string]config.ServiceLimit{
		"twitter": {PerMinute: 300, PerHour: 1500, Burst: 2},
	})

	l.reserve("twitter")
	l.reserve("twitter")

	delay, _ := l.reserve("twitter")
	assert.Equal(t, 4*time.Second, delay)
	assert.True(t, l.Stats("twitter").BackingOff)
}

func TestBackoffCapsAtThirtySeconds(t *testing.T) {
	l, _ := newTestLimiter(map[string]config.ServiceLimit{
		"hackernews": {PerMinute: 300, PerHour: 5000, Burst: 20},
	})

	for i := 0; i < 20; i++ {
		l.reserve("hackernews")
	}
	delay, _ := l.reserve("hackernews")
	assert.Equal(t, 30*time.Second, delay)
}

func TestUnknownServiceUsesGenericLimit(t *testing.T) {
	l, _ := newTestLimiter(nil)

	stats := l.Stats("mystery-api")
	assert.Equal(t, "generic", stats.Service)
	assert.Equal(t, 10, stats.MinuteLimit)
	assert.Equal(t, 100, stats.HourLimit)
}

func TestWaitHonorsContextCancel(t *testing.T) {
	l, _ := newTestLimiter(map[string]config.ServiceLimit{
		"arstechnica": {PerMinute: 20, PerHour: 150, Burst: 3, Cooldown: 30.0},
	})

	_, err := l.Wait(context.Background(), "arstechnica")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Wait(ctx, "arstechnica")
	assert.ErrorIs(t, err, context.Canceled)

	// The aborted wait must not count as a call.
	assert.Equal(t, 1, l.Stats("arstechnica").RequestsLastMin)
}

func TestStatsUtilization(t *testing.T) {
	l, clock := newTestLimiter(map[string]config.ServiceLimit{
		"theverge": {PerMinute: 4, PerHour: 180, Burst: 100},
	})

	l.reserve("theverge")
	*clock = clock.Add(time.Second)
	l.reserve("theverge")

	stats := l.Stats("theverge")
	assert.Equal(t, 2, stats.RequestsLastMin)
	assert.Equal(t, 2, stats.RequestsLastHour)
	assert.InDelta(t, 0.5, stats.MinuteUtilization, 1e-9)

	all := l.AllStats()
	require.Contains(t, all, "theverge")
}
