package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current },
		func(d time.Duration) { current = current.Add(d) }
}

func TestWindowIsStrict(t *testing.T) {
	now, _ := fakeClock(time.Unix(1000, 0))
	l := New(WithClock(now), WithRules(map[Category]Rule{
		EventJoinRoom: {Window: time.Minute, Max: 5},
	}))

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow(EventJoinRoom, "conn-1").Allowed, "attempt %d", i)
	}
	res := l.Allow(EventJoinRoom, "conn-1")
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestWindowResets(t *testing.T) {
	now, advance := fakeClock(time.Unix(1000, 0))
	l := New(WithClock(now), WithRules(map[Category]Rule{
		HTTPUpload: {Window: time.Minute, Max: 2},
	}))

	require.True(t, l.Allow(HTTPUpload, "10.0.0.1").Allowed)
	require.True(t, l.Allow(HTTPUpload, "10.0.0.1").Allowed)
	require.False(t, l.Allow(HTTPUpload, "10.0.0.1").Allowed)

	advance(time.Minute)
	assert.True(t, l.Allow(HTTPUpload, "10.0.0.1").Allowed)
}

func TestSubjectsAreIndependent(t *testing.T) {
	now, _ := fakeClock(time.Unix(1000, 0))
	l := New(WithClock(now), WithRules(map[Category]Rule{
		EventSendMessage: {Window: time.Minute, Max: 1},
	}))

	require.True(t, l.Allow(EventSendMessage, "a").Allowed)
	require.False(t, l.Allow(EventSendMessage, "a").Allowed)
	assert.True(t, l.Allow(EventSendMessage, "b").Allowed)
}

func TestRejectedAttemptStillCounts(t *testing.T) {
	now, advance := fakeClock(time.Unix(1000, 0))
	l := New(WithClock(now), WithRules(map[Category]Rule{
		HTTPAuth: {Window: time.Minute, Max: 1},
	}))

	require.True(t, l.Allow(HTTPAuth, "ip").Allowed)

	// Hammering while limited does not shorten the wait.
	advance(30 * time.Second)
	require.False(t, l.Allow(HTTPAuth, "ip").Allowed)
	advance(29 * time.Second)
	require.False(t, l.Allow(HTTPAuth, "ip").Allowed)

	advance(time.Second)
	assert.True(t, l.Allow(HTTPAuth, "ip").Allowed)
}

func TestUnknownCategoryAlwaysAllowed(t *testing.T) {
	l := New(WithRules(map[Category]Rule{}))
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("nonexistent", "x").Allowed)
	}
}

func TestForget(t *testing.T) {
	now, _ := fakeClock(time.Unix(1000, 0))
	l := New(WithClock(now), WithRules(map[Category]Rule{
		EventJoinRoom: {Window: time.Minute, Max: 1},
	}))

	require.True(t, l.Allow(EventJoinRoom, "conn-9").Allowed)
	require.False(t, l.Allow(EventJoinRoom, "conn-9").Allowed)

	l.Forget("conn-9")
	assert.True(t, l.Allow(EventJoinRoom, "conn-9").Allowed)
}

func TestSweepReclaimsExpired(t *testing.T) {
	now, advance := fakeClock(time.Unix(1000, 0))
	l := New(WithClock(now), WithRules(map[Category]Rule{
		HTTPGeneral: {Window: time.Minute, Max: 10},
	}))

	l.Allow(HTTPGeneral, "a")
	l.Allow(HTTPGeneral, "b")

	advance(2 * time.Minute)
	l.sweep()

	l.mu.Lock()
	remaining := len(l.windows)
	l.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestDefaultRulesMatchContract(t *testing.T) {
	assert.Equal(t, Rule{Window: 15 * time.Minute, Max: 100}, DefaultRules[HTTPGeneral])
	assert.Equal(t, Rule{Window: time.Minute, Max: 5}, DefaultRules[HTTPUpload])
	assert.Equal(t, Rule{Window: time.Minute, Max: 30}, DefaultRules[EventSendMessage])
	assert.Equal(t, Rule{Window: time.Minute, Max: 5}, DefaultRules[EventJoinRoom])
}
