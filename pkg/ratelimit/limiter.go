// Package ratelimit implements fixed-window admission control for HTTP
// routes and per-connection websocket events.
//
// Counting is on the attempt, not on success: a rejected request still
// consumed its slot. Expired windows are reclaimed by a background sweeper.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cliproom/cliproom/internal/logger"
)

// Category identifies one quota bucket class.
type Category string

// HTTP categories are keyed by client IP; event categories by connection id.
const (
	HTTPGeneral    Category = "http_general"
	HTTPUpload     Category = "http_upload"
	HTTPAuth       Category = "http_auth"
	HTTPStrict     Category = "http_strict"
	HTTPRoomAction Category = "http_room_action"

	EventJoinRoom       Category = "event_join_room"
	EventLeaveRoom      Category = "event_leave_room"
	EventSendMessage    Category = "event_send_message"
	EventUserList       Category = "event_user_list"
	EventPasswordChange Category = "event_password_change"
	EventShareRoom      Category = "event_share_room"
)

// Rule is the window size and admission cap for a category.
type Rule struct {
	Window time.Duration
	Max    int
}

// DefaultRules is the quota table applied when no override is configured.
var DefaultRules = map[Category]Rule{
	HTTPGeneral:    {Window: 15 * time.Minute, Max: 100},
	HTTPUpload:     {Window: time.Minute, Max: 5},
	HTTPAuth:       {Window: 15 * time.Minute, Max: 20},
	HTTPStrict:     {Window: 5 * time.Minute, Max: 50},
	HTTPRoomAction: {Window: time.Minute, Max: 30},

	EventJoinRoom:       {Window: time.Minute, Max: 5},
	EventLeaveRoom:      {Window: time.Minute, Max: 10},
	EventSendMessage:    {Window: time.Minute, Max: 30},
	EventUserList:       {Window: time.Minute, Max: 20},
	EventPasswordChange: {Window: time.Minute, Max: 10},
	EventShareRoom:      {Window: time.Minute, Max: 20},
}

const sweepInterval = 5 * time.Minute

type window struct {
	start time.Time
	count int
}

type bucketKey struct {
	category Category
	subject  string
}

// Limiter tracks fixed windows per (category, subject).
type Limiter struct {
	mu      sync.Mutex
	rules   map[Category]Rule
	windows map[bucketKey]*window

	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock substitutes the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithRules overrides the default quota table.
func WithRules(rules map[Category]Rule) Option {
	return func(l *Limiter) { l.rules = rules }
}

// New creates a Limiter with the default rules. Call Start to enable the
// background sweeper; Allow works without it.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		rules:   DefaultRules,
		windows: make(map[bucketKey]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Result reports an admission decision.
type Result struct {
	Allowed bool
	// RetryAfter is how long until the current window resets. Only
	// meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Allow consumes one slot for subject in category and reports whether the
// attempt is admitted. Unknown categories are always admitted.
func (l *Limiter) Allow(category Category, subject string) Result {
	rule, ok := l.rules[category]
	if !ok {
		return Result{Allowed: true}
	}

	now := l.now()
	key := bucketKey{category: category, subject: subject}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil || now.Sub(w.start) >= rule.Window {
		l.windows[key] = &window{start: now, count: 1}
		return Result{Allowed: true}
	}

	w.count++
	if w.count > rule.Max {
		return Result{
			Allowed:    false,
			RetryAfter: rule.Window - now.Sub(w.start),
		}
	}
	return Result{Allowed: true}
}

// Forget drops every window belonging to subject. Called when a connection
// closes so per-connection buckets do not linger until the sweep.
func (l *Limiter) Forget(subject string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.windows {
		if key.subject == subject {
			delete(l.windows, key)
		}
	}
}

// Start runs the sweeper until ctx is cancelled or Stop is called.
func (l *Limiter) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

// Stop terminates the sweeper. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		rule, ok := l.rules[key.category]
		if !ok || now.Sub(w.start) >= rule.Window {
			delete(l.windows, key)
			removed++
		}
	}
	if removed > 0 {
		logger.Debug("rate limit sweep reclaimed windows", "removed", removed, "remaining", len(l.windows))
	}
}
