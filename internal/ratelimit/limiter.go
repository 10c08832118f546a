// Package ratelimit enforces per-user, per-action caps over fixed time
// windows, backed by Redis so counters survive process restarts.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"stride/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Action is a rate-limited operation name.
type Action string

const (
	ActionFollow        Action = "follow"
	ActionUnfollow      Action = "unfollow"
	ActionFollowRequest Action = "followRequest"
	ActionBlock         Action = "block"
	ActionMessage       Action = "message"
	ActionReport        Action = "report"
)

// Granularity is a fixed window size.
type Granularity string

const (
	Minute Granularity = "minute"
	Hour   Granularity = "hour"
	Day    Granularity = "day"
	Week   Granularity = "week"
)

// Limit caps an action per window. Zero means the window is unconstrained.
type Limit struct {
	PerMinute int
	PerHour   int
	PerDay    int
	PerWeek   int
}

func (l Limit) forWindow(g Granularity) int {
	switch g {
	case Minute:
		return l.PerMinute
	case Hour:
		return l.PerHour
	case Day:
		return l.PerDay
	case Week:
		return l.PerWeek
	}
	return 0
}

// windows lists granularities in ascending size; evaluation order matters
// only for picking the earliest reset time on denial.
var windows = []Granularity{Minute, Hour, Day, Week}

// DefaultLimits mirror the production caps for social actions.
var DefaultLimits = map[Action]Limit{
	ActionFollow:        {PerMinute: 10, PerHour: 60, PerDay: 200, PerWeek: 500},
	ActionUnfollow:      {PerMinute: 10, PerHour: 60, PerDay: 200},
	ActionFollowRequest: {PerHour: 30, PerDay: 100},
	ActionBlock:         {PerHour: 20, PerDay: 50},
	ActionMessage:       {PerMinute: 20, PerHour: 200, PerDay: 1000},
	ActionReport:        {PerHour: 10, PerDay: 30},
}

// FailPolicy defines the behavior when the counter store (Redis) is
// unavailable.
type FailPolicy int

const (
	// FailClosed denies the action if Redis is unavailable. This is the
	// default: an unchecked write is worse than a delayed one.
	FailClosed FailPolicy = iota
	// FailOpen allows the action if Redis is unavailable.
	FailOpen
)

// Limiter evaluates and records action counts across every configured
// window for an action. A denial in ANY window denies the action.
type Limiter struct {
	rdb    *redis.Client
	limits map[Action]Limit
	policy FailPolicy
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimits replaces the default limit table.
func WithLimits(limits map[Action]Limit) Option {
	return func(l *Limiter) { l.limits = limits }
}

// WithFailPolicy overrides the store-unavailable behavior.
func WithFailPolicy(p FailPolicy) Option {
	return func(l *Limiter) { l.policy = p }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLimiter creates a limiter on the given Redis client.
func NewLimiter(rdb *redis.Client, opts ...Option) *Limiter {
	l := &Limiter{
		rdb:    rdb,
		limits: DefaultLimits,
		policy: FailClosed,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Result reports a limiter decision.
type Result struct {
	Allowed bool
	// ResetTime is when the tightest exhausted window rolls over; on an
	// allowed decision it is the next boundary of the smallest window.
	ResetTime time.Time
}

// Allow atomically checks and records one occurrence of action for userID.
// The increment and the comparison are a single Redis INCR per window, so
// two concurrent callers can never both land under the cap. On denial the
// increments are rolled back so counters keep meaning "recorded actions".
func (l *Limiter) Allow(ctx context.Context, action Action, userID string) (Result, error) {
	limit, ok := l.limits[action]
	if !ok {
		return Result{Allowed: true}, nil
	}

	if l.rdb == nil {
		return l.unavailable(action, fmt.Errorf("rate limit store unavailable"))
	}

	now := l.now().UTC()
	grans := configuredWindows(limit)
	if len(grans) == 0 {
		return Result{Allowed: true}, nil
	}

	pipe := l.rdb.TxPipeline()
	incrs := make([]*redis.IntCmd, len(grans))
	for i, g := range grans {
		incrs[i] = pipe.Incr(ctx, l.key(action, userID, g, now))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return l.unavailable(action, err)
	}

	var resetAt time.Time
	denied := false
	for i, g := range grans {
		cnt := incrs[i].Val()
		if cnt == 1 {
			// First hit in this window: bound the key's lifetime to the
			// window plus slack so stale counters clean themselves up.
			l.rdb.Expire(ctx, l.key(action, userID, g, now), windowEnd(g, now).Sub(now)+time.Minute)
		}
		if cnt > int64(limit.forWindow(g)) {
			denied = true
			if end := windowEnd(g, now); resetAt.IsZero() || end.Before(resetAt) {
				resetAt = end
			}
		}
	}

	if denied {
		rollback := l.rdb.TxPipeline()
		for _, g := range grans {
			rollback.Decr(ctx, l.key(action, userID, g, now))
		}
		_, _ = rollback.Exec(ctx)
		observability.RateLimitDenials.WithLabelValues(string(action)).Inc()
		return Result{Allowed: false, ResetTime: resetAt}, nil
	}

	return Result{Allowed: true, ResetTime: windowEnd(grans[0], now)}, nil
}

// CheckLimit reports whether action would currently be allowed, without
// recording anything.
func (l *Limiter) CheckLimit(ctx context.Context, action Action, userID string) (bool, error) {
	limit, ok := l.limits[action]
	if !ok {
		return true, nil
	}
	if l.rdb == nil {
		res, err := l.unavailable(action, fmt.Errorf("rate limit store unavailable"))
		return res.Allowed, err
	}

	now := l.now().UTC()
	for _, g := range configuredWindows(limit) {
		cnt, err := l.count(ctx, action, userID, g, now)
		if err != nil {
			res, uerr := l.unavailable(action, err)
			return res.Allowed, uerr
		}
		if cnt >= int64(limit.forWindow(g)) {
			return false, nil
		}
	}
	return true, nil
}

// RecordAction increments every configured window for the action. Prefer
// Allow for gated paths; this exists for callers that already decided.
func (l *Limiter) RecordAction(ctx context.Context, action Action, userID string) error {
	limit, ok := l.limits[action]
	if !ok {
		return nil
	}
	if l.rdb == nil {
		return fmt.Errorf("rate limit store unavailable")
	}

	now := l.now().UTC()
	for _, g := range configuredWindows(limit) {
		key := l.key(action, userID, g, now)
		cnt, err := l.rdb.Incr(ctx, key).Result()
		if err != nil {
			return err
		}
		if cnt == 1 {
			l.rdb.Expire(ctx, key, windowEnd(g, now).Sub(now)+time.Minute)
		}
	}
	return nil
}

// RemainingActions returns how many more occurrences of action are
// currently allowed: the minimum headroom across configured windows.
func (l *Limiter) RemainingActions(ctx context.Context, action Action, userID string) (int, error) {
	limit, ok := l.limits[action]
	if !ok {
		return -1, nil
	}
	if l.rdb == nil {
		return 0, fmt.Errorf("rate limit store unavailable")
	}

	now := l.now().UTC()
	remaining := -1
	for _, g := range configuredWindows(limit) {
		cnt, err := l.count(ctx, action, userID, g, now)
		if err != nil {
			return 0, err
		}
		headroom := limit.forWindow(g) - int(cnt)
		if headroom < 0 {
			headroom = 0
		}
		if remaining < 0 || headroom < remaining {
			remaining = headroom
		}
	}
	return remaining, nil
}

// ResetTime returns when the action next becomes available: the earliest
// rollover among exhausted windows, or the next boundary of the smallest
// configured window when nothing is exhausted.
func (l *Limiter) ResetTime(ctx context.Context, action Action, userID string) (time.Time, error) {
	limit, ok := l.limits[action]
	if !ok {
		return time.Time{}, nil
	}
	if l.rdb == nil {
		return time.Time{}, fmt.Errorf("rate limit store unavailable")
	}

	now := l.now().UTC()
	grans := configuredWindows(limit)
	var earliest time.Time
	for _, g := range grans {
		cnt, err := l.count(ctx, action, userID, g, now)
		if err != nil {
			return time.Time{}, err
		}
		if cnt >= int64(limit.forWindow(g)) {
			if end := windowEnd(g, now); earliest.IsZero() || end.Before(earliest) {
				earliest = end
			}
		}
	}
	if earliest.IsZero() && len(grans) > 0 {
		earliest = windowEnd(grans[0], now)
	}
	return earliest, nil
}

// ResetLimits clears every counter for userID across all actions.
func (l *Limiter) ResetLimits(ctx context.Context, userID string) error {
	if l.rdb == nil {
		return fmt.Errorf("rate limit store unavailable")
	}

	pattern := fmt.Sprintf("rl:*:%s:*", userID)
	var cursor uint64
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (l *Limiter) count(ctx context.Context, action Action, userID string, g Granularity, now time.Time) (int64, error) {
	cnt, err := l.rdb.Get(ctx, l.key(action, userID, g, now)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return cnt, err
}

func (l *Limiter) unavailable(action Action, err error) (Result, error) {
	if l.policy == FailOpen {
		return Result{Allowed: true}, nil
	}
	observability.RateLimitDenials.WithLabelValues(string(action)).Inc()
	return Result{}, err
}

func (l *Limiter) key(action Action, userID string, g Granularity, now time.Time) string {
	return fmt.Sprintf("rl:%s:%s:%s:%d", action, userID, g, windowStart(g, now).Unix())
}

func configuredWindows(limit Limit) []Granularity {
	grans := make([]Granularity, 0, len(windows))
	for _, g := range windows {
		if limit.forWindow(g) > 0 {
			grans = append(grans, g)
		}
	}
	return grans
}

// windowStart aligns t to the fixed boundary of its granularity. Windows
// never slide: the 61st follow at minute 59 of an hour is judged against
// the same hourly counter as the 1st at minute 0.
func windowStart(g Granularity, t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Minute:
		return t.Truncate(time.Minute)
	case Hour:
		return t.Truncate(time.Hour)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // weeks start Monday
		return day.AddDate(0, 0, -offset)
	}
	return t
}

func windowEnd(g Granularity, t time.Time) time.Time {
	start := windowStart(g, t)
	switch g {
	case Minute:
		return start.Add(time.Minute)
	case Hour:
		return start.Add(time.Hour)
	case Day:
		return start.AddDate(0, 0, 1)
	case Week:
		return start.AddDate(0, 0, 7)
	}
	return start
}
