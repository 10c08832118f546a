// Package antispam scores user behavior and content with cheap heuristics.
// Scores persist in Redis so a spammer does not reset by restarting the app.
package antispam

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stride/internal/observability"

	"github.com/redis/go-redis/v9"
)

// ActionKind labels the behavior being checked.
type ActionKind string

const (
	KindFollow        ActionKind = "follow"
	KindMessage       ActionKind = "message"
	KindProfileUpdate ActionKind = "profileUpdate"
	KindWorkoutPost   ActionKind = "workoutPost"
)

// Action is a candidate behavior with its content, if any.
type Action struct {
	Kind    ActionKind
	Content string
}

// SuggestedAction is the engine's recommendation for a flagged action.
type SuggestedAction string

const (
	SuggestNone      SuggestedAction = "none"
	SuggestWarn      SuggestedAction = "warn"
	SuggestRateLimit SuggestedAction = "rateLimit"
)

// CheckResult is the outcome of a spam check.
type CheckResult struct {
	IsSpam          bool
	Confidence      float64
	Reason          string
	SuggestedAction SuggestedAction
}

// ReportPenalty is added to a user's score per spam report.
const ReportPenalty = 10

// followScoreThreshold: follows from users scored above this are flagged.
const followScoreThreshold = 50

// bannedTerms are checked as case-insensitive substrings of content.
var bannedTerms = []string{
	"spam",
	"bot",
	"free followers",
	"buy now",
	"click here",
	"casino",
	"crypto giveaway",
}

// urlMarkers are the substrings counted by the link-stuffing rule.
var urlMarkers = []string{"http://", "https://", "www."}

// Engine checks actions against heuristics and keeps per-user spam scores.
type Engine struct {
	rdb *redis.Client
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an anti-spam engine backed by the given Redis client.
func NewEngine(rdb *redis.Client, opts ...Option) *Engine {
	e := &Engine{rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckForSpam evaluates action for userID. Rules run in a fixed priority
// order and the first match wins. A store error is returned as-is; callers
// gate writes, so they must deny on error rather than assume clean.
func (e *Engine) CheckForSpam(ctx context.Context, userID string, action Action) (CheckResult, error) {
	switch action.Kind {
	case KindFollow:
		score, err := e.GetSpamScore(ctx, userID)
		if err != nil {
			return CheckResult{}, err
		}
		if score > followScoreThreshold {
			observability.SpamDetections.WithLabelValues(string(action.Kind)).Inc()
			return CheckResult{
				IsSpam:          true,
				Confidence:      0.9,
				Reason:          fmt.Sprintf("spam score %d exceeds threshold", score),
				SuggestedAction: SuggestRateLimit,
			}, nil
		}

	case KindMessage, KindProfileUpdate:
		if res, flagged := checkContent(action.Content); flagged {
			observability.SpamDetections.WithLabelValues(string(action.Kind)).Inc()
			return res, nil
		}

	case KindWorkoutPost:
		// No workout-content heuristics yet; new rules slot in here.
	}

	return CheckResult{Confidence: 0.1, SuggestedAction: SuggestNone}, nil
}

// checkContent applies the content rules in priority order: banned terms,
// link stuffing, then word repetition.
func checkContent(content string) (CheckResult, bool) {
	lower := strings.ToLower(content)

	for _, term := range bannedTerms {
		if strings.Contains(lower, term) {
			return CheckResult{
				IsSpam:          true,
				Confidence:      0.8,
				Reason:          fmt.Sprintf("contains banned term %q", term),
				SuggestedAction: SuggestWarn,
			}, true
		}
	}

	urls := 0
	for _, marker := range urlMarkers {
		urls += strings.Count(lower, marker)
	}
	if urls > 2 {
		return CheckResult{
			IsSpam:          true,
			Confidence:      0.7,
			Reason:          fmt.Sprintf("contains %d links", urls),
			SuggestedAction: SuggestWarn,
		}, true
	}

	words := strings.Fields(lower)
	if len(words) > 10 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		if ratio := float64(len(unique)) / float64(len(words)); ratio < 0.3 {
			return CheckResult{
				IsSpam:          true,
				Confidence:      0.6,
				Reason:          fmt.Sprintf("repetitive content (unique-word ratio %.2f)", ratio),
				SuggestedAction: SuggestWarn,
			}, true
		}
	}

	return CheckResult{}, false
}

// ReportSpam adds a fixed penalty to targetID's score. Scores only grow;
// only ResetSpamScore brings one back down.
func (e *Engine) ReportSpam(ctx context.Context, reporterID, targetID, reason string) error {
	if e.rdb == nil {
		return fmt.Errorf("spam score store unavailable")
	}
	key := scoreKey(targetID)
	pipe := e.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "score", ReportPenalty)
	pipe.HSet(ctx, key, "updated", e.now().UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	observability.SpamReports.Inc()
	return nil
}

// GetSpamScore returns userID's current score; unknown users score 0.
func (e *Engine) GetSpamScore(ctx context.Context, userID string) (int, error) {
	if e.rdb == nil {
		return 0, fmt.Errorf("spam score store unavailable")
	}
	score, err := e.rdb.HGet(ctx, scoreKey(userID), "score").Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return score, nil
}

// ResetSpamScore clears a user's score, e.g. after a successful appeal.
func (e *Engine) ResetSpamScore(ctx context.Context, userID string) error {
	if e.rdb == nil {
		return fmt.Errorf("spam score store unavailable")
	}
	return e.rdb.Del(ctx, scoreKey(userID)).Err()
}

func scoreKey(userID string) string {
	return "spam:score:" + userID
}
