package antispam

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewEngine(rdb)
}

func TestCheckForSpam_BannedTerm(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.CheckForSpam(context.Background(), "u1", Action{
		Kind:    KindMessage,
		Content: "Get FREE FOLLOWERS today",
	})
	require.NoError(t, err)

	assert.True(t, res.IsSpam)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Equal(t, SuggestWarn, res.SuggestedAction)
	assert.Contains(t, res.Reason, "banned term")
}

func TestCheckForSpam_LinkStuffing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.CheckForSpam(ctx, "u1", Action{
		Kind:    KindMessage,
		Content: "check https://a.example https://b.example https://c.example",
	})
	require.NoError(t, err)
	assert.True(t, res.IsSpam)
	assert.Equal(t, 0.7, res.Confidence)
	assert.Equal(t, SuggestWarn, res.SuggestedAction)

	// two links are fine
	res, err = e.CheckForSpam(ctx, "u1", Action{
		Kind:    KindMessage,
		Content: "my site https://a.example and blog https://b.example",
	})
	require.NoError(t, err)
	assert.False(t, res.IsSpam)
}

func TestCheckForSpam_RepetitiveContent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	repeated := strings.Repeat("great workout today ", 10) // 30 words, 3 unique
	res, err := e.CheckForSpam(ctx, "u1", Action{Kind: KindMessage, Content: repeated})
	require.NoError(t, err)
	assert.True(t, res.IsSpam)
	assert.Equal(t, 0.6, res.Confidence)
	assert.Contains(t, res.Reason, "repetitive")

	// short messages are exempt from the repetition rule
	res, err = e.CheckForSpam(ctx, "u1", Action{Kind: KindMessage, Content: "go go go go go"})
	require.NoError(t, err)
	assert.False(t, res.IsSpam)
}

func TestCheckForSpam_BannedTermWinsOverOtherRules(t *testing.T) {
	e := newTestEngine(t)

	// content matching both the banned-term and link rules reports the
	// higher-priority rule
	res, err := e.CheckForSpam(context.Background(), "u1", Action{
		Kind:    KindMessage,
		Content: "casino https://a.example https://b.example https://c.example",
	})
	require.NoError(t, err)
	assert.True(t, res.IsSpam)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Contains(t, res.Reason, "banned term")
}

func TestCheckForSpam_FollowFromHighScoreUser(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// six reports put the score at 60, over the follow threshold
	for i := 0; i < 6; i++ {
		require.NoError(t, e.ReportSpam(ctx, "reporter", "spammer", "spam behavior"))
	}

	res, err := e.CheckForSpam(ctx, "spammer", Action{Kind: KindFollow})
	require.NoError(t, err)
	assert.True(t, res.IsSpam)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, SuggestRateLimit, res.SuggestedAction)
}

func TestCheckForSpam_FollowAtThresholdIsClean(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// exactly 50 does not exceed the threshold
	for i := 0; i < 5; i++ {
		require.NoError(t, e.ReportSpam(ctx, "reporter", "borderline", "sus"))
	}

	res, err := e.CheckForSpam(ctx, "borderline", Action{Kind: KindFollow})
	require.NoError(t, err)
	assert.False(t, res.IsSpam)
	assert.Equal(t, 0.1, res.Confidence)
	assert.Equal(t, SuggestNone, res.SuggestedAction)
}

func TestCheckForSpam_CleanContent(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.CheckForSpam(context.Background(), "u1", Action{
		Kind:    KindMessage,
		Content: "Solid tempo run this morning, legs felt great",
	})
	require.NoError(t, err)
	assert.False(t, res.IsSpam)
	assert.Equal(t, 0.1, res.Confidence)
	assert.Equal(t, SuggestNone, res.SuggestedAction)
}

func TestReportSpam_AccumulatesScore(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	score, err := e.GetSpamScore(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, 0, score)

	require.NoError(t, e.ReportSpam(ctx, "r1", "target", "spammy"))
	require.NoError(t, e.ReportSpam(ctx, "r2", "target", "still spammy"))

	score, err = e.GetSpamScore(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, 2*ReportPenalty, score)
}

func TestResetSpamScore(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ReportSpam(ctx, "r1", "target", "spammy"))
	require.NoError(t, e.ResetSpamScore(ctx, "target"))

	score, err := e.GetSpamScore(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, 0, score)
}

func TestCheckForSpam_NoRedisFollowCheckErrors(t *testing.T) {
	e := NewEngine(nil)

	_, err := e.CheckForSpam(context.Background(), "u1", Action{Kind: KindFollow})
	assert.Error(t, err)
}
