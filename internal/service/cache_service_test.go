package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"stride/internal/cache"
	"stride/internal/models"
)

type cacheFixture struct {
	svc    *CacheService
	db     *gorm.DB
	engine *cache.Engine
}

func newCacheFixture(t *testing.T, opts ...CacheOption) *cacheFixture {
	t.Helper()
	f := newSocialFixture(t)
	svc := NewCacheService(f.store, opts...)
	return &cacheFixture{svc: svc, db: f.db, engine: f.store.Cache()}
}

func (f *cacheFixture) addFeedItems(t *testing.T, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.db.Create(&models.FeedItem{
			ID:        uuid.NewString(),
			UserID:    userID,
			ActorID:   "actor",
			Verb:      "followed",
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		}).Error)
	}
}

func TestCacheService_LoadFeedPageCachesResult(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t, WithFeedPageSize(5))
	f.addFeedItems(t, "u1", 7)
	ctx := context.Background()

	items, err := f.svc.LoadFeedPage(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 5)

	// a write after the load is invisible until the TTL passes
	f.addFeedItems(t, "u1", 1)
	again, err := f.svc.LoadFeedPage(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, items, again)

	page2, err := f.svc.LoadFeedPage(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, page2, 3)
}

func TestCacheService_LoadFeedPageValidatesUser(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t)
	_, err := f.svc.LoadFeedPage(context.Background(), "", 0)
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestCacheService_UserInitiatedRefreshBypassesTTL(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t, WithFeedPageSize(10))
	f.addFeedItems(t, "u1", 2)
	ctx := context.Background()

	first, err := f.svc.RefreshFeed(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	f.addFeedItems(t, "u1", 1)

	// a passive refresh still serves the cached page
	stale, err := f.svc.RefreshFeed(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	// pull-to-refresh drops the entry and refetches
	fresh, err := f.svc.RefreshFeed(ctx, "u1", true)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
}

func TestCacheService_PreloadNextFeedPage(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t, WithFeedPageSize(2))
	f.addFeedItems(t, "u1", 6)
	ctx := context.Background()

	_, err := f.svc.LoadFeedPage(ctx, "u1", 0)
	require.NoError(t, err)

	f.svc.PreloadNextFeedPage(ctx, "u1", 0)

	require.Eventually(t, func() bool {
		_, ok := f.engine.Get(cache.FeedPageKey("u1", 1))
		return ok
	}, 2*time.Second, 10*time.Millisecond, "page 1 should be warmed in the background")
}

func TestCacheService_LogoutPurgesUserScope(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t)
	f.addFeedItems(t, "u1", 3)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&models.UserProfile{ID: "u1", Username: "runner_jo"}).Error)
	require.NoError(t, f.db.Create(&models.UserProfile{ID: "u2", Username: "trail_sam"}).Error)

	f.svc.HandleUserLogin(ctx, "u1")
	f.svc.HandleUserLogin(ctx, "u2")
	require.Positive(t, f.engine.Stats().TotalEntries)

	f.svc.HandleUserLogout("u1")

	// every entry scoped to u1 is gone; u2's survive
	for _, key := range []string{
		cache.ProfileKey("u1"),
		cache.FollowerCountKey("u1"),
		cache.FollowingCountKey("u1"),
		cache.FeedPageKey("u1", 0),
	} {
		_, ok := f.engine.Get(key)
		assert.False(t, ok, "key %s should be purged on logout", key)
	}
	_, ok := f.engine.Get(cache.ProfileKey("u2"))
	assert.True(t, ok)
}

func TestCacheService_SocialInteractionInvalidatesBothSides(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&models.UserProfile{ID: "u1", Username: "a"}).Error)
	require.NoError(t, f.db.Create(&models.UserProfile{ID: "u2", Username: "b"}).Error)
	require.NoError(t, f.db.Create(&models.UserProfile{ID: "u3", Username: "c"}).Error)
	for _, id := range []string{"u1", "u2", "u3"} {
		f.svc.HandleAppLaunch(ctx, id)
	}

	f.svc.HandleSocialInteraction(ctx, models.InteractionFollow, "u1", "u2")

	_, ok := f.engine.Get(cache.ProfileKey("u1"))
	assert.False(t, ok)
	_, ok = f.engine.Get(cache.ProfileKey("u2"))
	assert.False(t, ok)
	_, ok = f.engine.Get(cache.ProfileKey("u3"))
	assert.True(t, ok, "bystanders keep their entries")
}

func TestCacheService_HealthReport(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newCacheFixture(t, WithCacheClock(func() time.Time { return at }))

	f.engine.Set("k", "v", time.Minute)
	_, _ = f.engine.Get("k")
	_, _ = f.engine.Get("missing")

	report := f.svc.GetCacheHealthReport()
	assert.Equal(t, 1, report.TotalEntries)
	assert.InDelta(t, 0.5, report.HitRate, 0.001)
	assert.InDelta(t, 0.5, report.MissRate, 0.001)
	assert.Equal(t, at, report.GeneratedAt)
}

func TestCacheService_HealthStream(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t, WithHealthInterval(20*time.Millisecond))

	ch, unsub := f.svc.SubscribeHealth()
	defer unsub()

	select {
	case report := <-ch:
		assert.False(t, report.GeneratedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no health report arrived")
	}
}

func TestCacheService_HealthStreamUnsubscribeCloses(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t, WithHealthInterval(10*time.Millisecond))

	ch, unsub := f.svc.SubscribeHealth()
	unsub()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// unsubscribing twice is safe
	unsub()
}

func TestCacheService_OptimizeCache(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t)

	f.engine.Set("short", 1, time.Nanosecond)
	f.engine.Set("long", 2, time.Hour)
	time.Sleep(5 * time.Millisecond)

	removed := f.svc.OptimizeCache()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, f.engine.Stats().TotalEntries)
}
