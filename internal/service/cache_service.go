package service

import (
	"context"
	"sync"
	"time"

	"stride/internal/cache"
	"stride/internal/models"
	"stride/internal/observability"
	"stride/internal/repository"
)

// DefaultFeedPageSize is how many feed items one page carries.
const DefaultFeedPageSize = 20

// defaultHealthInterval paces the cache-health stream.
const defaultHealthInterval = 30 * time.Second

// CacheService is the cache orchestration layer: it manages the paginated
// activity feed, profile refreshes, reactive invalidation on social
// interactions, and the app lifecycle hooks that decide when the cache is
// warmed and when it is torn down.
type CacheService struct {
	store  *repository.RelationshipStore
	engine *cache.Engine

	mu          sync.Mutex
	healthSubs  map[chan models.CacheHealthReport]struct{}
	healthStop  func()
	now         func() time.Time
	feedPage    int
	healthEvery time.Duration
}

// CacheOption configures a CacheService.
type CacheOption func(*CacheService)

// WithFeedPageSize overrides the feed page size.
func WithFeedPageSize(n int) CacheOption {
	return func(s *CacheService) {
		if n > 0 {
			s.feedPage = n
		}
	}
}

// WithHealthInterval overrides the health report cadence.
func WithHealthInterval(d time.Duration) CacheOption {
	return func(s *CacheService) {
		if d > 0 {
			s.healthEvery = d
		}
	}
}

// WithCacheClock overrides the time source, for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(s *CacheService) { s.now = now }
}

// NewCacheService returns a new CacheService over the given store.
func NewCacheService(store *repository.RelationshipStore, opts ...CacheOption) *CacheService {
	s := &CacheService{
		store:       store,
		engine:      store.Cache(),
		healthSubs:  make(map[chan models.CacheHealthReport]struct{}),
		now:         time.Now,
		feedPage:    DefaultFeedPageSize,
		healthEvery: defaultHealthInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefreshFeed reloads the first feed page. A user-initiated refresh (pull
// to refresh) bypasses the TTL and always hits the remote store.
func (s *CacheService) RefreshFeed(ctx context.Context, userID string, userInitiated bool) ([]models.FeedItem, error) {
	if userInitiated {
		s.engine.Remove(cache.FeedPageKey(userID, 0))
	}
	return s.LoadFeedPage(ctx, userID, 0)
}

// LoadFeedPage returns one page of the activity feed, cache-first.
func (s *CacheService) LoadFeedPage(ctx context.Context, userID string, page int) ([]models.FeedItem, error) {
	if userID == "" {
		return nil, models.NewValidationError("user ID must not be empty")
	}
	if page < 0 {
		page = 0
	}
	key := cache.FeedPageKey(userID, page)
	if v, ok := s.engine.Get(key); ok {
		if items, ok := v.([]models.FeedItem); ok {
			return items, nil
		}
		// Wrong shape degrades to a miss.
		s.engine.Remove(key)
	}

	// engine pages are zero-based; the remote store counts from one
	items, err := s.store.Remote().FetchActivityFeed(ctx, userID, page+1, s.feedPage)
	if err != nil {
		return nil, err
	}
	s.engine.Set(key, items, cache.FeedTTL)
	return items, nil
}

// PreloadNextFeedPage warms the page after current in the background so
// scrolling never waits on the remote store. Errors are swallowed; the
// next foreground load will surface them.
func (s *CacheService) PreloadNextFeedPage(ctx context.Context, userID string, current int) {
	next := current + 1
	if _, ok := s.engine.Get(cache.FeedPageKey(userID, next)); ok {
		return
	}
	go func() {
		_, _ = s.LoadFeedPage(context.WithoutCancel(ctx), userID, next)
	}()
}

// RefreshUserProfile returns the user's profile, cache-first unless force.
func (s *CacheService) RefreshUserProfile(ctx context.Context, userID string, force bool) (*models.UserProfile, error) {
	return s.store.GetProfile(ctx, userID, force)
}

// HandleSocialInteraction reactively invalidates every cache entry scoped
// to either side of the interaction: lists, counts, profiles, and feed
// pages keyed by them.
func (s *CacheService) HandleSocialInteraction(_ context.Context, _ models.InteractionType, userID, targetID string) {
	s.store.InvalidateUser(userID)
	if targetID != "" && targetID != userID {
		s.store.InvalidateUser(targetID)
	}
}

// HandleAppLaunch warms the entries a fresh session reads first.
func (s *CacheService) HandleAppLaunch(ctx context.Context, userID string) {
	s.warm(ctx, userID)
}

// HandleAppBecomeActive refreshes the short-TTL entries that may have
// gone stale while the app was backgrounded.
func (s *CacheService) HandleAppBecomeActive(ctx context.Context, userID string) {
	s.store.InvalidateCounts(userID)
	_, _ = s.store.GetFollowerCount(ctx, userID)
	_, _ = s.store.GetFollowingCount(ctx, userID)
}

// HandleUserLogin warms the cache for the signed-in user.
func (s *CacheService) HandleUserLogin(ctx context.Context, userID string) {
	s.warm(ctx, userID)
}

// HandleUserLogout purges every cache entry scoped to the user so a
// following sign-in on the same device can never observe stale data from
// the previous account.
func (s *CacheService) HandleUserLogout(userID string) {
	s.engine.Invalidate(cache.UserScope(userID))
}

// GetCacheHealthReport returns a point-in-time snapshot of the engine.
func (s *CacheService) GetCacheHealthReport() models.CacheHealthReport {
	st := s.engine.Stats()
	return models.CacheHealthReport{
		TotalEntries:  st.TotalEntries,
		TotalSize:     st.TotalSize,
		HitRate:       st.HitRate,
		MissRate:      st.MissRate,
		EvictionCount: st.EvictionCount,
		GeneratedAt:   s.now(),
	}
}

// SubscribeHealth returns a channel of periodic health reports and an
// unsubscribe func. The first subscription starts the reporter; the last
// unsubscribe stops it.
func (s *CacheService) SubscribeHealth() (<-chan models.CacheHealthReport, func()) {
	ch := make(chan models.CacheHealthReport, 1)

	s.mu.Lock()
	s.healthSubs[ch] = struct{}{}
	if s.healthStop == nil {
		s.healthStop = s.startHealthReporter()
	}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, ok := s.healthSubs[ch]; ok {
			delete(s.healthSubs, ch)
			close(ch)
		}
		if len(s.healthSubs) == 0 && s.healthStop != nil {
			s.healthStop()
			s.healthStop = nil
		}
		s.mu.Unlock()
	}
}

// OptimizeCache proactively sweeps expired entries and returns how many
// were removed.
func (s *CacheService) OptimizeCache() int {
	return s.engine.RemoveExpired()
}

func (s *CacheService) warm(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	_, _ = s.store.GetProfile(ctx, userID, false)
	_, _ = s.store.GetFollowerCount(ctx, userID)
	_, _ = s.store.GetFollowingCount(ctx, userID)
	_, _ = s.LoadFeedPage(ctx, userID, 0)
}

func (s *CacheService) startHealthReporter() func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.healthEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				report := s.GetCacheHealthReport()
				observability.CacheHealthReports.Inc()
				s.mu.Lock()
				for ch := range s.healthSubs {
					select {
					case ch <- report:
					default:
						// Slow subscriber keeps only the latest report.
						select {
						case <-ch:
						default:
						}
						select {
						case ch <- report:
						default:
						}
					}
				}
				s.mu.Unlock()
			}
		}
	}()
	return func() { close(stop) }
}
