package repository

import (
	"context"
	"strconv"
	"time"

	"stride/internal/cache"
	"stride/internal/models"

	"github.com/avast/retry-go/v4"
)

// DefaultPageSize is the page size for follower/following list reads.
const DefaultPageSize = 50

// mutualScanCap bounds how many edges per direction a mutual-follower
// intersection will walk.
const mutualScanCap = 1000

// RelationshipStore is the authoritative local view of the social graph:
// reads go cache-first with remote fallback, writes go straight through to
// the remote store. It holds no locks across remote round-trips; the cache
// engine synchronizes itself.
type RelationshipStore struct {
	remote      RemoteSocialStore
	cache       *cache.Engine
	readTimeout time.Duration
}

// StoreOption configures a RelationshipStore.
type StoreOption func(*RelationshipStore)

// WithReadTimeout bounds each remote read round-trip.
func WithReadTimeout(d time.Duration) StoreOption {
	return func(s *RelationshipStore) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// NewRelationshipStore creates the store facade.
func NewRelationshipStore(remote RemoteSocialStore, engine *cache.Engine, opts ...StoreOption) *RelationshipStore {
	s := &RelationshipStore{
		remote:      remote,
		cache:       engine,
		readTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Remote exposes the underlying store for write paths that bypass the cache.
func (s *RelationshipStore) Remote() RemoteSocialStore {
	return s.remote
}

// Cache exposes the cache engine for invalidation hooks.
func (s *RelationshipStore) Cache() *cache.Engine {
	return s.cache
}

// GetFollowers returns one page of follower user IDs, cache-first.
func (s *RelationshipStore) GetFollowers(ctx context.Context, userID string, page int) ([]string, error) {
	return s.listPage(ctx, userID, DirectionFollowers, cache.FollowersKey(userID, page), page)
}

// GetFollowing returns one page of followed user IDs, cache-first.
func (s *RelationshipStore) GetFollowing(ctx context.Context, userID string, page int) ([]string, error) {
	return s.listPage(ctx, userID, DirectionFollowing, cache.FollowingKey(userID, page), page)
}

func (s *RelationshipStore) listPage(ctx context.Context, userID string, dir Direction, key string, page int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	if v, ok := s.cache.Get(key); ok {
		if ids, ok := v.([]string); ok {
			return ids, nil
		}
		// Unexpected entry shape degrades to a miss.
		s.cache.Remove(key)
	}

	ids, err := s.fetchIDs(ctx, userID, dir, (page-1)*DefaultPageSize, DefaultPageSize)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, ids, cache.ListTTL)
	return ids, nil
}

// GetMutualFollowers returns up to limit users who both follow userID and
// are followed by userID.
func (s *RelationshipStore) GetMutualFollowers(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit < 1 {
		limit = DefaultPageSize
	}
	key := cache.MutualsKey(userID, limit)
	if v, ok := s.cache.Get(key); ok {
		if ids, ok := v.([]string); ok {
			return ids, nil
		}
		s.cache.Remove(key)
	}

	followers, err := s.fetchIDs(ctx, userID, DirectionFollowers, 0, mutualScanCap)
	if err != nil {
		return nil, err
	}
	following, err := s.fetchIDs(ctx, userID, DirectionFollowing, 0, mutualScanCap)
	if err != nil {
		return nil, err
	}

	followed := make(map[string]struct{}, len(following))
	for _, id := range following {
		followed[id] = struct{}{}
	}
	mutuals := make([]string, 0, limit)
	for _, id := range followers {
		if _, ok := followed[id]; ok {
			mutuals = append(mutuals, id)
			if len(mutuals) == limit {
				break
			}
		}
	}

	s.cache.Set(key, mutuals, cache.ListTTL)
	return mutuals, nil
}

// GetFollowerCount returns the follower count, cached with a shorter TTL
// than list reads.
func (s *RelationshipStore) GetFollowerCount(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, userID, DirectionFollowers, cache.FollowerCountKey(userID))
}

// GetFollowingCount returns the following count, cached with a shorter TTL
// than list reads.
func (s *RelationshipStore) GetFollowingCount(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, userID, DirectionFollowing, cache.FollowingCountKey(userID))
}

func (s *RelationshipStore) count(ctx context.Context, userID string, dir Direction, key string) (int64, error) {
	if v, ok := s.cache.Get(key); ok {
		if n, ok := v.(int64); ok {
			return n, nil
		}
		s.cache.Remove(key)
	}

	var n int64
	err := s.retryRead(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.remote.CountRelationships(ctx, userID, dir)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.cache.Set(key, n, cache.CountTTL)
	return n, nil
}

// GetRelationship reads one edge straight from the remote store. Gating
// decisions never trust the cache.
func (s *RelationshipStore) GetRelationship(ctx context.Context, followerID, followingID string) (*models.Relationship, error) {
	var rel *models.Relationship
	err := s.retryRead(ctx, func(ctx context.Context) error {
		var err error
		rel, err = s.remote.GetRelationship(ctx, followerID, followingID)
		return err
	})
	return rel, err
}

// GetProfile returns a user profile, cache-first.
func (s *RelationshipStore) GetProfile(ctx context.Context, userID string, force bool) (*models.UserProfile, error) {
	key := cache.ProfileKey(userID)
	if !force {
		if v, ok := s.cache.Get(key); ok {
			if p, ok := v.(*models.UserProfile); ok {
				return p, nil
			}
			s.cache.Remove(key)
		}
	}

	var profile *models.UserProfile
	err := s.retryRead(ctx, func(ctx context.Context) error {
		var err error
		profile, err = s.remote.FetchProfile(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, profile, cache.ProfileTTL)
	return profile, nil
}

// InvalidateUser purges every cache entry scoped to userID.
func (s *RelationshipStore) InvalidateUser(userID string) {
	s.cache.Invalidate(cache.UserScope(userID))
}

// InvalidateCounts drops only the count entries for userID, for events
// that change counts without touching list membership order.
func (s *RelationshipStore) InvalidateCounts(userID string) {
	s.cache.Remove(cache.FollowerCountKey(userID))
	s.cache.Remove(cache.FollowingCountKey(userID))
}

// ClearCache drops every cached relationship read.
func (s *RelationshipStore) ClearCache() {
	s.cache.RemoveAll()
}

// Preload warms counts and first list pages for the given users, e.g. on
// login for the session user and their recent contacts.
func (s *RelationshipStore) Preload(ctx context.Context, userIDs []string) {
	for _, id := range userIDs {
		if ctx.Err() != nil {
			return
		}
		_, _ = s.GetFollowerCount(ctx, id)
		_, _ = s.GetFollowingCount(ctx, id)
		_, _ = s.GetFollowers(ctx, id, 1)
		_, _ = s.GetFollowing(ctx, id, 1)
	}
}

func (s *RelationshipStore) fetchIDs(ctx context.Context, userID string, dir Direction, offset, limit int) ([]string, error) {
	var rels []models.Relationship
	err := s.retryRead(ctx, func(ctx context.Context) error {
		cursor := ""
		if offset > 0 {
			cursor = strconv.Itoa(offset)
		}
		page, err := s.remote.FetchRelationships(ctx, userID, dir, cursor, limit)
		if err != nil {
			return err
		}
		rels = page.Relationships
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rels))
	for _, rel := range rels {
		if dir == DirectionFollowers {
			ids = append(ids, rel.FollowerID)
		} else {
			ids = append(ids, rel.FollowingID)
		}
	}
	return ids, nil
}

// retryRead runs fn with a bounded deadline, transparently retrying
// network failures a small number of times. Terminal errors (not-found,
// validation) surface on the first attempt.
func (s *RelationshipStore) retryRead(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
			defer cancel()
			return fn(callCtx)
		},
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.RetryIf(models.IsRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}
