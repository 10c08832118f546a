package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"stride/internal/models"
)

func newStoreDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserProfile{},
		&models.Relationship{},
		&models.FollowRequest{},
		&models.FeedItem{},
	))
	return db
}

func TestGormSocialStore_Relationships(t *testing.T) {
	t.Parallel()

	store := NewGormSocialStore(newStoreDB(t))
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		rel := models.NewRelationship("u1", "u2", models.RelationshipStatusActive)
		require.NoError(t, store.CreateRelationship(ctx, rel))

		got, err := store.GetRelationship(ctx, "u1", "u2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rel.ID, got.ID)
		assert.Equal(t, models.RelationshipStatusActive, got.Status)
		assert.True(t, got.NotificationsEnabled)
	})

	t.Run("duplicate create is rejected", func(t *testing.T) {
		err := store.CreateRelationship(ctx, models.NewRelationship("u1", "u2", models.RelationshipStatusActive))
		require.Error(t, err)
		assert.Equal(t, models.CodeDuplicate, models.ErrorCode(err))
	})

	t.Run("reverse direction is a distinct edge", func(t *testing.T) {
		require.NoError(t, store.CreateRelationship(ctx, models.NewRelationship("u2", "u1", models.RelationshipStatusActive)))
	})

	t.Run("absent edge reads as nil without error", func(t *testing.T) {
		got, err := store.GetRelationship(ctx, "u1", "nobody")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("update flips status and notifications", func(t *testing.T) {
		rel, err := store.GetRelationship(ctx, "u1", "u2")
		require.NoError(t, err)
		rel.Status = models.RelationshipStatusMuted
		rel.NotificationsEnabled = false
		require.NoError(t, store.UpdateRelationship(ctx, rel))

		got, err := store.GetRelationship(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.Equal(t, models.RelationshipStatusMuted, got.Status)
		assert.False(t, got.NotificationsEnabled)
	})

	t.Run("update of missing edge is not found", func(t *testing.T) {
		ghost := models.NewRelationship("x", "y", models.RelationshipStatusActive)
		err := store.UpdateRelationship(ctx, ghost)
		require.Error(t, err)
		assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.DeleteRelationship(ctx, "u1", "u2"))
		require.NoError(t, store.DeleteRelationship(ctx, "u1", "u2"))

		got, err := store.GetRelationship(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestGormSocialStore_DeterministicEdgeID(t *testing.T) {
	t.Parallel()

	a := models.RelationshipID("u1", "u2")
	b := models.RelationshipID("u1", "u2")
	c := models.RelationshipID("u2", "u1")

	assert.Equal(t, a, b, "same ordered pair, same ID")
	assert.NotEqual(t, a, c, "direction matters")

	// concatenation is ambiguity-safe: ("ab","c") and ("a","bc") differ
	assert.NotEqual(t, models.RelationshipID("ab", "c"), models.RelationshipID("a", "bc"))
}

func TestGormSocialStore_FetchAndCount(t *testing.T) {
	t.Parallel()

	store := NewGormSocialStore(newStoreDB(t))
	ctx := context.Background()

	for i, follower := range []string{"f1", "f2", "f3"} {
		rel := models.NewRelationship(follower, "star", models.RelationshipStatusActive)
		rel.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, store.CreateRelationship(ctx, rel))
	}
	// blocked edges never count as followers
	require.NoError(t, store.CreateRelationship(ctx, models.NewRelationship("f4", "star", models.RelationshipStatusBlocked)))

	cnt, err := store.CountRelationships(ctx, "star", DirectionFollowers)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cnt)

	page, err := store.FetchRelationships(ctx, "star", DirectionFollowers, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Relationships, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := store.FetchRelationships(ctx, "star", DirectionFollowers, page.NextCursor, 2)
	require.NoError(t, err)
	assert.Len(t, rest.Relationships, 1)
	assert.Empty(t, rest.NextCursor)

	_, err = store.FetchRelationships(ctx, "star", DirectionFollowers, "garbage", 2)
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestGormSocialStore_FollowRequests(t *testing.T) {
	t.Parallel()

	store := NewGormSocialStore(newStoreDB(t))
	ctx := context.Background()

	req := &models.FollowRequest{
		ID:          uuid.NewString(),
		RequesterID: "u1",
		TargetID:    "u2",
		Status:      models.FollowRequestStatusPending,
		Message:     "let me in",
		ExpiresAt:   time.Now().Add(models.DefaultFollowRequestTTL),
	}
	require.NoError(t, store.CreateFollowRequest(ctx, req))

	t.Run("pending lookup finds it", func(t *testing.T) {
		got, err := store.GetPendingRequest(ctx, "u1", "u2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, req.ID, got.ID)
	})

	t.Run("pending lookup for other pair is nil", func(t *testing.T) {
		got, err := store.GetPendingRequest(ctx, "u2", "u1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("resolve moves it to terminal state", func(t *testing.T) {
		require.NoError(t, store.ResolveFollowRequest(ctx, req.ID, models.FollowRequestStatusAccepted))

		got, err := store.GetFollowRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.FollowRequestStatusAccepted, got.Status)

		// terminal requests no longer match pending lookups
		pending, err := store.GetPendingRequest(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.Nil(t, pending)
	})

	t.Run("resolving twice conflicts", func(t *testing.T) {
		err := store.ResolveFollowRequest(ctx, req.ID, models.FollowRequestStatusRejected)
		require.Error(t, err)
		assert.Equal(t, models.CodeConflict, models.ErrorCode(err))
	})

	t.Run("unknown request id is not found", func(t *testing.T) {
		_, err := store.GetFollowRequest(ctx, "missing")
		require.Error(t, err)
		assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
	})
}

func TestGormSocialStore_ProfileAndFeed(t *testing.T) {
	t.Parallel()

	db := newStoreDB(t)
	store := NewGormSocialStore(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.UserProfile{
		ID: "u1", Username: "runner_jo", Private: true,
	}).Error)

	profile, err := store.FetchProfile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, profile.Private)

	_, err = store.FetchProfile(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&models.FeedItem{
			ID:        uuid.NewString(),
			UserID:    "u1",
			ActorID:   "u2",
			Verb:      "followed",
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Hour),
		}).Error)
	}

	items, err := store.FetchActivityFeed(ctx, "u1", 1, 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	// newest first
	assert.True(t, items[0].CreatedAt.After(items[2].CreatedAt))

	rest, err := store.FetchActivityFeed(ctx, "u1", 2, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}
