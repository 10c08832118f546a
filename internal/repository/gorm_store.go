package repository

import (
	"context"
	"errors"
	"strconv"

	"stride/internal/models"
	"stride/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormSocialStore implements RemoteSocialStore on a SQL database. In
// production this points at the remote Postgres; tests use in-memory
// sqlite with the same code path.
type gormSocialStore struct {
	db     *gorm.DB
	logger *observability.StoreLogger
}

// NewGormSocialStore creates a RemoteSocialStore backed by the given DB.
func NewGormSocialStore(db *gorm.DB) RemoteSocialStore {
	return &gormSocialStore{
		db:     db,
		logger: observability.NewStoreLogger("social"),
	}
}

func (s *gormSocialStore) CreateRelationship(ctx context.Context, rel *models.Relationship) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rel)
	if res.Error != nil {
		s.logger.LogError(ctx, res.Error, "createRelationship")
		return models.NewNetworkError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewDuplicateError("relationship already exists")
	}
	s.logger.LogWrite(ctx, "createRelationship", map[string]interface{}{
		"follower_id":  rel.FollowerID,
		"following_id": rel.FollowingID,
		"status":       rel.Status,
	})
	return nil
}

func (s *gormSocialStore) UpdateRelationship(ctx context.Context, rel *models.Relationship) error {
	res := s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("id = ?", rel.ID).
		Updates(map[string]interface{}{
			"status":                rel.Status,
			"notifications_enabled": rel.NotificationsEnabled,
		})
	if res.Error != nil {
		s.logger.LogError(ctx, res.Error, "updateRelationship")
		return models.NewNetworkError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Relationship", rel.ID)
	}
	return nil
}

func (s *gormSocialStore) DeleteRelationship(ctx context.Context, followerID, followingID string) error {
	res := s.db.WithContext(ctx).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Delete(&models.Relationship{})
	if res.Error != nil {
		s.logger.LogError(ctx, res.Error, "deleteRelationship")
		return models.NewNetworkError(res.Error)
	}
	// Deleting an absent edge is a no-op, not an error.
	return nil
}

func (s *gormSocialStore) GetRelationship(ctx context.Context, followerID, followingID string) (*models.Relationship, error) {
	var rel models.Relationship
	err := s.db.WithContext(ctx).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.LogError(ctx, err, "getRelationship")
		return nil, models.NewNetworkError(err)
	}
	return &rel, nil
}

func (s *gormSocialStore) FetchRelationships(ctx context.Context, userID string, direction Direction, cursor string, limit int) (*RelationshipPage, error) {
	if limit < 1 {
		limit = 50
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, models.NewValidationError("malformed cursor")
		}
		offset = n
	}

	q := s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("status = ?", models.RelationshipStatusActive).
		Order("created_at, id")
	switch direction {
	case DirectionFollowers:
		q = q.Where("following_id = ?", userID)
	case DirectionFollowing:
		q = q.Where("follower_id = ?", userID)
	default:
		return nil, models.NewValidationError("unknown direction")
	}

	var rels []models.Relationship
	if err := q.Offset(offset).Limit(limit).Find(&rels).Error; err != nil {
		s.logger.LogError(ctx, err, "fetchRelationships")
		return nil, models.NewNetworkError(err)
	}

	page := &RelationshipPage{Relationships: rels}
	if len(rels) == limit {
		page.NextCursor = strconv.Itoa(offset + limit)
	}
	return page, nil
}

func (s *gormSocialStore) CountRelationships(ctx context.Context, userID string, direction Direction) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("status = ?", models.RelationshipStatusActive)
	switch direction {
	case DirectionFollowers:
		q = q.Where("following_id = ?", userID)
	case DirectionFollowing:
		q = q.Where("follower_id = ?", userID)
	default:
		return 0, models.NewValidationError("unknown direction")
	}

	var cnt int64
	if err := q.Count(&cnt).Error; err != nil {
		s.logger.LogError(ctx, err, "countRelationships")
		return 0, models.NewNetworkError(err)
	}
	return cnt, nil
}

func (s *gormSocialStore) CreateFollowRequest(ctx context.Context, req *models.FollowRequest) error {
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		s.logger.LogError(ctx, err, "createFollowRequest")
		return models.NewNetworkError(err)
	}
	s.logger.LogWrite(ctx, "createFollowRequest", map[string]interface{}{
		"requester_id": req.RequesterID,
		"target_id":    req.TargetID,
	})
	return nil
}

func (s *gormSocialStore) GetFollowRequest(ctx context.Context, requestID string) (*models.FollowRequest, error) {
	var req models.FollowRequest
	err := s.db.WithContext(ctx).First(&req, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("FollowRequest", requestID)
	}
	if err != nil {
		s.logger.LogError(ctx, err, "getFollowRequest")
		return nil, models.NewNetworkError(err)
	}
	return &req, nil
}

func (s *gormSocialStore) GetPendingRequest(ctx context.Context, requesterID, targetID string) (*models.FollowRequest, error) {
	var req models.FollowRequest
	err := s.db.WithContext(ctx).
		Where("requester_id = ? AND target_id = ? AND status = ?",
			requesterID, targetID, models.FollowRequestStatusPending).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.LogError(ctx, err, "getPendingRequest")
		return nil, models.NewNetworkError(err)
	}
	return &req, nil
}

func (s *gormSocialStore) ResolveFollowRequest(ctx context.Context, requestID string, status models.FollowRequestStatus) error {
	// Only pending rows can be resolved; resolving an already-terminal
	// request is a conflict surfaced to the caller.
	res := s.db.WithContext(ctx).Model(&models.FollowRequest{}).
		Where("id = ? AND status = ?", requestID, models.FollowRequestStatusPending).
		Update("status", status)
	if res.Error != nil {
		s.logger.LogError(ctx, res.Error, "resolveFollowRequest")
		return models.NewNetworkError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewConflictError("follow request is not pending")
	}
	return nil
}

func (s *gormSocialStore) FetchProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.WithContext(ctx).First(&profile, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("UserProfile", userID)
	}
	if err != nil {
		s.logger.LogError(ctx, err, "fetchProfile")
		return nil, models.NewNetworkError(err)
	}
	return &profile, nil
}

func (s *gormSocialStore) FetchActivityFeed(ctx context.Context, userID string, page, pageSize int) ([]models.FeedItem, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	var items []models.FeedItem
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	if err != nil {
		s.logger.LogError(ctx, err, "fetchActivityFeed")
		return nil, models.NewNetworkError(err)
	}
	return items, nil
}
