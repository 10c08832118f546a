package models

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipStatus represents the stored state of a directed edge.
type RelationshipStatus string

const (
	// RelationshipStatusActive indicates an active follow edge.
	RelationshipStatusActive RelationshipStatus = "active"
	// RelationshipStatusBlocked indicates the follower has blocked the target.
	RelationshipStatusBlocked RelationshipStatus = "blocked"
	// RelationshipStatusMuted indicates a mute edge created without a follow.
	RelationshipStatusMuted RelationshipStatus = "muted"
)

// relationshipNamespace seeds deterministic relationship IDs.
var relationshipNamespace = uuid.MustParse("9a8f3c1e-5b76-4c2d-9d41-7e0b2a6f8c55")

// Relationship is a directed follow/block/mute edge between two users.
// Unique per (follower, following) pair.
type Relationship struct {
	ID                   string             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FollowerID           string             `gorm:"type:varchar(64);not null;uniqueIndex:idx_relationship_pair;index:idx_relationship_follower" json:"follower_id"`
	FollowingID          string             `gorm:"type:varchar(64);not null;uniqueIndex:idx_relationship_pair;index:idx_relationship_following" json:"following_id"`
	Status               RelationshipStatus `gorm:"type:varchar(20);default:'active';index:idx_relationships_status" json:"status"`
	NotificationsEnabled bool               `gorm:"default:true" json:"notifications_enabled"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Relationship) TableName() string {
	return "relationships"
}

// RelationshipID derives the deterministic edge ID for an ordered pair, so
// client retries of the same follow always address the same row.
func RelationshipID(followerID, followingID string) string {
	return uuid.NewSHA1(relationshipNamespace, []byte(followerID+"\x00"+followingID)).String()
}

// NewRelationship builds an edge with its deterministic ID.
func NewRelationship(followerID, followingID string, status RelationshipStatus) *Relationship {
	return &Relationship{
		ID:                   RelationshipID(followerID, followingID),
		FollowerID:           followerID,
		FollowingID:          followingID,
		Status:               status,
		NotificationsEnabled: true,
	}
}

// PairStatus classifies the relationship between two users; derived, never
// stored. Blocked in either direction dominates everything else.
type PairStatus string

const (
	PairStatusFollowing    PairStatus = "following"
	PairStatusNotFollowing PairStatus = "notFollowing"
	PairStatusBlocked      PairStatus = "blocked"
	PairStatusMuted        PairStatus = "muted"
	PairStatusPending      PairStatus = "pending"
	PairStatusMutualFollow PairStatus = "mutualFollow"
)

// UserProfile is the remote store's projection of a user, as needed by
// privacy gating and cached profile reads.
type UserProfile struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username    string    `gorm:"type:varchar(64);uniqueIndex" json:"username"`
	DisplayName string    `gorm:"type:varchar(128)" json:"display_name"`
	Private     bool      `gorm:"default:false" json:"private"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (UserProfile) TableName() string {
	return "user_profiles"
}
