// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"

	"stride/internal/models"
)

// Direction selects which side of the graph a relationship query walks.
type Direction string

const (
	// DirectionFollowers fetches edges pointing at the user.
	DirectionFollowers Direction = "followers"
	// DirectionFollowing fetches edges leaving the user.
	DirectionFollowing Direction = "following"
)

// RelationshipPage is one page of a cursor-paginated relationship scan.
// An empty NextCursor means the scan is complete.
type RelationshipPage struct {
	Relationships []models.Relationship
	NextCursor    string
}

// RemoteSocialStore is the abstract remote persistent store for the social
// graph. Every call is bounded by its context deadline; implementations
// classify failures as not-found, conflict, or network errors via the
// models error taxonomy.
type RemoteSocialStore interface {
	CreateRelationship(ctx context.Context, rel *models.Relationship) error
	UpdateRelationship(ctx context.Context, rel *models.Relationship) error
	DeleteRelationship(ctx context.Context, followerID, followingID string) error
	// GetRelationship returns (nil, nil) when no edge exists.
	GetRelationship(ctx context.Context, followerID, followingID string) (*models.Relationship, error)
	FetchRelationships(ctx context.Context, userID string, direction Direction, cursor string, limit int) (*RelationshipPage, error)
	CountRelationships(ctx context.Context, userID string, direction Direction) (int64, error)

	CreateFollowRequest(ctx context.Context, req *models.FollowRequest) error
	GetFollowRequest(ctx context.Context, requestID string) (*models.FollowRequest, error)
	// GetPendingRequest returns (nil, nil) when no pending request exists
	// for the pair.
	GetPendingRequest(ctx context.Context, requesterID, targetID string) (*models.FollowRequest, error)
	ResolveFollowRequest(ctx context.Context, requestID string, status models.FollowRequestStatus) error

	FetchProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	FetchActivityFeed(ctx context.Context, userID string, page, pageSize int) ([]models.FeedItem, error)
}
