package database

import "stride/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.UserProfile{},
		&models.Relationship{},
		&models.FollowRequest{},
		&models.FeedItem{},
	}
}
