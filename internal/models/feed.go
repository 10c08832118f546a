package models

import "time"

// FeedItem is one entry in a user's activity feed, written by the remote
// store's fan-out and read here cache-first.
type FeedItem struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index:idx_feed_user_created" json:"user_id"`
	ActorID   string    `gorm:"type:varchar(64);not null" json:"actor_id"`
	Verb      string    `gorm:"type:varchar(32);not null" json:"verb"`
	Payload   string    `gorm:"type:text" json:"payload"`
	CreatedAt time.Time `gorm:"index:idx_feed_user_created" json:"created_at"`
}

// TableName specifies the table name for GORM
func (FeedItem) TableName() string {
	return "feed_items"
}
