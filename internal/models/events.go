package models

import (
	"time"
)

// RelationshipEventType labels a change to the social graph.
type RelationshipEventType string

const (
	RelationshipAdded     RelationshipEventType = "added"
	RelationshipRemoved   RelationshipEventType = "removed"
	RelationshipBlocked   RelationshipEventType = "blocked"
	RelationshipUnblocked RelationshipEventType = "unblocked"
	RelationshipMuted     RelationshipEventType = "muted"
	RelationshipUnmuted   RelationshipEventType = "unmuted"
)

// RelationshipEvent is broadcast after every successful mutating social
// operation. Delivery is at-least-once and ordered per (actor, target)
// pair only; subscribers must apply events idempotently.
type RelationshipEvent struct {
	Type       RelationshipEventType `json:"type"`
	ActorID    string                `json:"actor_id"`
	TargetID   string                `json:"target_id"`
	Sequence   uint64                `json:"sequence"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// PairKey identifies the (actor, target) ordering domain for this event.
func (e RelationshipEvent) PairKey() string {
	return e.ActorID + ":" + e.TargetID
}

// InteractionType labels a social interaction used for reactive cache
// invalidation.
type InteractionType string

const (
	InteractionFollow  InteractionType = "follow"
	InteractionBlock   InteractionType = "block"
	InteractionMessage InteractionType = "message"
	InteractionKudos   InteractionType = "kudos"
)

// CacheHealthReport is a point-in-time snapshot of cache statistics,
// published on the cache-health stream and served on the admin endpoint.
type CacheHealthReport struct {
	TotalEntries  int       `json:"total_entries"`
	TotalSize     int64     `json:"total_size"`
	HitRate       float64   `json:"hit_rate"`
	MissRate      float64   `json:"miss_rate"`
	EvictionCount int64     `json:"eviction_count"`
	GeneratedAt   time.Time `json:"generated_at"`
}
