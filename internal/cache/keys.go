package cache

import (
	"fmt"
	"time"
)

// Every cached value is scoped under its user's prefix so a single
// Invalidate(UserScope(id)) purges all state for that user — the logout
// path depends on this.
const (
	userScopePrefix     = "u:%s:"
	followersKeyPrefix  = "u:%s:followers:p:%d"
	followingKeyPrefix  = "u:%s:following:p:%d"
	mutualsKeyPrefix    = "u:%s:mutuals:%d"
	followerCountKey    = "u:%s:count:followers"
	followingCountKey   = "u:%s:count:following"
	profileKeyPrefix    = "u:%s:profile"
	feedPageKeyPrefix   = "u:%s:feed:p:%d"
	relationshipKeyPair = "u:%s:rel:%s"
)

// Count entries carry a deliberately short TTL: counts are cheap to
// refetch and badly stale counts are the most visible cache bug.
const (
	ListTTL    = 5 * time.Minute
	CountTTL   = 1 * time.Minute
	ProfileTTL = 10 * time.Minute
	FeedTTL    = 2 * time.Minute
)

// UserScope returns the invalidation pattern covering every entry scoped
// to userID.
func UserScope(userID string) string {
	return fmt.Sprintf(userScopePrefix, userID) + "*"
}

func FollowersKey(userID string, page int) string {
	return fmt.Sprintf(followersKeyPrefix, userID, page)
}

func FollowingKey(userID string, page int) string {
	return fmt.Sprintf(followingKeyPrefix, userID, page)
}

func MutualsKey(userID string, limit int) string {
	return fmt.Sprintf(mutualsKeyPrefix, userID, limit)
}

func FollowerCountKey(userID string) string {
	return fmt.Sprintf(followerCountKey, userID)
}

func FollowingCountKey(userID string) string {
	return fmt.Sprintf(followingCountKey, userID)
}

func ProfileKey(userID string) string {
	return fmt.Sprintf(profileKeyPrefix, userID)
}

func FeedPageKey(userID string, page int) string {
	return fmt.Sprintf(feedPageKeyPrefix, userID, page)
}

func RelationshipKey(userID, otherID string) string {
	return fmt.Sprintf(relationshipKeyPair, userID, otherID)
}
