// Package seed provides helpers to create test and demo data for the
// application database. These helpers are intended for development and
// testing only.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"stride/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SeedOptions tunes factory behaviour.
type SeedOptions struct {
	// DryRun logs what would be written without touching the database.
	DryRun bool
	// MaxDays spreads created_at timestamps over this many days back.
	MaxDays int
	// PrivateRatio is the fraction of generated profiles marked private.
	PrivateRatio float64
}

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by seed presets and tests.
type Factory struct {
	db   *gorm.DB
	opts SeedOptions
	rng  *rand.Rand
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts SeedOptions) *Factory {
	gofakeit.Seed(time.Now().UnixNano())
	if opts.MaxDays <= 0 {
		opts.MaxDays = 90
	}
	if opts.PrivateRatio <= 0 {
		opts.PrivateRatio = 0.2
	}
	// #nosec G404: acceptable for seeding
	return &Factory{db: db, opts: opts, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// spreadCreatedAt returns a timestamp scattered over the configured window
// so seeded data does not all land at the same instant.
func (f *Factory) spreadCreatedAt() time.Time {
	daysBack := f.rng.Intn(f.opts.MaxDays)
	hoursBack := f.rng.Intn(24)
	minsBack := f.rng.Intn(60)
	return time.Now().Add(-time.Duration(daysBack)*24*time.Hour -
		time.Duration(hoursBack)*time.Hour -
		time.Duration(minsBack)*time.Minute)
}

// CreateProfile constructs and persists a sample `models.UserProfile`.
// Optional override functions may modify the generated profile before saving.
func (f *Factory) CreateProfile(overrides ...func(*models.UserProfile)) (*models.UserProfile, error) {
	profile := &models.UserProfile{
		ID:          uuid.NewString(),
		Username:    gofakeit.Username() + fmt.Sprintf("%d", gofakeit.Number(100, 999)),
		DisplayName: gofakeit.Name(),
		Private:     f.rng.Float64() < f.opts.PrivateRatio,
		CreatedAt:   f.spreadCreatedAt(),
	}

	for _, override := range overrides {
		override(profile)
	}

	if f.opts.DryRun {
		log.Printf("[dry-run] CreateProfile: %s (%s) private=%v", profile.Username, profile.ID, profile.Private)
		return profile, nil
	}

	if err := f.db.Create(profile).Error; err != nil {
		return nil, err
	}
	return profile, nil
}

// CreateFollow persists an active follow edge between two profiles.
func (f *Factory) CreateFollow(follower, following *models.UserProfile, overrides ...func(*models.Relationship)) (*models.Relationship, error) {
	rel := models.NewRelationship(follower.ID, following.ID, models.RelationshipStatusActive)
	rel.CreatedAt = f.spreadCreatedAt()

	for _, override := range overrides {
		override(rel)
	}

	if f.opts.DryRun {
		log.Printf("[dry-run] CreateFollow: %s -> %s (%s)", follower.Username, following.Username, rel.Status)
		return rel, nil
	}

	if err := f.db.Create(rel).Error; err != nil {
		return nil, err
	}
	return rel, nil
}

// CreateFollowRequest persists a pending follow request with a realistic
// message and the standard expiry window.
func (f *Factory) CreateFollowRequest(requester, target *models.UserProfile, overrides ...func(*models.FollowRequest)) (*models.FollowRequest, error) {
	created := f.spreadCreatedAt()
	req := &models.FollowRequest{
		ID:          uuid.NewString(),
		RequesterID: requester.ID,
		TargetID:    target.ID,
		Status:      models.FollowRequestStatusPending,
		Message:     gofakeit.Sentence(8),
		CreatedAt:   created,
		ExpiresAt:   created.Add(models.DefaultFollowRequestTTL),
	}

	for _, override := range overrides {
		override(req)
	}

	if f.opts.DryRun {
		log.Printf("[dry-run] CreateFollowRequest: %s -> %s status=%s", requester.Username, target.Username, req.Status)
		return req, nil
	}

	if err := f.db.Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

// feed verbs mirror what the fan-out writes in production.
var feedVerbs = []string{"followed", "accepted_request", "posted_workout", "hit_milestone"}

// BuildFeedItem constructs a feed item without persisting it. Useful for
// batching.
func (f *Factory) BuildFeedItem(owner, actor *models.UserProfile, overrides ...func(*models.FeedItem)) *models.FeedItem {
	verb := feedVerbs[f.rng.Intn(len(feedVerbs))]
	item := &models.FeedItem{
		ID:        uuid.NewString(),
		UserID:    owner.ID,
		ActorID:   actor.ID,
		Verb:      verb,
		Payload:   fmt.Sprintf(`{"summary":%q}`, gofakeit.Sentence(6)),
		CreatedAt: f.spreadCreatedAt(),
	}

	for _, override := range overrides {
		override(item)
	}
	return item
}

// CreateFeedItemsBatch persists multiple feed items in a single DB call.
func (f *Factory) CreateFeedItemsBatch(items []*models.FeedItem) error {
	if len(items) == 0 {
		return nil
	}
	if f.opts.DryRun {
		log.Printf("[dry-run] CreateFeedItemsBatch: %d items (no DB write)", len(items))
		return nil
	}
	return f.db.Create(&items).Error
}
