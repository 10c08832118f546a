// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"stride/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers     int
	FeedPerUser  int
	ShouldClean  bool
	PrivateRatio float64
}

// Seed populates the database with a demo social mesh: profiles, follow
// edges clustered into small communities, pending requests against private
// accounts, a handful of blocks and mutes, and activity feed items.
func Seed(db *gorm.DB, opts Options) error {
	log.Printf("🌱 Starting database seeding with %d users...", opts.NumUsers)

	if opts.ShouldClean {
		if err := clearData(db); err != nil {
			log.Println("⚠️  Warning: Could not clear all existing data, but continuing anyway...")
		}
	}

	factory := NewFactory(db, SeedOptions{PrivateRatio: opts.PrivateRatio})
	//nolint:gosec // Weak random number generator is fine for seeding
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	profiles, err := createProfiles(factory, opts.NumUsers)
	if err != nil {
		return fmt.Errorf("failed to create profiles: %w", err)
	}
	log.Printf("✓ %d profiles created", len(profiles))

	follows, err := createFollowMesh(factory, r, profiles)
	if err != nil {
		return fmt.Errorf("failed to create follow mesh: %w", err)
	}
	log.Printf("✓ %d follow edges created", follows)

	requests, err := createPendingRequests(factory, r, profiles)
	if err != nil {
		return fmt.Errorf("failed to create follow requests: %w", err)
	}
	log.Printf("✓ %d pending follow requests created", requests)

	if err := createBlocksAndMutes(factory, r, profiles); err != nil {
		return fmt.Errorf("failed to create blocks and mutes: %w", err)
	}
	log.Println("✓ blocks and mutes created")

	feedItems, err := createFeedItems(factory, r, profiles, opts.FeedPerUser)
	if err != nil {
		return fmt.Errorf("failed to create feed items: %w", err)
	}
	log.Printf("✓ %d feed items created", feedItems)

	log.Println("🎉 Database seeding completed successfully!")
	return nil
}

func clearData(db *gorm.DB) error {
	log.Println("🗑️  Clearing existing data...")
	sql := `TRUNCATE TABLE feed_items, follow_requests, relationships, user_profiles RESTART IDENTITY CASCADE;`
	if err := db.Exec(sql).Error; err == nil {
		return nil
	}
	// SQLite has no TRUNCATE
	for _, table := range []string{"feed_items", "follow_requests", "relationships", "user_profiles"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}
	return nil
}

func createProfiles(factory *Factory, count int) ([]*models.UserProfile, error) {
	profiles := make([]*models.UserProfile, 0, count)

	// Always include a few well-known accounts for manual testing.
	if count >= 3 {
		known := []struct {
			username string
			private  bool
		}{
			{"runner_jo", false},
			{"trail_sam", false},
			{"quiet_km", true},
		}
		for _, k := range known {
			p, err := factory.CreateProfile(func(profile *models.UserProfile) {
				profile.ID = "user-" + k.username
				profile.Username = k.username
				profile.Private = k.private
			})
			if err == nil {
				profiles = append(profiles, p)
			}
		}
	}

	for i := len(profiles); i < count; i++ {
		p, err := factory.CreateProfile()
		if err != nil {
			log.Printf("Failed to create profile: %v", err)
			continue
		}
		profiles = append(profiles, p)

		if i%100 == 0 && i > 0 {
			log.Printf("Created %d profiles...", i)
		}
	}

	return profiles, nil
}

// createFollowMesh links profiles into loose clusters so feeds and mutual
// follower queries return something interesting. Each user follows a handful
// of neighbours, with a bias toward reciprocation.
func createFollowMesh(factory *Factory, r *rand.Rand, profiles []*models.UserProfile) (int, error) {
	created := 0
	n := len(profiles)
	if n < 2 {
		return 0, nil
	}

	for i, follower := range profiles {
		outDegree := 3 + r.Intn(8)
		seen := map[int]bool{i: true}
		for f := 0; f < outDegree; f++ {
			// stay near the cluster most of the time, roam occasionally
			var j int
			if r.Float64() < 0.8 {
				j = (i + 1 + r.Intn(10)) % n
			} else {
				j = r.Intn(n)
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			target := profiles[j]

			// follows into private accounts are seeded as requests instead
			if target.Private {
				continue
			}
			if _, err := factory.CreateFollow(follower, target); err != nil {
				continue
			}
			created++

			// reciprocate about half the time to produce mutual follows
			if !follower.Private && r.Float64() < 0.5 {
				if _, err := factory.CreateFollow(target, follower); err == nil {
					created++
				}
			}
		}
	}

	return created, nil
}

func createPendingRequests(factory *Factory, r *rand.Rand, profiles []*models.UserProfile) (int, error) {
	created := 0
	for _, target := range profiles {
		if !target.Private {
			continue
		}
		numRequests := 1 + r.Intn(4)
		for k := 0; k < numRequests; k++ {
			requester := profiles[r.Intn(len(profiles))]
			if requester.ID == target.ID {
				continue
			}
			if _, err := factory.CreateFollowRequest(requester, target); err != nil {
				continue
			}
			created++
		}
	}
	return created, nil
}

func createBlocksAndMutes(factory *Factory, r *rand.Rand, profiles []*models.UserProfile) error {
	n := len(profiles)
	if n < 4 {
		return nil
	}

	// a small number of blocks
	for i := 0; i < n/20+1; i++ {
		a := profiles[r.Intn(n)]
		b := profiles[r.Intn(n)]
		if a.ID == b.ID {
			continue
		}
		_, _ = factory.CreateFollow(a, b, func(rel *models.Relationship) {
			rel.Status = models.RelationshipStatusBlocked
			rel.NotificationsEnabled = false
		})
	}

	// and a few mutes without a follow
	for i := 0; i < n/10+1; i++ {
		a := profiles[r.Intn(n)]
		b := profiles[r.Intn(n)]
		if a.ID == b.ID {
			continue
		}
		_, _ = factory.CreateFollow(a, b, func(rel *models.Relationship) {
			rel.Status = models.RelationshipStatusMuted
			rel.NotificationsEnabled = false
		})
	}

	return nil
}

func createFeedItems(factory *Factory, r *rand.Rand, profiles []*models.UserProfile, perUser int) (int, error) {
	if perUser <= 0 {
		perUser = 10
	}
	created := 0
	batch := make([]*models.FeedItem, 0, 256)

	for _, owner := range profiles {
		count := 1 + r.Intn(perUser)
		for k := 0; k < count; k++ {
			actor := profiles[r.Intn(len(profiles))]
			batch = append(batch, factory.BuildFeedItem(owner, actor))
		}
		if len(batch) >= 200 {
			if err := factory.CreateFeedItemsBatch(batch); err != nil {
				return created, err
			}
			created += len(batch)
			batch = batch[:0]
		}
	}

	if err := factory.CreateFeedItemsBatch(batch); err != nil {
		return created, err
	}
	created += len(batch)
	return created, nil
}
