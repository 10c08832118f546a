// Command main runs the database seeder for Stride.
package main

import (
	"flag"
	"log"

	"gorm.io/gorm"

	"stride/internal/config"
	"stride/internal/database"
	"stride/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 50, "Number of profiles to create")
	feedPerUser := flag.Int("feed", 10, "Max feed items per profile")
	privateRatio := flag.Float64("private", 0.2, "Fraction of profiles marked private")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	sqlitePath := flag.String("sqlite", "", "Seed a local SQLite file instead of Postgres")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d profiles, clean=%v\n", *numUsers, *shouldClean)

	db, err := connect(*sqlitePath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := seed.Seed(db, seed.Options{
		NumUsers:     *numUsers,
		FeedPerUser:  *feedPerUser,
		ShouldClean:  *shouldClean,
		PrivateRatio: *privateRatio,
	}); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✨ All done! Your database is now populated with demo data.")
}

func connect(sqlitePath string) (*gorm.DB, error) {
	if sqlitePath != "" {
		return database.ConnectSQLite(sqlitePath)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return database.Connect(cfg)
}
