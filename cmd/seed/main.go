// Command main runs the database seeder for Feedstash.
package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"

	"feedstash/internal/config"
	"feedstash/internal/database"
	"feedstash/internal/seed"
)

func main() {
	numSources := flag.Int("sources", 8, "Number of user sources to create")
	numTopics := flag.Int("topics", 3, "Number of topic feeds to create")
	postsPerSource := flag.Int("posts", 40, "Number of posts per source")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("🌱 Feedstash Seeder")
	log.Println("===================")
	log.Printf("Target: %d sources, %d topics, %d posts each, clean=%v\n",
		*numSources, *numTopics, *postsPerSource, *shouldClean)

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment as-is")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	err = seed.Seed(db, seed.Options{
		NumSources:     *numSources,
		NumTopics:      *numTopics,
		PostsPerSource: *postsPerSource,
		ShouldClean:    *shouldClean,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}
}
