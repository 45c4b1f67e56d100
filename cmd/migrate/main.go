// Command migrate applies the database schema for Feedstash. Development
// deployments never need it; production postgres schemas are only touched
// here, never on server start.
package main

import (
	"log"

	"github.com/joho/godotenv"

	"feedstash/internal/config"
	"feedstash/internal/database"
)

func main() {
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

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Schema applied for driver %s", cfg.DBDriver)
}
