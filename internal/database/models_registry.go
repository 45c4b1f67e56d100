package database

import (
	"gorm.io/gorm"

	"feedstash/internal/models"
)

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Source{},
		&models.DownloadSession{},
		&models.Post{},
		&models.Comment{},
		&models.Content{},
	}
}

// Migrate applies the schema for every persistent model. Connect runs it
// automatically except against production postgres, where operators apply
// it through the migrate command on their own schedule.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(PersistentModels()...)
}
