package db

import (
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model managed by Signalbox.
func AllModels() []interface{} {
	return []interface{}{
		&models.Contact{},
		&models.Automation{},
		&models.Message{},
		&models.QueuedMessage{},
		&models.AutomationMetrics{},
		&models.MessageTemplate{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedTemplates upserts message templates by (user_id, name).
func SeedTemplates(db *gorm.DB, templates []models.MessageTemplate) error {
	for i := range templates {
		tmpl := templates[i]
		tmpl.ID = 0
		if tmpl.UserID == 0 || tmpl.Name == "" {
			return fmt.Errorf("db: seed template %d: user_id and name are required", i)
		}
		var existing models.MessageTemplate
		err := db.Where("user_id = ? AND name = ?", tmpl.UserID, tmpl.Name).Take(&existing).Error
		switch {
		case err == nil:
			tmpl.ID = existing.ID
			tmpl.CreatedAt = existing.CreatedAt
			if err := db.Save(&tmpl).Error; err != nil {
				return fmt.Errorf("db: seed template %q: %w", tmpl.Name, err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := db.Create(&tmpl).Error; err != nil {
				return fmt.Errorf("db: seed template %q: %w", tmpl.Name, err)
			}
		default:
			return fmt.Errorf("db: seed template %q: %w", tmpl.Name, err)
		}
	}
	return nil
}
