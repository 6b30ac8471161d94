package automation

import (
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when an automation lookup matches nothing.
var ErrNotFound = errors.New("automation: not found")

// Create validates and inserts a.
func Create(db *gorm.DB, a *models.Automation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	active := a.IsActive
	if err := db.Create(a).Error; err != nil {
		return fmt.Errorf("automation: create %q: %w", a.Name, err)
	}
	// is_active carries a column default, so a false value is skipped on insert.
	if !active {
		a.IsActive = false
		return SetActive(db, a.ID, false)
	}
	return nil
}

// Update validates a and overwrites the stored row with the same ID.
func Update(db *gorm.DB, a *models.Automation) error {
	if a.ID == 0 {
		return fmt.Errorf("automation: update: automation has no ID")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	existing, err := Get(db, a.ID)
	if err != nil {
		return err
	}
	if existing.UserID != a.UserID {
		return fmt.Errorf("%w: %d", ErrNotFound, a.ID)
	}
	a.CreatedAt = existing.CreatedAt
	if err := db.Save(a).Error; err != nil {
		return fmt.Errorf("automation: update %d: %w", a.ID, err)
	}
	return nil
}

// Get loads an automation by ID.
func Get(db *gorm.DB, id uint) (*models.Automation, error) {
	var a models.Automation
	err := db.Take(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("automation: get %d: %w", id, err)
	}
	return &a, nil
}

// ListActive returns a user's active automations of type t, ordered by ID.
func ListActive(db *gorm.DB, userID uint, t models.TriggerType) ([]models.Automation, error) {
	var out []models.Automation
	err := db.Where("user_id = ? AND trigger_type = ? AND is_active = ?", userID, t, true).
		Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("automation: list %s for user %d: %w", t, userID, err)
	}
	return out, nil
}

// ListScheduled returns every active schedule automation across users.
func ListScheduled(db *gorm.DB) ([]models.Automation, error) {
	var out []models.Automation
	err := db.Where("trigger_type = ? AND is_active = ?", models.TriggerSchedule, true).
		Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("automation: list scheduled: %w", err)
	}
	return out, nil
}

// SetActive enables or disables an automation.
func SetActive(db *gorm.DB, id uint, active bool) error {
	a, err := Get(db, id)
	if err != nil {
		return err
	}
	if err := db.Model(a).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("automation: set active %d: %w", id, err)
	}
	return nil
}
