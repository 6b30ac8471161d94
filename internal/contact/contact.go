// Package contact stores the people automations talk to.
package contact

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a contact lookup matches nothing.
var ErrNotFound = errors.New("contact: not found")

// Upsert finds the contact for (userID, phone) or creates it, and sets its
// last interaction to now. created reports whether a new row was inserted.
func Upsert(db *gorm.DB, userID uint, phone string, now time.Time) (c *models.Contact, created bool, err error) {
	if userID == 0 {
		return nil, false, fmt.Errorf("contact: userID is required")
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, false, fmt.Errorf("contact: phone is required")
	}
	now = now.UTC()

	found, err := byPhone(db, userID, phone)
	if err == nil {
		found.LastInteraction = &now
		if err := db.Model(found).Update("last_interaction", now).Error; err != nil {
			return nil, false, fmt.Errorf("contact: touch %d: %w", found.ID, err)
		}
		return found, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	fresh := &models.Contact{
		UserID:          userID,
		Phone:           phone,
		Tags:            []string{},
		LastInteraction: &now,
		CreatedAt:       now,
	}
	inserted, err := insert(db, fresh)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return fresh, true, nil
	}

	// A concurrent insert of the same phone won; the statement was a no-op
	// so the surrounding transaction is still usable.
	again, err := byPhone(db, userID, phone)
	if err != nil {
		return nil, false, err
	}
	if err := Touch(db, again.ID, now); err != nil {
		return nil, false, err
	}
	again.LastInteraction = &now
	return again, false, nil
}

// insert creates c unless (user_id, phone) already exists. It reports
// whether a row was written.
func insert(db *gorm.DB, c *models.Contact) (bool, error) {
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "phone"}},
		DoNothing: true,
	}).Create(c)
	if res.Error != nil {
		return false, fmt.Errorf("contact: create %s: %w", c.Phone, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func byPhone(db *gorm.DB, userID uint, phone string) (*models.Contact, error) {
	var c models.Contact
	err := db.Where("user_id = ? AND phone = ?", userID, phone).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("contact: lookup %s: %w", phone, err)
	}
	return &c, nil
}

// Get loads a contact by ID.
func Get(db *gorm.DB, id uint) (*models.Contact, error) {
	var c models.Contact
	err := db.Take(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("contact: get %d: %w", id, err)
	}
	return &c, nil
}

// ListByUser returns every contact owned by userID, ordered by ID.
func ListByUser(db *gorm.DB, userID uint) ([]models.Contact, error) {
	var out []models.Contact
	if err := db.Where("user_id = ?", userID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("contact: list user %d: %w", userID, err)
	}
	return out, nil
}

// Save persists the mutable profile fields of c: name, email, tags,
// custom fields and last interaction.
func Save(db *gorm.DB, c *models.Contact) error {
	if c.ID == 0 {
		return fmt.Errorf("contact: save: contact has no ID")
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	err := db.Model(c).
		Select("name", "email", "tags", "custom_fields", "last_interaction").
		Updates(c).Error
	if err != nil {
		return fmt.Errorf("contact: save %d: %w", c.ID, err)
	}
	return nil
}

// Touch sets a contact's last interaction time.
func Touch(db *gorm.DB, id uint, now time.Time) error {
	err := db.Model(&models.Contact{}).Where("id = ?", id).
		Update("last_interaction", now.UTC()).Error
	if err != nil {
		return fmt.Errorf("contact: touch %d: %w", id, err)
	}
	return nil
}
