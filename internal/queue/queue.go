// Package queue persists deferred sends and continuations and hands them
// out to the drain job exactly once.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// ErrNotClaimed is returned by Claim when another worker already moved the
// row out of pending.
var ErrNotClaimed = errors.New("queue: row not claimed")

// EnqueueOpts describes one queued row. Exactly one of Content or Actions
// is expected to be set.
type EnqueueOpts struct {
	UserID       uint
	ContactID    uint
	AutomationID *uint
	Content      string
	MessageType  string
	Platform     string
	Actions      []models.Action
	At           time.Time
}

// Enqueue inserts a pending row due at opts.At.
func Enqueue(db *gorm.DB, opts EnqueueOpts) (*models.QueuedMessage, error) {
	if opts.UserID == 0 {
		return nil, fmt.Errorf("queue: userID is required")
	}
	if opts.ContactID == 0 {
		return nil, fmt.Errorf("queue: contactID is required")
	}
	if opts.At.IsZero() {
		return nil, fmt.Errorf("queue: scheduled time is required")
	}

	q := models.QueuedMessage{
		UserID:         opts.UserID,
		ContactID:      opts.ContactID,
		AutomationID:   opts.AutomationID,
		MessageContent: opts.Content,
		MessageType:    opts.MessageType,
		Platform:       opts.Platform,
		Actions:        opts.Actions,
		ScheduledTime:  opts.At.UTC(),
		Status:         models.QueuePending,
	}
	if q.MessageType == "" {
		q.MessageType = "text"
	}
	if q.Platform == "" {
		q.Platform = models.DefaultPlatform
	}
	if err := db.Create(&q).Error; err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	return &q, nil
}

// Due returns up to limit pending rows scheduled at or before now, oldest
// first.
func Due(db *gorm.DB, now time.Time, limit int) ([]models.QueuedMessage, error) {
	q := db.Where("status = ? AND scheduled_time <= ?", models.QueuePending, now.UTC()).
		Order("scheduled_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.QueuedMessage
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("queue: due: %w", err)
	}
	return rows, nil
}

// Claim moves a row from pending to processing. It succeeds for exactly one
// caller; everyone else gets ErrNotClaimed.
func Claim(db *gorm.DB, id uint) error {
	result := db.Model(&models.QueuedMessage{}).
		Where("id = ? AND status = ?", id, models.QueuePending).
		Update("status", models.QueueProcessing)
	if result.Error != nil {
		return fmt.Errorf("queue: claim %d: %w", id, result.Error)
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("%w: %d", ErrNotClaimed, id)
	}
	return nil
}

// MarkSent finishes a processing row successfully.
func MarkSent(db *gorm.DB, id uint) error {
	return finish(db, id, models.QueueSent, "")
}

// MarkFailed finishes a processing row with reason.
func MarkFailed(db *gorm.DB, id uint, reason string) error {
	return finish(db, id, models.QueueFailed, reason)
}

func finish(db *gorm.DB, id uint, status, reason string) error {
	result := db.Model(&models.QueuedMessage{}).
		Where("id = ? AND status = ?", id, models.QueueProcessing).
		Updates(map[string]interface{}{"status": status, "last_error": reason})
	if result.Error != nil {
		return fmt.Errorf("queue: mark %s %d: %w", status, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("queue: mark %s %d: row not processing", status, id)
	}
	return nil
}

// Cleanup deletes sent and failed rows created before cutoff and returns
// how many were removed. Pending and processing rows are never deleted.
func Cleanup(db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.Where("status IN ? AND created_at < ?", []string{models.QueueSent, models.QueueFailed}, cutoff.UTC()).
		Delete(&models.QueuedMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Stats counts rows per status. Statuses with no rows are reported as 0.
func Stats(db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := db.Model(&models.QueuedMessage{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("queue: stats: %w", err)
	}
	out := map[string]int64{
		models.QueuePending:    0,
		models.QueueProcessing: 0,
		models.QueueSent:       0,
		models.QueueFailed:     0,
	}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// Get loads one queued row.
func Get(db *gorm.DB, id uint) (*models.QueuedMessage, error) {
	var q models.QueuedMessage
	if err := db.Take(&q, id).Error; err != nil {
		return nil, fmt.Errorf("queue: get %d: %w", id, err)
	}
	return &q, nil
}
