// Package messaging records the append-only log of inbound and outbound
// messages exchanged with contacts.
package messaging

import (
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// RecordOpts holds optional parameters for recording a message.
type RecordOpts struct {
	AutomationID *uint
	Platform     string    // defaults to whatsapp
	MessageType  string    // defaults to text
	Status       string    // defaults to sent
	Timestamp    time.Time // defaults to now (UTC)
}

// Record appends one message to the log.
func Record(db *gorm.DB, userID, contactID uint, direction, content string, opts RecordOpts) (*models.Message, error) {
	if userID == 0 {
		return nil, fmt.Errorf("messaging: userID is required")
	}
	if contactID == 0 {
		return nil, fmt.Errorf("messaging: contactID is required")
	}
	if direction != models.DirectionInbound && direction != models.DirectionOutbound {
		return nil, fmt.Errorf("messaging: invalid direction %q", direction)
	}

	msg := models.Message{
		UserID:       userID,
		ContactID:    contactID,
		AutomationID: opts.AutomationID,
		MessageType:  opts.MessageType,
		Content:      content,
		Direction:    direction,
		Platform:     opts.Platform,
		Status:       opts.Status,
		Timestamp:    opts.Timestamp.UTC(),
	}
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}
	if msg.Platform == "" {
		msg.Platform = models.DefaultPlatform
	}
	if msg.Status == "" {
		msg.Status = models.MessageSent
	}
	if opts.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if err := db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("messaging: record: %w", err)
	}
	return &msg, nil
}

// History returns a contact's messages, newest first. A limit <= 0 returns
// every message.
func History(db *gorm.DB, contactID uint, limit int) ([]models.Message, error) {
	if contactID == 0 {
		return nil, fmt.Errorf("messaging: contactID is required")
	}

	q := db.Where("contact_id = ?", contactID).Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []models.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: history %d: %w", contactID, err)
	}
	return msgs, nil
}
