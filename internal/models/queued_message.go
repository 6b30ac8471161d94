package models

import (
	"time"

	"gorm.io/datatypes"
)

// Queue statuses. Transitions only move forward:
// pending -> processing -> sent | failed.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueSent       = "sent"
	QueueFailed     = "failed"
)

// QueuedMessage is a deferred send request. A row carries either a
// rendered MessageContent or, when produced by a delay action, the
// remaining Actions of an automation to continue at ScheduledTime.
type QueuedMessage struct {
	ID             uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         uint                        `gorm:"not null;index" json:"user_id"`
	ContactID      uint                        `gorm:"not null;index" json:"contact_id"`
	AutomationID   *uint                       `gorm:"index" json:"automation_id,omitempty"`
	MessageContent string                      `gorm:"type:text" json:"message_content"`
	MessageType    string                      `gorm:"size:20;default:text" json:"message_type"`
	Platform       string                      `gorm:"size:20;default:whatsapp" json:"platform"`
	Actions        datatypes.JSONSlice[Action] `json:"actions,omitempty"`
	ScheduledTime  time.Time                   `gorm:"not null;index:idx_queue_due,priority:2" json:"scheduled_time"`
	Status         string                      `gorm:"size:20;default:pending;index:idx_queue_due,priority:1" json:"status"`
	LastError      string                      `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// IsContinuation reports whether the row resumes an action list rather
// than delivering a single message.
func (q *QueuedMessage) IsContinuation() bool {
	return len(q.Actions) > 0
}

// Terminal reports whether the row reached sent or failed.
func (q *QueuedMessage) Terminal() bool {
	return q.Status == QueueSent || q.Status == QueueFailed
}
