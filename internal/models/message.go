package models

import "time"

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery statuses as recorded in the log.
const (
	MessageSent   = "sent"
	MessageFailed = "failed"
)

// Message is an immutable log record of one inbound or outbound message.
type Message struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	ContactID    uint      `gorm:"not null;index" json:"contact_id"`
	AutomationID *uint     `gorm:"index" json:"automation_id,omitempty"`
	MessageType  string    `gorm:"size:20;default:text" json:"message_type"`
	Content      string    `gorm:"type:text" json:"content"`
	Direction    string    `gorm:"size:10;not null" json:"direction"`
	Platform     string    `gorm:"size:20;default:whatsapp" json:"platform"`
	Status       string    `gorm:"size:20;default:sent" json:"status"`
	Timestamp    time.Time `gorm:"index" json:"timestamp"`
}
