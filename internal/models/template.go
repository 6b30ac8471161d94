package models

import (
	"time"

	"gorm.io/datatypes"
)

// MessageTemplate is a named reusable message body with placeholders.
type MessageTemplate struct {
	ID        uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint                        `gorm:"not null;index" json:"user_id"`
	Name      string                      `gorm:"size:200;not null" json:"name"`
	Content   string                      `gorm:"type:text;not null" json:"content"`
	Variables datatypes.JSONSlice[string] `json:"variables"`
	Category  string                      `gorm:"size:100" json:"category"`
	CreatedAt time.Time                   `json:"created_at"`
}
