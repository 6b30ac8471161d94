package models

import "time"

// DateLayout is the format of AutomationMetrics.Date (UTC calendar day).
const DateLayout = "2006-01-02"

// AutomationMetrics aggregates one automation's activity for one UTC day.
type AutomationMetrics struct {
	ID             uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	AutomationID   uint    `gorm:"not null;uniqueIndex:idx_metrics_automation_date" json:"automation_id"`
	Date           string  `gorm:"size:10;not null;uniqueIndex:idx_metrics_automation_date" json:"date"`
	TriggersCount  int     `gorm:"default:0" json:"triggers_count"`
	MessagesSent   int     `gorm:"default:0" json:"messages_sent"`
	UniqueContacts int     `gorm:"default:0" json:"unique_contacts"`
	ConversionRate float64 `gorm:"default:0" json:"conversion_rate"`
}

// Day formats t as a metrics date key in UTC.
func Day(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
