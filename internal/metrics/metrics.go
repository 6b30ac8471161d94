// Package metrics keeps per-automation daily counters and exposes
// process-level Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrBadDate is returned when a date bound is not YYYY-MM-DD.
var ErrBadDate = errors.New("bad date")

// IncrementTriggers counts one trigger match for automationID on now's UTC day.
func IncrementTriggers(db *gorm.DB, automationID uint, now time.Time) error {
	return bump(db, automationID, now, "triggers_count")
}

// IncrementMessagesSent counts one delivered message for automationID on
// now's UTC day.
func IncrementMessagesSent(db *gorm.DB, automationID uint, now time.Time) error {
	return bump(db, automationID, now, "messages_sent")
}

// bump fetches or creates the day row, then increments column in place so
// concurrent writers never lose updates.
func bump(db *gorm.DB, automationID uint, now time.Time, column string) error {
	if automationID == 0 {
		return fmt.Errorf("metrics: automationID is required")
	}
	day := models.Day(now)
	if err := ensureRow(db, automationID, day); err != nil {
		return err
	}
	err := db.Model(&models.AutomationMetrics{}).
		Where("automation_id = ? AND date = ?", automationID, day).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("metrics: increment %s for %d: %w", column, automationID, err)
	}
	return nil
}

func ensureRow(db *gorm.DB, automationID uint, day string) error {
	row := models.AutomationMetrics{AutomationID: automationID, Date: day}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("metrics: create row %d/%s: %w", automationID, day, err)
	}
	return nil
}

// Get returns the metrics row for one automation and day, or nil if none.
func Get(db *gorm.DB, automationID uint, day string) (*models.AutomationMetrics, error) {
	var rows []models.AutomationMetrics
	if err := db.Where("automation_id = ? AND date = ?", automationID, day).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("metrics: get %d/%s: %w", automationID, day, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Report summarizes an automation over a date range.
type Report struct {
	AutomationID      uint                       `json:"automation_id"`
	TotalTriggers     int                        `json:"total_triggers"`
	TotalMessages     int                        `json:"total_messages"`
	AvgConversionRate float64                    `json:"avg_conversion_rate"`
	Daily             []models.AutomationMetrics `json:"daily_metrics"`
}

// Analytics sums an automation's daily rows between from and to
// (inclusive, YYYY-MM-DD). Empty bounds are open.
func Analytics(db *gorm.DB, automationID uint, from, to string) (*Report, error) {
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, d); err != nil {
			return nil, fmt.Errorf("metrics: analytics: %w %q", ErrBadDate, d)
		}
	}

	q := db.Where("automation_id = ?", automationID)
	if from != "" {
		q = q.Where("date >= ?", from)
	}
	if to != "" {
		q = q.Where("date <= ?", to)
	}
	var rows []models.AutomationMetrics
	if err := q.Order("date ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("metrics: analytics %d: %w", automationID, err)
	}

	r := &Report{AutomationID: automationID, Daily: rows}
	var rateSum float64
	for _, m := range rows {
		r.TotalTriggers += m.TriggersCount
		r.TotalMessages += m.MessagesSent
		rateSum += m.ConversionRate
	}
	if len(rows) > 0 {
		r.AvgConversionRate = rateSum / float64(len(rows))
	}
	if r.Daily == nil {
		r.Daily = []models.AutomationMetrics{}
	}
	return r, nil
}
