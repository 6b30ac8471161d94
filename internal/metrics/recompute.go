package metrics

import (
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// Recompute derives unique_contacts and conversion_rate for every
// automation that sent messages on day's UTC date. A contact converts when
// it writes in after the automation's first message to it that day.
// conversion_rate is the converted share in [0, 1]. Days without outbound
// automation traffic are left untouched; it returns the number of
// automations updated.
func Recompute(db *gorm.DB, day time.Time) (int, error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var outbound []models.Message
	err := db.Select("automation_id", "contact_id", "timestamp").
		Where("direction = ? AND status = ? AND automation_id IS NOT NULL AND timestamp >= ? AND timestamp < ?",
			models.DirectionOutbound, models.MessageSent, start, end).
		Find(&outbound).Error
	if err != nil {
		return 0, fmt.Errorf("metrics: recompute: load outbound: %w", err)
	}
	if len(outbound) == 0 {
		return 0, nil
	}

	// automation -> contact -> first outbound time
	first := make(map[uint]map[uint]time.Time)
	contactSet := make(map[uint]struct{})
	for _, m := range outbound {
		byContact, ok := first[*m.AutomationID]
		if !ok {
			byContact = make(map[uint]time.Time)
			first[*m.AutomationID] = byContact
		}
		if ts, seen := byContact[m.ContactID]; !seen || m.Timestamp.Before(ts) {
			byContact[m.ContactID] = m.Timestamp
		}
		contactSet[m.ContactID] = struct{}{}
	}

	contactIDs := make([]uint, 0, len(contactSet))
	for id := range contactSet {
		contactIDs = append(contactIDs, id)
	}
	var inbound []models.Message
	err = db.Select("contact_id", "timestamp").
		Where("direction = ? AND contact_id IN ? AND timestamp >= ?", models.DirectionInbound, contactIDs, start).
		Find(&inbound).Error
	if err != nil {
		return 0, fmt.Errorf("metrics: recompute: load inbound: %w", err)
	}
	lastReply := make(map[uint]time.Time)
	for _, m := range inbound {
		if m.Timestamp.After(lastReply[m.ContactID]) {
			lastReply[m.ContactID] = m.Timestamp
		}
	}

	date := models.Day(start)
	for automationID, byContact := range first {
		converted := 0
		for contactID, sentAt := range byContact {
			if reply, ok := lastReply[contactID]; ok && reply.After(sentAt) {
				converted++
			}
		}
		rate := float64(converted) / float64(len(byContact))

		if err := ensureRow(db, automationID, date); err != nil {
			return 0, err
		}
		err := db.Model(&models.AutomationMetrics{}).
			Where("automation_id = ? AND date = ?", automationID, date).
			Updates(map[string]interface{}{
				"unique_contacts": len(byContact),
				"conversion_rate": rate,
			}).Error
		if err != nil {
			return 0, fmt.Errorf("metrics: recompute %d/%s: %w", automationID, date, err)
		}
	}
	return len(first), nil
}
