package processor

import (
	"slices"
	"time"

	"github.com/zulandar/signalbox/internal/models"
)

// ShouldFire reports whether a schedule trigger is due at now. Each UTC day
// has one slot at the trigger's HH:MM; the trigger fires once now is inside
// [slot, slot+window), and a zero window demands the exact minute. The
// previous day's slot is checked too, so a window that crosses midnight is
// still honoured. Weekly triggers also require the slot's ISO weekday
// (1=Monday .. 7=Sunday) in Days. A slot fires at most once: a
// LastExecution at or after the slot blocks it.
func ShouldFire(s *models.ScheduleTrigger, now time.Time, window time.Duration) bool {
	if s == nil {
		return false
	}
	switch s.ScheduleType {
	case models.ScheduleDaily, models.ScheduleWeekly:
	default:
		return false
	}
	hour, minute, err := s.Clock()
	if err != nil {
		return false
	}

	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if window <= 0 {
		return now.Hour() == hour && now.Minute() == minute && slotOpen(s, today)
	}
	for _, slot := range []time.Time{today, today.AddDate(0, 0, -1)} {
		if !now.Before(slot) && now.Before(slot.Add(window)) && slotOpen(s, slot) {
			return true
		}
	}
	return false
}

// slotOpen reports whether slot is a scheduled day that has not run yet.
func slotOpen(s *models.ScheduleTrigger, slot time.Time) bool {
	if s.ScheduleType == models.ScheduleWeekly && !slices.Contains(s.Days, isoWeekday(slot)) {
		return false
	}
	return s.LastExecution == nil || s.LastExecution.UTC().Before(slot)
}

func isoWeekday(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}
