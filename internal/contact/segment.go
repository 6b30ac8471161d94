package contact

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// SegmentFilter narrows a user's contacts. Zero values do not filter.
type SegmentFilter struct {
	Tags                []string // contact must carry every tag
	LastInteractionDays int      // interacted within the last N days
	NameContains        string   // case-insensitive substring of name
}

// Segment returns the user's contacts matching every criterion in f.
func Segment(db *gorm.DB, userID uint, f SegmentFilter, now time.Time) ([]models.Contact, error) {
	q := db.Where("user_id = ?", userID)
	if f.LastInteractionDays > 0 {
		since := now.UTC().AddDate(0, 0, -f.LastInteractionDays)
		q = q.Where("last_interaction >= ?", since)
	}
	if name := strings.TrimSpace(f.NameContains); name != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(name)+"%")
	}

	var candidates []models.Contact
	if err := q.Order("id ASC").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("contact: segment user %d: %w", userID, err)
	}
	if len(f.Tags) == 0 {
		return candidates, nil
	}

	// Tag membership is checked here so the query stays portable across
	// the JSON dialects of mysql, postgres and sqlite.
	out := candidates[:0]
	for _, c := range candidates {
		if hasAll(&c, f.Tags) {
			out = append(out, c)
		}
	}
	return out, nil
}

func hasAll(c *models.Contact, tags []string) bool {
	for _, t := range tags {
		if !c.HasTag(t) {
			return false
		}
	}
	return true
}
