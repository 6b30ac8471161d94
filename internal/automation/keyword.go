package automation

import (
	"strings"

	"github.com/zulandar/signalbox/internal/models"
)

// MatchKeyword reports whether content fires k. Matching folds case unless
// CaseSensitive is set; ExactMatch compares against the trimmed message,
// otherwise any keyword contained in the message matches.
func MatchKeyword(k *models.KeywordTrigger, content string) bool {
	if k == nil {
		return false
	}
	text := content
	if !k.CaseSensitive {
		text = strings.ToLower(text)
	}
	trimmed := strings.TrimSpace(text)

	for _, kw := range k.Keywords {
		if strings.TrimSpace(kw) == "" {
			continue
		}
		if !k.CaseSensitive {
			kw = strings.ToLower(kw)
		}
		if k.ExactMatch {
			if trimmed == kw {
				return true
			}
			continue
		}
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
