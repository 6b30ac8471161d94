// Package render resolves message bodies and fills contact placeholders.
package render

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// DefaultName replaces {{name}} when a contact has no name.
const DefaultName = "Cliente"

// ErrTemplateNotFound is returned when a template ID does not resolve for
// the requesting user.
var ErrTemplateNotFound = errors.New("render: template not found")

// Personalize substitutes {{name}}, {{phone}}, {{email}} and every custom
// field key of c into body. Known placeholders with an empty value render
// as "" (except {{name}}, which falls back to DefaultName); unknown
// placeholders are left verbatim.
func Personalize(body string, c *models.Contact) string {
	if c == nil || !strings.Contains(body, "{{") {
		return body
	}
	name := c.Name
	if name == "" {
		name = DefaultName
	}

	fields := c.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := []string{"{{name}}", name, "{{phone}}", c.Phone, "{{email}}", c.Email}
	for _, k := range keys {
		switch k {
		case "name", "phone", "email":
			continue
		}
		pairs = append(pairs, "{{"+k+"}}", fields[k])
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

// ResolveTemplate returns the content of the user's template id.
func ResolveTemplate(db *gorm.DB, userID, id uint) (string, error) {
	var tmpl models.MessageTemplate
	err := db.Where("id = ? AND user_id = ?", id, userID).Take(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %d", ErrTemplateNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("render: template %d: %w", id, err)
	}
	return tmpl.Content, nil
}

// Body resolves a send_message action to its final text for c. A template
// reference wins over the inline message; a missing template falls back to
// the inline message.
func Body(db *gorm.DB, a models.Action, c *models.Contact) (string, error) {
	text := a.Message
	if a.TemplateID != nil {
		content, err := ResolveTemplate(db, c.UserID, *a.TemplateID)
		switch {
		case err == nil:
			text = content
		case errors.Is(err, ErrTemplateNotFound):
		default:
			return "", err
		}
	}
	return Personalize(text, c), nil
}
