package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// Contact is a conversational counterpart owned by a user. It is created
// lazily the first time an unseen phone number writes in.
type Contact struct {
	ID              uint                                  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          uint                                  `gorm:"not null;uniqueIndex:idx_contact_user_phone" json:"user_id"`
	Phone           string                                `gorm:"size:32;not null;uniqueIndex:idx_contact_user_phone" json:"phone"`
	Name            string                                `gorm:"size:200" json:"name"`
	Email           string                                `gorm:"size:200" json:"email"`
	Tags            datatypes.JSONSlice[string]           `json:"tags"`
	CustomFields    datatypes.JSONType[map[string]string] `json:"custom_fields"`
	LastInteraction *time.Time                            `gorm:"index" json:"last_interaction,omitempty"`
	CreatedAt       time.Time                             `json:"created_at"`
}

// HasTag reports whether the contact carries tag.
func (c *Contact) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// AddTag appends tag unless it is empty or already present.
func (c *Contact) AddTag(tag string) bool {
	if tag == "" || c.HasTag(tag) {
		return false
	}
	c.Tags = append(c.Tags, tag)
	return true
}

// RemoveTag drops every occurrence of tag.
func (c *Contact) RemoveTag(tag string) bool {
	if tag == "" || !c.HasTag(tag) {
		return false
	}
	c.Tags = slices.DeleteFunc(c.Tags, func(t string) bool { return t == tag })
	return true
}

// Fields returns a copy of the custom-field map, never nil.
func (c *Contact) Fields() map[string]string {
	src := c.CustomFields.Data()
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// SetField writes a custom field. Empty field names are ignored.
func (c *Contact) SetField(field, value string) bool {
	if field == "" {
		return false
	}
	fields := c.Fields()
	fields[field] = value
	c.CustomFields = datatypes.NewJSONType(fields)
	return true
}
