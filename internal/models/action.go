package models

import (
	"fmt"
	"strings"
)

// ActionType names one step kind of an automation's action list.
type ActionType string

const (
	ActionSendMessage ActionType = "send_message"
	ActionAddTag      ActionType = "add_tag"
	ActionRemoveTag   ActionType = "remove_tag"
	ActionUpdateField ActionType = "update_field"
	ActionDelay       ActionType = "delay"
)

// Action is one step of an automation. Type selects which of the other
// fields are meaningful:
//
//	send_message  Message or TemplateID, Delay (seconds, 0 = inline)
//	add_tag       Tag
//	remove_tag    Tag
//	update_field  Field, Value
//	delay         Seconds
type Action struct {
	Type       ActionType `json:"type" yaml:"type" validate:"required,oneof=send_message add_tag remove_tag update_field delay"`
	Message    string     `json:"message,omitempty" yaml:"message,omitempty"`
	TemplateID *uint      `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	Delay      int        `json:"delay,omitempty" yaml:"delay,omitempty" validate:"gte=0"`
	Tag        string     `json:"tag,omitempty" yaml:"tag,omitempty"`
	Field      string     `json:"field,omitempty" yaml:"field,omitempty"`
	Value      string     `json:"value,omitempty" yaml:"value,omitempty"`
	Seconds    int        `json:"seconds,omitempty" yaml:"seconds,omitempty" validate:"gte=0"`
}

// Validate checks the fields required by the action's kind.
func (a Action) Validate() error {
	if err := validateStruct(a); err != nil {
		return err
	}
	switch a.Type {
	case ActionSendMessage:
		if strings.TrimSpace(a.Message) == "" && a.TemplateID == nil {
			return fmt.Errorf("send_message requires message or template_id")
		}
	case ActionAddTag, ActionRemoveTag:
		if strings.TrimSpace(a.Tag) == "" {
			return fmt.Errorf("%s requires tag", a.Type)
		}
	case ActionUpdateField:
		if strings.TrimSpace(a.Field) == "" {
			return fmt.Errorf("update_field requires field")
		}
	case ActionDelay:
		if a.Seconds <= 0 {
			return fmt.Errorf("delay requires seconds > 0")
		}
	}
	return nil
}
