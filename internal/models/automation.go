package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ErrInvalidAutomation wraps every automation validation failure.
var ErrInvalidAutomation = errors.New("invalid automation")

// TriggerType is the closed set of trigger kinds.
type TriggerType string

const (
	TriggerKeyword  TriggerType = "keyword"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
)

// Schedule kinds for ScheduleTrigger.
const (
	ScheduleDaily  = "daily"
	ScheduleWeekly = "weekly"
)

// DefaultPlatform is used when a trigger or message names none.
const DefaultPlatform = "whatsapp"

// KeywordTrigger fires when an inbound message contains (or equals) one
// of Keywords.
type KeywordTrigger struct {
	Keywords      []string `json:"keywords" yaml:"keywords" validate:"required,min=1"`
	CaseSensitive bool     `json:"case_sensitive" yaml:"case_sensitive"`
	ExactMatch    bool     `json:"exact_match" yaml:"exact_match"`
}

// ScheduleTrigger fires once per UTC day at Time, optionally restricted
// to weekdays (1=Monday .. 7=Sunday).
type ScheduleTrigger struct {
	ScheduleType  string     `json:"schedule_type" yaml:"schedule_type" validate:"required,oneof=daily weekly"`
	Time          string     `json:"time" yaml:"time" validate:"required"`
	Days          []int      `json:"days,omitempty" yaml:"days,omitempty" validate:"dive,min=1,max=7"`
	Platform      string     `json:"platform,omitempty" yaml:"platform,omitempty"`
	LastExecution *time.Time `json:"last_execution,omitempty" yaml:"last_execution,omitempty"`
}

// Clock parses Time as hour and minute.
func (s *ScheduleTrigger) Clock() (hour, minute int, err error) {
	h, m, ok := strings.Cut(s.Time, ":")
	if !ok {
		return 0, 0, fmt.Errorf("time %q: want HH:MM", s.Time)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q: bad hour", s.Time)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q: bad minute", s.Time)
	}
	return hour, minute, nil
}

// WebhookTrigger fires when an external system posts Event.
type WebhookTrigger struct {
	Event string `json:"event" yaml:"event" validate:"required"`
}

// TriggerConfig is a tagged union: exactly the variant named by the
// owning automation's TriggerType is set.
type TriggerConfig struct {
	Keyword  *KeywordTrigger  `json:"keyword,omitempty" yaml:"keyword,omitempty"`
	Schedule *ScheduleTrigger `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Webhook  *WebhookTrigger  `json:"webhook,omitempty" yaml:"webhook,omitempty"`
}

// DecodeTriggerConfig reads the flat per-kind JSON form
// (e.g. {"keywords": [...], "exact_match": true}) into a TriggerConfig.
func DecodeTriggerConfig(t TriggerType, raw []byte) (TriggerConfig, error) {
	var cfg TriggerConfig
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var target any
	switch t {
	case TriggerKeyword:
		cfg.Keyword = &KeywordTrigger{}
		target = cfg.Keyword
	case TriggerSchedule:
		cfg.Schedule = &ScheduleTrigger{}
		target = cfg.Schedule
	case TriggerWebhook:
		cfg.Webhook = &WebhookTrigger{}
		target = cfg.Webhook
	default:
		return cfg, fmt.Errorf("%w: unknown trigger_type %q", ErrInvalidAutomation, t)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return cfg, fmt.Errorf("%w: trigger_config: %v", ErrInvalidAutomation, err)
	}
	return cfg, nil
}

// Automation is a named trigger -> actions rule owned by a user.
type Automation struct {
	ID            uint                              `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        uint                              `gorm:"not null;index" json:"user_id"`
	Name          string                            `gorm:"size:200;not null" json:"name"`
	TriggerType   TriggerType                       `gorm:"size:20;not null;index" json:"trigger_type"`
	TriggerConfig datatypes.JSONType[TriggerConfig] `json:"trigger_config"`
	Actions       datatypes.JSONSlice[Action]       `json:"actions"`
	IsActive      bool                              `gorm:"default:true;index" json:"is_active"`
	CreatedAt     time.Time                         `json:"created_at"`
	UpdatedAt     time.Time                         `json:"updated_at"`
}

// Trigger returns the decoded trigger configuration.
func (a *Automation) Trigger() TriggerConfig {
	return a.TriggerConfig.Data()
}

// SetTrigger replaces the trigger configuration.
func (a *Automation) SetTrigger(cfg TriggerConfig) {
	a.TriggerConfig = datatypes.NewJSONType(cfg)
}

// Validate checks the automation as a whole. It is called on save so
// configuration errors never reach execution.
func (a *Automation) Validate() error {
	var errs []string
	if strings.TrimSpace(a.Name) == "" {
		errs = append(errs, "name is required")
	}
	if a.UserID == 0 {
		errs = append(errs, "user_id is required")
	}
	if err := a.validateTrigger(); err != nil {
		errs = append(errs, err.Error())
	}
	for i, act := range a.Actions {
		if err := act.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("actions[%d]: %v", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAutomation, strings.Join(errs, "; "))
	}
	return nil
}

func (a *Automation) validateTrigger() error {
	cfg := a.Trigger()
	set := 0
	for _, present := range []bool{cfg.Keyword != nil, cfg.Schedule != nil, cfg.Webhook != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("trigger_config must set exactly one variant, got %d", set)
	}

	switch a.TriggerType {
	case TriggerKeyword:
		if cfg.Keyword == nil {
			return fmt.Errorf("trigger_config does not match trigger_type keyword")
		}
		if err := validateStruct(cfg.Keyword); err != nil {
			return fmt.Errorf("keyword trigger: %w", err)
		}
		for _, kw := range cfg.Keyword.Keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("keyword trigger: empty keyword")
			}
		}
	case TriggerSchedule:
		if cfg.Schedule == nil {
			return fmt.Errorf("trigger_config does not match trigger_type schedule")
		}
		if err := validateStruct(cfg.Schedule); err != nil {
			return fmt.Errorf("schedule trigger: %w", err)
		}
		if _, _, err := cfg.Schedule.Clock(); err != nil {
			return fmt.Errorf("schedule trigger: %w", err)
		}
		if cfg.Schedule.ScheduleType == ScheduleWeekly && len(cfg.Schedule.Days) == 0 {
			return fmt.Errorf("schedule trigger: weekly requires days")
		}
	case TriggerWebhook:
		if cfg.Webhook == nil {
			return fmt.Errorf("trigger_config does not match trigger_type webhook")
		}
		if err := validateStruct(cfg.Webhook); err != nil {
			return fmt.Errorf("webhook trigger: %w", err)
		}
	default:
		return fmt.Errorf("unknown trigger_type %q", a.TriggerType)
	}
	return nil
}
