package models

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestContact_Fields(t *testing.T) {
	typ := reflect.TypeOf(Contact{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "UserID", "uniqueIndex:idx_contact_user_phone")
	assertGormTag(t, typ, "Phone", "uniqueIndex:idx_contact_user_phone")
	assertGormTag(t, typ, "Phone", "not null")

	assertFieldType(t, typ, "LastInteraction", "*time.Time")
	assertFieldType(t, typ, "Tags", "datatypes.JSONSlice[string]")
}

func TestQueuedMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(QueuedMessage{})

	assertGormTag(t, typ, "Status", "default:pending")
	assertGormTag(t, typ, "Status", "idx_queue_due")
	assertGormTag(t, typ, "ScheduledTime", "not null")
	assertGormTag(t, typ, "ScheduledTime", "idx_queue_due")
	assertGormTag(t, typ, "CreatedAt", "index")

	assertFieldType(t, typ, "AutomationID", "*uint")
	assertFieldType(t, typ, "ScheduledTime", "time.Time")
}

func TestAutomationMetrics_Fields(t *testing.T) {
	typ := reflect.TypeOf(AutomationMetrics{})

	assertGormTag(t, typ, "AutomationID", "idx_metrics_automation_date")
	assertGormTag(t, typ, "Date", "idx_metrics_automation_date")
	assertGormTag(t, typ, "Date", "size:10")

	assertFieldType(t, typ, "ConversionRate", "float64")
}

func TestMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(Message{})

	assertGormTag(t, typ, "Content", "type:text")
	assertGormTag(t, typ, "Direction", "not null")
	assertGormTag(t, typ, "Platform", "default:whatsapp")

	assertFieldType(t, typ, "AutomationID", "*uint")
	assertFieldType(t, typ, "Timestamp", "time.Time")
}

func TestContact_Tags(t *testing.T) {
	var c Contact

	assert.True(t, c.AddTag("lead"))
	assert.False(t, c.AddTag("lead"), "duplicate tag")
	assert.False(t, c.AddTag(""), "empty tag")
	assert.True(t, c.AddTag("vip"))
	assert.Equal(t, []string{"lead", "vip"}, []string(c.Tags))

	assert.True(t, c.RemoveTag("lead"))
	assert.False(t, c.RemoveTag("lead"))
	assert.Equal(t, []string{"vip"}, []string(c.Tags))
}

func TestContact_SetField(t *testing.T) {
	var c Contact
	assert.Empty(t, c.Fields())

	assert.True(t, c.SetField("city", "Recife"))
	assert.False(t, c.SetField("", "x"))
	assert.Equal(t, map[string]string{"city": "Recife"}, c.Fields())

	// Fields returns a copy.
	c.Fields()["city"] = "Olinda"
	assert.Equal(t, "Recife", c.Fields()["city"])
}

func TestScheduleTrigger_Clock(t *testing.T) {
	s := ScheduleTrigger{Time: "14:30"}
	h, m, err := s.Clock()
	require.NoError(t, err)
	assert.Equal(t, 14, h)
	assert.Equal(t, 30, m)

	for _, bad := range []string{"", "1430", "24:00", "12:60", "aa:10"} {
		s := ScheduleTrigger{Time: bad}
		_, _, err := s.Clock()
		assert.Error(t, err, "time %q", bad)
	}
}

func keywordAutomation(cfg KeywordTrigger, actions ...Action) Automation {
	a := Automation{UserID: 1, Name: "kw", TriggerType: TriggerKeyword, Actions: actions}
	a.SetTrigger(TriggerConfig{Keyword: &cfg})
	return a
}

func TestAutomation_Validate_Keyword(t *testing.T) {
	a := keywordAutomation(KeywordTrigger{Keywords: []string{"preço"}},
		Action{Type: ActionSendMessage, Message: "Olá"})
	require.NoError(t, a.Validate())

	empty := keywordAutomation(KeywordTrigger{})
	err := empty.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAutomation))
	assert.Contains(t, err.Error(), "keywords is required")

	blank := keywordAutomation(KeywordTrigger{Keywords: []string{" "}})
	assert.ErrorContains(t, blank.Validate(), "empty keyword")
}

func TestAutomation_Validate_MismatchedVariant(t *testing.T) {
	a := Automation{UserID: 1, Name: "x", TriggerType: TriggerSchedule}
	a.SetTrigger(TriggerConfig{Keyword: &KeywordTrigger{Keywords: []string{"a"}}})
	assert.ErrorContains(t, a.Validate(), "does not match trigger_type schedule")

	none := Automation{UserID: 1, Name: "x", TriggerType: TriggerWebhook}
	assert.ErrorContains(t, none.Validate(), "exactly one variant")
}

func TestAutomation_Validate_Schedule(t *testing.T) {
	a := Automation{UserID: 1, Name: "weekly", TriggerType: TriggerSchedule}
	a.SetTrigger(TriggerConfig{Schedule: &ScheduleTrigger{ScheduleType: ScheduleWeekly, Time: "09:00"}})
	assert.ErrorContains(t, a.Validate(), "weekly requires days")

	a.SetTrigger(TriggerConfig{Schedule: &ScheduleTrigger{ScheduleType: ScheduleWeekly, Time: "09:00", Days: []int{1, 8}}})
	assert.ErrorContains(t, a.Validate(), "at most 7")

	a.SetTrigger(TriggerConfig{Schedule: &ScheduleTrigger{ScheduleType: "monthly", Time: "09:00"}})
	assert.ErrorContains(t, a.Validate(), "schedule_type must be one of")

	a.SetTrigger(TriggerConfig{Schedule: &ScheduleTrigger{ScheduleType: ScheduleDaily, Time: "9h"}})
	assert.ErrorContains(t, a.Validate(), "want HH:MM")

	a.SetTrigger(TriggerConfig{Schedule: &ScheduleTrigger{ScheduleType: ScheduleWeekly, Time: "09:00", Days: []int{1, 5}}})
	assert.NoError(t, a.Validate())
}

func TestAutomation_Validate_Actions(t *testing.T) {
	tmpl := uint(3)
	cases := []struct {
		name   string
		action Action
		errMsg string
	}{
		{"send without body", Action{Type: ActionSendMessage}, "message or template_id"},
		{"send with template", Action{Type: ActionSendMessage, TemplateID: &tmpl}, ""},
		{"negative delay", Action{Type: ActionSendMessage, Message: "x", Delay: -1}, "delay must be at least 0"},
		{"add tag", Action{Type: ActionAddTag}, "add_tag requires tag"},
		{"remove tag", Action{Type: ActionRemoveTag, Tag: "a"}, ""},
		{"update field", Action{Type: ActionUpdateField, Value: "x"}, "requires field"},
		{"zero delay", Action{Type: ActionDelay}, "seconds > 0"},
		{"unknown", Action{Type: "call_webhook"}, "type must be one of"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := keywordAutomation(KeywordTrigger{Keywords: []string{"a"}}, tc.action)
			err := a.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, "actions[0]")
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestDecodeTriggerConfig(t *testing.T) {
	cfg, err := DecodeTriggerConfig(TriggerKeyword, []byte(`{"keywords":["sim"],"exact_match":true}`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Keyword)
	assert.Equal(t, []string{"sim"}, cfg.Keyword.Keywords)
	assert.True(t, cfg.Keyword.ExactMatch)
	assert.Nil(t, cfg.Schedule)

	cfg, err = DecodeTriggerConfig(TriggerSchedule, []byte(`{"schedule_type":"weekly","time":"08:15","days":[1,3]}`))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, cfg.Schedule.Days)

	_, err = DecodeTriggerConfig("sms", nil)
	assert.True(t, errors.Is(err, ErrInvalidAutomation))

	_, err = DecodeTriggerConfig(TriggerWebhook, []byte(`{"event":`))
	assert.Error(t, err)
}

func TestQueuedMessage_State(t *testing.T) {
	q := QueuedMessage{Status: QueuePending}
	assert.False(t, q.IsContinuation())
	assert.False(t, q.Terminal())

	q.Actions = []Action{{Type: ActionSendMessage, Message: "B"}}
	assert.True(t, q.IsContinuation())

	q.Status = QueueFailed
	assert.True(t, q.Terminal())
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	ts := time.Date(2026, 3, 1, 22, 0, 0, 0, loc)
	assert.Equal(t, "2026-03-02", Day(ts))
}
