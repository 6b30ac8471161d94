// Package automation evaluates inbound messages against user automations
// and executes their action lists.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/signalbox/internal/contact"
	"github.com/zulandar/signalbox/internal/events"
	"github.com/zulandar/signalbox/internal/gateway"
	"github.com/zulandar/signalbox/internal/messaging"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/queue"
	"github.com/zulandar/signalbox/internal/render"
	"gorm.io/gorm"
)

// ErrAutomationInactive is returned when a deferred continuation belongs to
// an automation that has since been disabled.
var ErrAutomationInactive = errors.New("automation: inactive")

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	DB      *gorm.DB
	Gateway gateway.Gateway
	Events  events.Publisher   // optional
	Clock   func() time.Time   // optional, defaults to time.Now
	Logger  logrus.FieldLogger // optional
}

// Engine runs automations. It is safe for concurrent use.
type Engine struct {
	db     *gorm.DB
	gw     gateway.Gateway
	events events.Publisher
	clock  func() time.Time
	log    logrus.FieldLogger
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("automation: db is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("automation: gateway is required")
	}
	e := &Engine{
		db:     opts.DB,
		gw:     opts.Gateway,
		events: opts.Events,
		clock:  opts.Clock,
		log:    opts.Logger,
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// ProcessIncomingMessage records an inbound message and runs every active
// keyword automation of userID it matches. The whole unit is one
// transaction: any database error rolls it back and is returned.
// Automations with a malformed trigger are logged and skipped.
func (e *Engine) ProcessIncomingMessage(ctx context.Context, userID uint, phone, content, platform string) error {
	if platform == "" {
		platform = models.DefaultPlatform
	}
	log := e.log.WithFields(logrus.Fields{"user_id": userID, "platform": platform})

	var out []Delivery
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		out = nil
		now := e.now()
		c, created, err := contact.Upsert(tx, userID, phone, now)
		if err != nil {
			return err
		}
		if created {
			log.WithField("contact_id", c.ID).Debug("automation: new contact")
		}
		if _, err := messaging.Record(tx, userID, c.ID, models.DirectionInbound, content, messaging.RecordOpts{
			Platform:  platform,
			Timestamp: now,
		}); err != nil {
			return err
		}

		autos, err := ListActive(tx, userID, models.TriggerKeyword)
		if err != nil {
			return err
		}
		for i := range autos {
			a := &autos[i]
			cfg := a.Trigger()
			if cfg.Keyword == nil {
				log.WithField("automation_id", a.ID).Warn("automation: keyword automation without keyword config, skipping")
				continue
			}
			if !MatchKeyword(cfg.Keyword, content) {
				continue
			}
			log.WithFields(logrus.Fields{"automation_id": a.ID, "contact_id": c.ID}).Info("automation: keyword matched")
			ds, err := e.fire(ctx, tx, a, c, platform)
			if err != nil {
				return err
			}
			out = append(out, ds...)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("automation: process incoming message failed")
		return fmt.Errorf("automation: process message: %w", err)
	}
	e.Deliver(ctx, out)
	return nil
}

// FireWebhook runs every active webhook automation of userID listening for
// event against the contact with phone. It returns how many fired.
func (e *Engine) FireWebhook(ctx context.Context, userID uint, event, phone, platform string) (int, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return 0, fmt.Errorf("automation: event is required")
	}
	if platform == "" {
		platform = models.DefaultPlatform
	}

	fired := 0
	var out []Delivery
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fired, out = 0, nil
		c, _, err := contact.Upsert(tx, userID, phone, e.now())
		if err != nil {
			return err
		}
		autos, err := ListActive(tx, userID, models.TriggerWebhook)
		if err != nil {
			return err
		}
		for i := range autos {
			a := &autos[i]
			cfg := a.Trigger()
			if cfg.Webhook == nil || !strings.EqualFold(cfg.Webhook.Event, event) {
				continue
			}
			ds, err := e.fire(ctx, tx, a, c, platform)
			if err != nil {
				return err
			}
			out = append(out, ds...)
			fired++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("automation: fire webhook %q: %w", event, err)
	}
	e.Deliver(ctx, out)
	return fired, nil
}

// RunScheduled fans a schedule automation out to every contact of its
// user: one due-now continuation row per contact carrying the full action
// list, which the queue drain then delivers. LastExecution, the trigger
// count and the rows commit together, so a run is never half-recorded. It
// returns the number of contacts queued.
func (e *Engine) RunScheduled(ctx context.Context, a *models.Automation, now time.Time) (int, error) {
	cfg := a.Trigger()
	if cfg.Schedule == nil {
		return 0, fmt.Errorf("automation: run scheduled %d: not a schedule automation", a.ID)
	}
	now = now.UTC()
	cfg.Schedule.LastExecution = &now
	a.SetTrigger(cfg)

	platform := cfg.Schedule.Platform
	if platform == "" {
		platform = models.DefaultPlatform
	}
	id := a.ID

	queued := 0
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		queued = 0
		if err := tx.Model(a).Update("trigger_config", a.TriggerConfig).Error; err != nil {
			return fmt.Errorf("save last execution: %w", err)
		}
		if err := metrics.IncrementTriggers(tx, a.ID, now); err != nil {
			return err
		}
		if len(a.Actions) == 0 {
			return nil
		}
		contacts, err := contact.ListByUser(tx, a.UserID)
		if err != nil {
			return err
		}
		for i := range contacts {
			if _, err := queue.Enqueue(tx, queue.EnqueueOpts{
				UserID:       a.UserID,
				ContactID:    contacts[i].ID,
				AutomationID: &id,
				Platform:     platform,
				Actions:      a.Actions,
				At:           now,
			}); err != nil {
				return err
			}
			queued++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("automation: run scheduled %d: %w", a.ID, err)
	}

	metrics.ObserveTrigger(string(models.TriggerSchedule))
	e.publish(ctx, e.event(events.TypeAutomationTriggered, a.UserID, 0, &id, platform))
	e.log.WithFields(logrus.Fields{"automation_id": a.ID, "contacts": queued}).Info("automation: scheduled run queued")
	return queued, nil
}

// ContinueDeferred resumes the action list stored on a queued continuation.
func (e *Engine) ContinueDeferred(ctx context.Context, q *models.QueuedMessage) error {
	if !q.IsContinuation() {
		return fmt.Errorf("automation: queued %d is not a continuation", q.ID)
	}
	var out []Delivery
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := contact.Get(tx, q.ContactID)
		if err != nil {
			return err
		}
		a := &models.Automation{UserID: q.UserID}
		if q.AutomationID != nil {
			stored, err := Get(tx, *q.AutomationID)
			switch {
			case err == nil:
				if !stored.IsActive {
					return fmt.Errorf("%w: %d", ErrAutomationInactive, stored.ID)
				}
				a = stored
			case errors.Is(err, ErrNotFound):
				a.ID = *q.AutomationID
			default:
				return err
			}
		}
		out, err = e.ExecuteActions(tx, a, c, q.Platform, q.Actions)
		return err
	})
	if err != nil {
		return err
	}
	e.Deliver(ctx, out)
	return nil
}

// fire counts a trigger match and runs the automation's actions.
func (e *Engine) fire(ctx context.Context, tx *gorm.DB, a *models.Automation, c *models.Contact, platform string) ([]Delivery, error) {
	if err := metrics.IncrementTriggers(tx, a.ID, e.now()); err != nil {
		return nil, err
	}
	metrics.ObserveTrigger(string(a.TriggerType))
	e.publish(ctx, e.event(events.TypeAutomationTriggered, c.UserID, c.ID, &a.ID, platform))
	return e.ExecuteActions(tx, a, c, platform, a.Actions)
}

// Delivery is an immediate send produced by ExecuteActions. It is held
// back until the surrounding transaction commits.
type Delivery struct {
	UserID       uint
	ContactID    uint
	AutomationID *uint
	Phone        string
	Platform     string
	Body         string
}

// ExecuteActions runs actions in order against c within tx. Immediate
// sends are returned as deliveries for the caller to pass to Deliver once
// tx commits; a send_message with a delay is queued, and a delay action
// queues the rest of the list as one continuation and stops. Contact
// changes are saved before returning.
func (e *Engine) ExecuteActions(tx *gorm.DB, a *models.Automation, c *models.Contact, platform string, actions []models.Action) ([]Delivery, error) {
	if platform == "" {
		platform = models.DefaultPlatform
	}
	log := e.log.WithFields(logrus.Fields{"automation_id": a.ID, "contact_id": c.ID})
	var autoID *uint
	if a.ID != 0 {
		id := a.ID
		autoID = &id
	}

	var out []Delivery
	dirty := false
	for i, act := range actions {
		switch act.Type {
		case models.ActionSendMessage:
			body, err := render.Body(tx, act, c)
			if err != nil {
				return nil, err
			}
			if act.Delay > 0 {
				if _, err := queue.Enqueue(tx, queue.EnqueueOpts{
					UserID:       c.UserID,
					ContactID:    c.ID,
					AutomationID: autoID,
					Content:      body,
					Platform:     platform,
					At:           e.now().Add(time.Duration(act.Delay) * time.Second),
				}); err != nil {
					return nil, err
				}
				continue
			}
			out = append(out, Delivery{
				UserID:       c.UserID,
				ContactID:    c.ID,
				AutomationID: autoID,
				Phone:        c.Phone,
				Platform:     platform,
				Body:         body,
			})

		case models.ActionAddTag:
			dirty = c.AddTag(act.Tag) || dirty
		case models.ActionRemoveTag:
			dirty = c.RemoveTag(act.Tag) || dirty
		case models.ActionUpdateField:
			dirty = c.SetField(act.Field, act.Value) || dirty

		case models.ActionDelay:
			rest := actions[i+1:]
			if len(rest) > 0 {
				if _, err := queue.Enqueue(tx, queue.EnqueueOpts{
					UserID:       c.UserID,
					ContactID:    c.ID,
					AutomationID: autoID,
					Platform:     platform,
					Actions:      rest,
					At:           e.now().Add(time.Duration(act.Seconds) * time.Second),
				}); err != nil {
					return nil, err
				}
				log.WithFields(logrus.Fields{"seconds": act.Seconds, "remaining": len(rest)}).Debug("automation: deferred remaining actions")
			}
			return out, e.saveContact(tx, c, dirty)

		default:
			log.WithField("type", act.Type).Warn("automation: unknown action type, skipping")
		}
	}
	return out, e.saveContact(tx, c, dirty)
}

func (e *Engine) saveContact(tx *gorm.DB, c *models.Contact, dirty bool) error {
	if !dirty {
		return nil
	}
	return contact.Save(tx, c)
}

// Deliver sends each delivery in order outside any transaction and records
// the outbound message as sent or failed. Gateway and bookkeeping failures
// are logged, never returned.
func (e *Engine) Deliver(ctx context.Context, ds []Delivery) {
	for _, d := range ds {
		log := e.log.WithFields(logrus.Fields{"contact_id": d.ContactID, "platform": d.Platform})
		status := models.MessageSent
		sendErr := e.gw.Send(ctx, d.Platform, d.Phone, d.Body)
		if sendErr != nil {
			status = models.MessageFailed
			log.WithError(sendErr).Warn("automation: send failed")
		}

		now := e.now()
		err := e.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
			if _, err := messaging.Record(tx, d.UserID, d.ContactID, models.DirectionOutbound, d.Body, messaging.RecordOpts{
				AutomationID: d.AutomationID,
				Platform:     d.Platform,
				Status:       status,
				Timestamp:    now,
			}); err != nil {
				return err
			}
			if sendErr == nil && d.AutomationID != nil {
				return metrics.IncrementMessagesSent(tx, *d.AutomationID, now)
			}
			return nil
		})
		if err != nil {
			log.WithError(err).Error("automation: record outbound message")
		}

		ev := e.event(events.TypeMessageSent, d.UserID, d.ContactID, d.AutomationID, d.Platform)
		if sendErr != nil {
			ev.Type = events.TypeMessageFailed
			ev.Reason = sendErr.Error()
		}
		e.publish(ctx, ev)
	}
}

func (e *Engine) event(t string, userID, contactID uint, autoID *uint, platform string) events.Event {
	ev := events.New(t, e.now())
	ev.UserID = userID
	ev.ContactID = contactID
	ev.AutomationID = autoID
	ev.Platform = platform
	return ev
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.WithError(err).WithField("event", ev.Type).Warn("automation: publish event failed")
	}
}
