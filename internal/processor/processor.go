// Package processor runs the background jobs of the automation pipeline:
// draining the deferred message queue, firing schedule automations,
// aggregating metrics and reaping old queue rows.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/signalbox/internal/automation"
	"github.com/zulandar/signalbox/internal/contact"
	"github.com/zulandar/signalbox/internal/events"
	"github.com/zulandar/signalbox/internal/gateway"
	"github.com/zulandar/signalbox/internal/messaging"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/queue"
	"github.com/zulandar/signalbox/internal/scheduler"
	"gorm.io/gorm"
)

// Job names.
const (
	JobDrain     = "drain-queue"
	JobSchedule  = "schedule-automations"
	JobMetrics   = "aggregate-metrics"
	JobCleanup   = "cleanup"
	defaultBatch = 50
)

// Default schedules and limits.
const (
	DefaultDrainSpec    = "@every 30s"
	DefaultScheduleSpec = "*/5 * * * *"
	DefaultMetricsSpec  = "@hourly"
	DefaultCleanupSpec  = "0 0 * * *"
	DefaultRetention    = 30 * 24 * time.Hour
	DefaultWindow       = 5 * time.Minute
)

// Opts holds parameters for creating a Processor.
type Opts struct {
	DB      *gorm.DB
	Engine  *automation.Engine
	Gateway gateway.Gateway
	Events  events.Publisher   // optional
	Lock    scheduler.Lock     // optional
	Report  scheduler.Reporter // optional
	Clock   func() time.Time   // optional, defaults to time.Now
	Logger  logrus.FieldLogger // optional

	BatchSize int
	Retention time.Duration
	// Window is how long after HH:MM a schedule trigger may fire. Zero
	// means DefaultWindow; a negative value demands the exact minute.
	Window      time.Duration
	SendTimeout time.Duration
	JobTimeout  time.Duration

	DrainSpec    string
	ScheduleSpec string
	MetricsSpec  string
	CleanupSpec  string
}

// Processor owns the four periodic jobs and the scheduler that drives them.
type Processor struct {
	db          *gorm.DB
	engine      *automation.Engine
	gw          gateway.Gateway
	events      events.Publisher
	clock       func() time.Time
	log         logrus.FieldLogger
	batch       int
	retention   time.Duration
	window      time.Duration
	sendTimeout time.Duration
	sched       *scheduler.Scheduler
}

// New creates a Processor and registers its jobs.
func New(opts Opts) (*Processor, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("processor: db is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("processor: engine is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("processor: gateway is required")
	}
	p := &Processor{
		db:          opts.DB,
		engine:      opts.Engine,
		gw:          opts.Gateway,
		events:      opts.Events,
		clock:       opts.Clock,
		log:         opts.Logger,
		batch:       opts.BatchSize,
		retention:   opts.Retention,
		window:      opts.Window,
		sendTimeout: opts.SendTimeout,
	}
	if p.events == nil {
		p.events = events.Nop{}
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	if p.batch <= 0 {
		p.batch = defaultBatch
	}
	if p.retention <= 0 {
		p.retention = DefaultRetention
	}
	switch {
	case p.window == 0:
		p.window = DefaultWindow
	case p.window < 0:
		p.window = 0
	}
	if p.sendTimeout <= 0 {
		p.sendTimeout = gateway.DefaultTimeout
	}

	jobs := []scheduler.Job{
		{Name: JobDrain, Spec: orDefault(opts.DrainSpec, DefaultDrainSpec), Timeout: opts.JobTimeout, Run: func(ctx context.Context) error {
			_, err := p.Drain(ctx)
			return err
		}},
		{Name: JobSchedule, Spec: orDefault(opts.ScheduleSpec, DefaultScheduleSpec), Timeout: opts.JobTimeout, Run: func(ctx context.Context) error {
			_, err := p.RunSchedules(ctx)
			return err
		}},
		{Name: JobMetrics, Spec: orDefault(opts.MetricsSpec, DefaultMetricsSpec), Timeout: opts.JobTimeout, Run: func(ctx context.Context) error {
			_, err := p.AggregateMetrics(ctx)
			return err
		}},
		{Name: JobCleanup, Spec: orDefault(opts.CleanupSpec, DefaultCleanupSpec), Timeout: opts.JobTimeout, Run: func(ctx context.Context) error {
			_, err := p.Cleanup(ctx)
			return err
		}},
	}
	sched, err := scheduler.New(scheduler.Opts{
		Jobs:     jobs,
		Lock:     opts.Lock,
		Clock:    opts.Clock,
		Logger:   p.log,
		Reporter: opts.Report,
	})
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	p.sched = sched
	return p, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Run drives the jobs until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	return p.sched.Run(ctx)
}

// RunJob runs one job immediately by name.
func (p *Processor) RunJob(ctx context.Context, name string) error {
	return p.sched.RunNow(ctx, name)
}

// Scheduler exposes the underlying scheduler.
func (p *Processor) Scheduler() *scheduler.Scheduler {
	return p.sched
}

func (p *Processor) now() time.Time {
	return p.clock().UTC()
}

// DrainResult counts the outcomes of one drain cycle.
type DrainResult struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int // claimed by someone else first
}

// Drain delivers up to BatchSize due queue rows, oldest first. Each row is
// claimed before delivery and finished as sent or failed; one bad row never
// stops the batch. Only a failure to read the queue is returned.
func (p *Processor) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	db := p.db.WithContext(ctx)
	rows, err := queue.Due(db, p.now(), p.batch)
	if err != nil {
		return res, fmt.Errorf("processor: drain: %w", err)
	}
	res.Due = len(rows)

	for i := range rows {
		if ctx.Err() != nil {
			break
		}
		q := &rows[i]
		log := p.log.WithFields(logrus.Fields{"queued_id": q.ID, "contact_id": q.ContactID})

		if err := queue.Claim(db, q.ID); err != nil {
			if errors.Is(err, queue.ErrNotClaimed) {
				res.Skipped++
				continue
			}
			log.WithError(err).Error("processor: claim failed")
			res.Skipped++
			continue
		}
		q.Status = models.QueueProcessing

		if err := p.deliver(ctx, q); err != nil {
			log.WithError(err).Warn("processor: delivery failed")
			p.fail(ctx, q, err)
			res.Failed++
			continue
		}
		res.Sent++
	}

	if res.Due > 0 {
		p.log.WithFields(logrus.Fields{
			"due": res.Due, "sent": res.Sent, "failed": res.Failed, "skipped": res.Skipped,
		}).Info("processor: drain complete")
	}
	return res, nil
}

// deliver performs one claimed row and, on success, finishes it as sent.
func (p *Processor) deliver(ctx context.Context, q *models.QueuedMessage) error {
	if q.IsContinuation() {
		if err := p.engine.ContinueDeferred(ctx, q); err != nil {
			return err
		}
		if err := queue.MarkSent(p.db.WithContext(ctx), q.ID); err != nil {
			return err
		}
		metrics.ObserveQueued(models.QueueSent)
		return nil
	}

	c, err := contact.Get(p.db.WithContext(ctx), q.ContactID)
	if err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	err = p.gw.Send(sctx, q.Platform, c.Phone, q.MessageContent)
	cancel()
	if err != nil {
		p.recordOutbound(ctx, q, models.MessageFailed)
		return err
	}

	now := p.now()
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := queue.MarkSent(tx, q.ID); err != nil {
			return err
		}
		if _, err := messaging.Record(tx, q.UserID, q.ContactID, models.DirectionOutbound, q.MessageContent, messaging.RecordOpts{
			AutomationID: q.AutomationID,
			Platform:     q.Platform,
			MessageType:  q.MessageType,
			Status:       models.MessageSent,
			Timestamp:    now,
		}); err != nil {
			return err
		}
		if err := contact.Touch(tx, q.ContactID, now); err != nil {
			return err
		}
		if q.AutomationID != nil {
			return metrics.IncrementMessagesSent(tx, *q.AutomationID, now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.ObserveQueued(models.QueueSent)
	p.publish(ctx, p.event(events.TypeMessageSent, q, ""))
	return nil
}

// recordOutbound logs a failed queued send in the message history.
func (p *Processor) recordOutbound(ctx context.Context, q *models.QueuedMessage, status string) {
	_, err := messaging.Record(p.db.WithContext(ctx), q.UserID, q.ContactID, models.DirectionOutbound, q.MessageContent, messaging.RecordOpts{
		AutomationID: q.AutomationID,
		Platform:     q.Platform,
		MessageType:  q.MessageType,
		Status:       status,
		Timestamp:    p.now(),
	})
	if err != nil {
		p.log.WithError(err).WithField("queued_id", q.ID).Warn("processor: record outbound")
	}
}

func (p *Processor) fail(ctx context.Context, q *models.QueuedMessage, cause error) {
	// The parent context may be done; the row must still leave processing.
	db := p.db.WithContext(context.WithoutCancel(ctx))
	if err := queue.MarkFailed(db, q.ID, cause.Error()); err != nil {
		p.log.WithError(err).WithField("queued_id", q.ID).Error("processor: mark failed")
	}
	metrics.ObserveQueued(models.QueueFailed)
	p.publish(ctx, p.event(events.TypeMessageFailed, q, cause.Error()))
}

// RunSchedules fires every active schedule automation that is due now and
// returns how many fired.
func (p *Processor) RunSchedules(ctx context.Context) (int, error) {
	now := p.now()
	autos, err := automation.ListScheduled(p.db.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("processor: schedules: %w", err)
	}

	fired := 0
	var errs []error
	for i := range autos {
		a := &autos[i]
		cfg := a.Trigger()
		if cfg.Schedule == nil {
			p.log.WithField("automation_id", a.ID).Warn("processor: schedule automation without schedule config, skipping")
			continue
		}
		if !ShouldFire(cfg.Schedule, now, p.window) {
			continue
		}
		n, err := p.engine.RunScheduled(ctx, a, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fired++
		p.log.WithFields(logrus.Fields{"automation_id": a.ID, "contacts": n}).Info("processor: schedule fired")
	}
	if len(errs) > 0 {
		return fired, fmt.Errorf("processor: schedules: %w", errors.Join(errs...))
	}
	return fired, nil
}

// AggregateMetrics recomputes today's derived metrics.
func (p *Processor) AggregateMetrics(ctx context.Context) (int, error) {
	now := p.now()
	n, err := metrics.Recompute(p.db.WithContext(ctx), now)
	if err != nil {
		return 0, fmt.Errorf("processor: aggregate metrics: %w", err)
	}
	if n > 0 {
		ev := events.New(events.TypeMetricsRecomputed, now)
		ev.Count = int64(n)
		p.publish(ctx, ev)
	}
	return n, nil
}

// Cleanup deletes terminal queue rows older than the retention window and
// refreshes the queue depth gauge.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	now := p.now()
	db := p.db.WithContext(ctx)
	n, err := queue.Cleanup(db, now.Add(-p.retention))
	if err != nil {
		return 0, fmt.Errorf("processor: cleanup: %w", err)
	}
	if n > 0 {
		p.log.WithField("deleted", n).Info("processor: cleaned queue")
		ev := events.New(events.TypeQueueCleaned, now)
		ev.Count = n
		p.publish(ctx, ev)
	}
	if stats, err := queue.Stats(db); err == nil {
		metrics.SetQueueDepth(stats)
	}
	return n, nil
}

func (p *Processor) event(t string, q *models.QueuedMessage, reason string) events.Event {
	ev := events.New(t, p.now())
	ev.UserID = q.UserID
	ev.ContactID = q.ContactID
	ev.AutomationID = q.AutomationID
	ev.QueuedID = q.ID
	ev.Platform = q.Platform
	ev.Reason = reason
	return ev
}

func (p *Processor) publish(ctx context.Context, ev events.Event) {
	if err := p.events.Publish(ctx, ev); err != nil {
		p.log.WithError(err).WithField("event", ev.Type).Warn("processor: publish event failed")
	}
}
