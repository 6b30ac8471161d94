// Package scheduler runs named periodic jobs from a single goroutine.
// Jobs never overlap: due jobs run one after another, each under its own
// timeout, and a failing or panicking job never stops the loop.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/signalbox/internal/metrics"
)

// DefaultTimeout bounds a job run when Job.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// Job is one periodic unit of work.
type Job struct {
	Name    string
	Spec    string // robfig/cron spec: "@every 30s", "@hourly", "0 0 * * *"
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Reporter receives job failures, e.g. for Sentry.
type Reporter func(err error, tags map[string]string)

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Jobs     []Job
	Lock     Lock             // optional; nil runs every tick
	Clock    func() time.Time // optional, defaults to time.Now
	Logger   logrus.FieldLogger
	Reporter Reporter // optional
}

type entry struct {
	job      Job
	schedule cron.Schedule
	next     time.Time
}

// Scheduler fires jobs at their cron schedules, evaluated in UTC.
type Scheduler struct {
	mu       sync.Mutex
	entries  []*entry
	lock     Lock
	clock    func() time.Time
	log      logrus.FieldLogger
	reporter Reporter
}

// New validates every job and parses its schedule.
func New(opts Opts) (*Scheduler, error) {
	s := &Scheduler{
		lock:     opts.Lock,
		clock:    opts.Clock,
		log:      opts.Logger,
		reporter: opts.Reporter,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}

	seen := make(map[string]bool)
	now := s.now()
	for _, j := range opts.Jobs {
		if j.Name == "" {
			return nil, fmt.Errorf("scheduler: job name is required")
		}
		if seen[j.Name] {
			return nil, fmt.Errorf("scheduler: duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		if j.Run == nil {
			return nil, fmt.Errorf("scheduler: job %q has no run func", j.Name)
		}
		sched, err := Parse(j.Spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", j.Name, err)
		}
		if j.Timeout <= 0 {
			j.Timeout = DefaultTimeout
		}
		s.entries = append(s.entries, &entry{job: j, schedule: sched, next: sched.Next(now)})
	}
	return s, nil
}

// Parse reads a cron spec in UTC. Descriptors (@hourly, @every 30s) and
// standard 5-field expressions are accepted.
func Parse(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule spec")
	}
	if !strings.HasPrefix(spec, "TZ=") && !strings.HasPrefix(spec, "CRON_TZ=") {
		spec = "CRON_TZ=UTC " + spec
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return sched, nil
}

func (s *Scheduler) now() time.Time {
	return s.clock().UTC()
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.job.Name
	}
	return names
}

// Next returns the next fire time of job name.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name == name {
			return e.next, true
		}
	}
	return time.Time{}, false
}

// Run blocks, firing jobs as they come due, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return nil
	}
	s.log.WithField("jobs", s.Jobs()).Info("scheduler: started")
	defer func() {
		if s.lock != nil {
			if err := s.lock.Release(context.Background()); err != nil {
				s.log.WithError(err).Warn("scheduler: release lock")
			}
			metrics.SetLeader(false)
		}
		s.log.Info("scheduler: stopped")
	}()

	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			s.Tick(ctx, s.now())
			timer.Reset(s.untilNext())
		}
	}
}

func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	earliest := s.entries[0].next
	for _, e := range s.entries[1:] {
		if e.next.Before(earliest) {
			earliest = e.next
		}
	}
	d := earliest.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// Tick runs, in order of their due time, every job due at or before now
// and advances their schedules. When a Lock is set and another process
// holds it, the jobs are skipped but still rescheduled. It returns the
// names of the jobs that ran.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	now = now.UTC()
	type dueJob struct {
		job Job
		at  time.Time
	}
	s.mu.Lock()
	var due []dueJob
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, dueJob{job: e.job, at: e.next})
			e.next = e.schedule.Next(now)
		}
	}
	s.mu.Unlock()
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })

	log := s.log.WithField("tick", uuid.NewString())
	if s.lock != nil {
		leader, err := s.lock.Acquire(ctx)
		if err != nil {
			log.WithError(err).Warn("scheduler: acquire lock")
		}
		metrics.SetLeader(leader)
		if !leader {
			log.Debug("scheduler: not leader, skipping tick")
			return nil
		}
	}

	ran := make([]string, 0, len(due))
	for _, d := range due {
		if ctx.Err() != nil {
			break
		}
		_ = s.runJob(ctx, log, d.job)
		ran = append(ran, d.job.Name)
	}
	return ran
}

// RunNow runs job name immediately, outside its schedule, and returns its
// error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var job *Job
	for _, e := range s.entries {
		if e.job.Name == name {
			j := e.job
			job = &j
			break
		}
	}
	s.mu.Unlock()
	if job == nil {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.runJob(ctx, s.log, *job)
}

func (s *Scheduler) runJob(ctx context.Context, log logrus.FieldLogger, j Job) (err error) {
	log = log.WithField("job", j.Name)
	start := time.Now()
	jctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: job %s panicked: %v", j.Name, r)
		}
		elapsed := time.Since(start)
		metrics.ObserveJob(j.Name, err == nil, elapsed)
		if err != nil {
			log.WithError(err).WithField("elapsed", elapsed).Error("scheduler: job failed")
			if s.reporter != nil {
				s.reporter(err, map[string]string{"job": j.Name})
			}
			return
		}
		log.WithField("elapsed", elapsed).Debug("scheduler: job done")
	}()

	return j.Run(jctx)
}
