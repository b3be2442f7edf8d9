// Package scheduler runs named jobs on cron schedules behind a per-job
// enable flag and a no-overlap guard.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	apperrors "integration-report-bot/internal/errors"
	"integration-report-bot/internal/limiter"
	"integration-report-bot/internal/settings"
)

// Trigger says what started a run
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

var (
	ErrJobDisabled = apperrors.Wrap(errors.New("job disabled"), "⏸ The job is disabled.", false)
	ErrJobRunning  = apperrors.Wrap(errors.New("job already running"), "⏳ The job is already running.", true)
	ErrStopped     = apperrors.Wrap(errors.New("scheduler stopped"), "⏹ Jobs are shutting down.", false)
)

// JobFunc is the body of a job. It must honor ctx cancellation.
type JobFunc func(ctx context.Context) error

// Job is a named, scheduled unit of work
type Job struct {
	Name        string
	Description string
	// Schedule is a cron expression with optional leading seconds field.
	// Quartz-style "?" in day fields is accepted.
	Schedule string
	Run      JobFunc
}

// Flags persists per-job enablement
type Flags interface {
	JobEnabled(ctx context.Context, jobName string) (bool, error)
	SetJobEnabled(ctx context.Context, jobName string, enabled bool) error
	JobStates(ctx context.Context) ([]settings.JobState, error)
}

// Status is a point-in-time view of one job
type Status struct {
	Name         string
	Description  string
	Schedule     string
	Enabled      bool
	// FlagChanged is when Enabled was last toggled, zero if never
	FlagChanged  time.Time
	Running      bool
	RunningSince time.Time
	Next         time.Time
	LastRun      time.Time
	LastDuration time.Duration
	LastError    string
}

type entry struct {
	job      Job
	schedule cron.Schedule
	id       cron.EntryID

	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
}

// Scheduler owns the cron runner and job bookkeeping
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	flags   Flags
	running *limiter.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	jobs  map[string]*entry
	order []string

	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a scheduler. Jobs are registered with Register before Start.
func New(flags Flags, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger{logger: logger}),
		),
		parser:  parser,
		flags:   flags,
		running: limiter.New(),
		logger:  logger,
		now:     time.Now,
		jobs:    make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Normalize returns the canonical (lowercase) job name
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a job to the schedule
func (s *Scheduler) Register(job Job) error {
	name := Normalize(job.Name)
	if name == "" {
		return fmt.Errorf("register job: empty name")
	}
	if job.Run == nil {
		return fmt.Errorf("register job %s: nil run func", name)
	}

	schedule, err := s.parser.Parse(strings.TrimSpace(job.Schedule))
	if err != nil {
		return fmt.Errorf("register job %s: parse schedule %q: %w", name, job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("register job %s: already registered", name)
	}

	job.Name = name
	e := &entry{job: job, schedule: schedule}
	e.id = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		_ = s.runJob(ctx, name, TriggerCron)
	}))

	s.jobs[name] = e
	s.order = append(s.order, name)

	s.logger.Info("job registered", "job", name, "schedule", job.Schedule)
	return nil
}

// Start begins firing schedules. ctx bounds every job run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.order))
}

// Stop stops firing, cancels running jobs and waits for them until ctx expires.
// Runs requested after Stop fail with ErrStopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()

	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, jobs may still be running", "running", s.running.Active())
		return ctx.Err()
	}
}

// Resolve maps user input to a registered job name
func (s *Scheduler) Resolve(name string) (string, bool) {
	name = Normalize(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return name, ok
}

// Names lists registered jobs in registration order
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// SetEnabled persists a job's enable flag. Takes effect at the next firing;
// a run already in progress is not interrupted.
func (s *Scheduler) SetEnabled(ctx context.Context, name string, enabled bool) error {
	name, ok := s.Resolve(name)
	if !ok {
		return fmt.Errorf("set job %q enabled: %w", name, apperrors.ErrUnknownJob)
	}

	if err := s.flags.SetJobEnabled(ctx, name, enabled); err != nil {
		return fmt.Errorf("set job %s enabled: %w", name, err)
	}

	s.logger.Info("job enablement changed", "job", name, "enabled", enabled)
	return nil
}

// RunNow runs a job once through the same gate as a cron firing and waits
// for it to finish.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	name, ok := s.Resolve(name)
	if !ok {
		return fmt.Errorf("run job %q: %w", name, apperrors.ErrUnknownJob)
	}
	return s.runJob(ctx, name, TriggerManual)
}

// Status reports every registered job in registration order
func (s *Scheduler) Status(ctx context.Context) ([]Status, error) {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.order))
	for _, name := range s.order {
		entries = append(entries, s.jobs[name])
	}
	s.mu.Unlock()

	states, err := s.flags.JobStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}
	flags := make(map[string]settings.JobState, len(states))
	for _, st := range states {
		flags[Normalize(st.JobName)] = st
	}

	now := s.now()
	statuses := make([]Status, 0, len(entries))
	for _, e := range entries {
		// Jobs without a stored flag are enabled
		flag, stored := flags[e.job.Name]
		since, running := s.running.Since(e.job.Name)

		s.mu.Lock()
		st := Status{
			Name:         e.job.Name,
			Description:  e.job.Description,
			Schedule:     e.job.Schedule,
			Enabled:      !stored || flag.IsEnabled,
			FlagChanged:  flag.UpdatedAt,
			Running:      running,
			RunningSince: since,
			Next:         e.schedule.Next(now),
			LastRun:      e.lastRun,
			LastDuration: e.lastDuration,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		s.mu.Unlock()

		statuses = append(statuses, st)
	}
	return statuses, nil
}

func (s *Scheduler) runJob(ctx context.Context, name string, trigger Trigger) (err error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("run job %q: %w", name, apperrors.ErrUnknownJob)
	}

	logger := s.logger.With("job", name, "trigger", string(trigger))

	enabled, err := s.flags.JobEnabled(ctx, name)
	if err != nil {
		logger.Error("failed to read job state", "error", err)
		return fmt.Errorf("run job %s: %w", name, err)
	}
	if !enabled {
		logger.Info("job disabled, skipping")
		return ErrJobDisabled
	}

	// Add under mu so Stop never waits concurrently with a new run
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		logger.Info("scheduler stopped, skipping")
		return ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !s.running.TryAcquire(name) {
		logger.Info("job already running, skipping")
		return ErrJobRunning
	}
	defer s.running.Release(name)

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}

		elapsed := s.now().Sub(start)
		s.mu.Lock()
		e.lastRun = start
		e.lastDuration = elapsed
		e.lastErr = err
		s.mu.Unlock()

		if err != nil {
			logger.Error("job failed", "error", err, "duration", elapsed)
		} else {
			logger.Info("job finished", "duration", elapsed)
		}
	}()

	logger.Info("job started")
	return e.job.Run(ctx)
}

// cronLogger routes robfig/cron's internal logging to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
