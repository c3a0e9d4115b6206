// Package scheduler runs recurring jobs on cron or fixed-interval schedules.
//
// The job table is owned by a single goroutine. Every mutation, including the periodic scan
// for pending jobs, is a message handled by that goroutine, so the table needs no lock. Jobs
// run sequentially on the same goroutine; a slow job delays control messages until it returns.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/wgg/internal/infra/observability"
	"github.com/coachpo/wgg/internal/infra/telemetry"
)

// DefaultTick is how often the scheduler scans for pending jobs.
const DefaultTick = 500 * time.Millisecond

var (
	// ErrNotRunning is returned by control calls made before Start or after Stop.
	ErrNotRunning = errors.New("scheduler: not running")
	// ErrJobNotFound is returned when a control call names an unknown job id.
	ErrJobNotFound = errors.New("scheduler: job not found")
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick overrides the scan interval.
func WithTick(tick time.Duration) Option {
	return func(s *Scheduler) {
		if tick > 0 {
			s.tick = tick
		}
	}
}

// WithClock overrides the time source used for due-time checks.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger used for job failures.
func WithLogger(logger observability.Logger) Option {
	return func(s *Scheduler) {
		s.logger = observability.OrNop(logger)
	}
}

type command struct {
	apply func(now time.Time) any
	reply chan any
}

// Scheduler is a cooperative job runner.
type Scheduler struct {
	tick   time.Duration
	clock  func() time.Time
	logger observability.Logger

	ctrl   chan command
	done   chan struct{}
	state  atomic.Int32
	cancel context.CancelFunc
	once   sync.Once

	// owned by the loop goroutine
	jobs   map[uuid.UUID]*job
	paused bool

	runs metric.Int64Counter
}

// New constructs a scheduler. Call Start to begin processing.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tick:   DefaultTick,
		clock:  time.Now,
		logger: observability.Nop(),
		ctrl:   make(chan command),
		done:   make(chan struct{}),
		jobs:   make(map[uuid.UUID]*job),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	meter := otel.Meter("wgg.scheduler")
	if counter, err := meter.Int64Counter("wgg_scheduler_job_runs",
		metric.WithDescription("Scheduled job executions by job and result"),
		metric.WithUnit("{run}")); err == nil {
		s.runs = counter
	}
	return s
}

// Start launches the run loop. The loop stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		return fmt.Errorf("scheduler: already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.loop(loopCtx)
	return nil
}

// Stop cancels the run loop and waits for it to exit or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	switch s.state.Load() {
	case stateIdle:
		s.state.Store(stateStopped)
		return nil
	case stateStopped:
		return nil
	}
	s.state.Store(stateStopped)
	s.once.Do(s.cancel)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add registers a job and returns its id.
func (s *Scheduler) Add(ctx context.Context, spec Job) (uuid.UUID, error) {
	if spec.Handler == nil {
		return uuid.Nil, fmt.Errorf("scheduler: job %q has no handler", spec.Name)
	}
	if spec.Schedule == nil {
		return uuid.Nil, fmt.Errorf("scheduler: job %q has no schedule", spec.Name)
	}
	out, err := s.send(ctx, func(now time.Time) any {
		j := newJob(spec, now)
		s.jobs[j.id] = j
		return j.id
	})
	if err != nil {
		return uuid.Nil, err
	}
	return out.(uuid.UUID), nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(ctx context.Context, id uuid.UUID) error {
	return s.mutateJob(ctx, id, func(*job) { delete(s.jobs, id) })
}

// PauseJob stops a single job from running until ResumeJob.
func (s *Scheduler) PauseJob(ctx context.Context, id uuid.UUID) error {
	return s.mutateJob(ctx, id, func(j *job) { j.paused = true })
}

// ResumeJob re-enables a paused job. A job whose due time passed while paused runs on the
// next tick.
func (s *Scheduler) ResumeJob(ctx context.Context, id uuid.UUID) error {
	return s.mutateJob(ctx, id, func(j *job) { j.paused = false })
}

// Pause stops all jobs from running. Control messages are still processed.
func (s *Scheduler) Pause(ctx context.Context) error {
	_, err := s.send(ctx, func(time.Time) any { s.paused = true; return nil })
	return err
}

// Resume undoes Pause.
func (s *Scheduler) Resume(ctx context.Context) error {
	_, err := s.send(ctx, func(time.Time) any { s.paused = false; return nil })
	return err
}

// Jobs returns the status of every registered job ordered by next run time.
func (s *Scheduler) Jobs(ctx context.Context) ([]Status, error) {
	out, err := s.send(ctx, func(time.Time) any {
		statuses := make([]Status, 0, len(s.jobs))
		for _, j := range s.jobs {
			statuses = append(statuses, j.status())
		}
		sort.Slice(statuses, func(i, k int) bool {
			if statuses[i].NextRunAt.Equal(statuses[k].NextRunAt) {
				return statuses[i].Name < statuses[k].Name
			}
			return statuses[i].NextRunAt.Before(statuses[k].NextRunAt)
		})
		return statuses
	})
	if err != nil {
		return nil, err
	}
	return out.([]Status), nil
}

// RunPending performs one scan outside the ticker and returns how many jobs ran.
func (s *Scheduler) RunPending(ctx context.Context) (int, error) {
	out, err := s.send(ctx, func(now time.Time) any {
		return s.runPending(ctx, now)
	})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

func (s *Scheduler) mutateJob(ctx context.Context, id uuid.UUID, fn func(*job)) error {
	out, err := s.send(ctx, func(time.Time) any {
		j, ok := s.jobs[id]
		if !ok {
			return ErrJobNotFound
		}
		fn(j)
		return nil
	})
	if err != nil {
		return err
	}
	if e, ok := out.(error); ok {
		return e
	}
	return nil
}

func (s *Scheduler) send(ctx context.Context, apply func(now time.Time) any) (any, error) {
	if s.state.Load() != stateRunning {
		return nil, ErrNotRunning
	}
	cmd := command{apply: apply, reply: make(chan any, 1)}
	select {
	case s.ctrl <- cmd:
	case <-s.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-cmd.reply:
		return out, nil
	case <-s.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.ctrl:
			cmd.reply <- cmd.apply(s.clock())
		case <-ticker.C:
			s.runPending(ctx, s.clock())
		}
	}
}

func (s *Scheduler) runPending(ctx context.Context, now time.Time) int {
	if s.paused {
		return 0
	}
	due := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.isPending(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].nextRunAt.Before(due[k].nextRunAt) })
	ran := 0
	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		s.execute(ctx, j)
		ran++
	}
	return ran
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	start := s.clock()
	err := safeRun(ctx, j.spec.Handler)
	j.lastRunAt = start
	j.lastErr = err
	j.runs++
	// Rescheduled whatever the outcome so a transient failure never disables the job.
	j.nextRunAt = j.spec.Schedule.Next(start)

	result := "ok"
	if err != nil {
		j.failures++
		result = "error"
		s.logger.Error("scheduled job failed",
			observability.String("job", j.spec.Name),
			observability.String("job_id", j.id.String()),
			observability.Time("next_run_at", j.nextRunAt),
			observability.Err(err),
		)
	} else {
		s.logger.Debug("scheduled job completed",
			observability.String("job", j.spec.Name),
			observability.Duration("elapsed", s.clock().Sub(start)),
		)
	}
	if s.runs != nil {
		s.runs.Add(context.Background(), 1, metric.WithAttributes(
			telemetry.AttrEnvironment.String(telemetry.Environment()),
			telemetry.AttrJob.String(j.spec.Name),
			telemetry.AttrResult.String(result),
		))
	}
}

func safeRun(ctx context.Context, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx)
}
