package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/coachpo/wgg/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startScheduler(t *testing.T, clock *testutil.FakeClock) *Scheduler {
	t.Helper()
	// The ticker never fires in tests; scans are driven through RunPending.
	s := New(WithClock(clock.Now), WithTick(time.Hour))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	})
	return s
}

func TestFixedIntervalReschedulesFromRunStart(t *testing.T) {
	t0 := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(t0.Add(-time.Second))
	s := startScheduler(t, clock)
	ctx := context.Background()

	for _, fail := range []bool{false, true} {
		fail := fail
		clock.Set(t0.Add(-time.Second))
		id, err := s.Add(ctx, Job{
			Name:           "interval",
			Schedule:       Every(2 * time.Second),
			RunImmediately: true,
			Handler: func(context.Context) error {
				if fail {
					return errors.New("boom")
				}
				return nil
			},
		})
		if err != nil {
			t.Fatalf("add: %v", err)
		}

		clock.Set(t0)
		if ran, err := s.RunPending(ctx); err != nil || ran != 1 {
			t.Fatalf("expected one run, got %d (%v)", ran, err)
		}
		statuses, err := s.Jobs(ctx)
		if err != nil {
			t.Fatalf("jobs: %v", err)
		}
		if len(statuses) != 1 {
			t.Fatalf("expected one job, got %d", len(statuses))
		}
		if want := t0.Add(2 * time.Second); !statuses[0].NextRunAt.Equal(want) {
			t.Fatalf("fail=%v: expected next run %s, got %s", fail, want, statuses[0].NextRunAt)
		}
		if fail && statuses[0].LastError == "" {
			t.Fatalf("expected the failure to be recorded")
		}
		if err := s.Remove(ctx, id); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
}

func TestJobNotPendingAtExactlyNextRun(t *testing.T) {
	t0 := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(t0)
	s := startScheduler(t, clock)
	ctx := context.Background()

	runs := 0
	if _, err := s.Add(ctx, Job{Name: "j", Schedule: Every(time.Second), Handler: func(context.Context) error {
		runs++
		return nil
	}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	clock.Set(t0.Add(time.Second))
	if _, err := s.RunPending(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runs != 0 {
		t.Fatalf("job must not run when now == next_run_at")
	}
	clock.Advance(time.Millisecond)
	if _, err := s.RunPending(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected one run once past next_run_at, got %d", runs)
	}
}

func TestPanickingJobIsRescheduled(t *testing.T) {
	t0 := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(t0)
	s := startScheduler(t, clock)
	ctx := context.Background()

	calls := 0
	if _, err := s.Add(ctx, Job{Name: "panics", Schedule: Every(time.Second), Handler: func(context.Context) error {
		calls++
		panic("unexpected")
	}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < 3; i++ {
		clock.Advance(1100 * time.Millisecond)
		if _, err := s.RunPending(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected job to keep running after panics, got %d calls", calls)
	}
	statuses, _ := s.Jobs(ctx)
	if statuses[0].Failures != 3 {
		t.Fatalf("expected 3 failures, got %d", statuses[0].Failures)
	}
}

func TestPauseAndResume(t *testing.T) {
	t0 := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(t0)
	s := startScheduler(t, clock)
	ctx := context.Background()

	counts := map[string]int{}
	handler := func(name string) Handler {
		return func(context.Context) error { counts[name]++; return nil }
	}
	a, _ := s.Add(ctx, Job{Name: "a", Schedule: Every(time.Second), Handler: handler("a")})
	if _, err := s.Add(ctx, Job{Name: "b", Schedule: Every(time.Second), Handler: handler("b")}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.PauseJob(ctx, a); err != nil {
		t.Fatalf("pause job: %v", err)
	}
	clock.Advance(2 * time.Second)
	s.RunPending(ctx)
	if counts["a"] != 0 || counts["b"] != 1 {
		t.Fatalf("expected only b to run, got %v", counts)
	}

	if err := s.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := s.ResumeJob(ctx, a); err != nil {
		t.Fatalf("resume job: %v", err)
	}
	clock.Advance(2 * time.Second)
	if ran, _ := s.RunPending(ctx); ran != 0 {
		t.Fatalf("paused scheduler must not run jobs, ran %d", ran)
	}

	if err := s.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if ran, _ := s.RunPending(ctx); ran != 2 {
		t.Fatalf("expected both jobs after resume, ran %d", ran)
	}
}

func TestUnknownJobAndStoppedScheduler(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	s := New(WithClock(clock.Now), WithTick(time.Hour))
	ctx := context.Background()

	if _, err := s.Add(ctx, Job{Name: "x", Schedule: Every(time.Second), Handler: func(context.Context) error { return nil }}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.PauseJob(ctx, uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := s.Jobs(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestTickerDrivesJobs(t *testing.T) {
	s := New(WithTick(5 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	ran := make(chan struct{}, 1)
	if _, err := s.Add(ctx, Job{
		Name:           "tick",
		Schedule:       Every(time.Hour),
		RunImmediately: true,
		Handler: func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run from the ticker")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestCronParsing(t *testing.T) {
	sched, err := Cron("0 */15 * * * *")
	if err != nil {
		t.Fatalf("parse six-field cron: %v", err)
	}
	from := time.Date(2024, 5, 6, 12, 7, 30, 0, time.UTC)
	if got, want := sched.Next(from), time.Date(2024, 5, 6, 12, 15, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if _, err := Cron("@hourly"); err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if _, err := Cron("*/5 * * * *"); err != nil {
		t.Fatalf("five-field cron: %v", err)
	}
	if _, err := Cron("not a cron"); err == nil {
		t.Fatalf("expected parse error")
	}
}
