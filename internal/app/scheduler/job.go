package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is the unit of work a job runs.
type Handler func(ctx context.Context) error

// Job describes a recurring unit of work.
type Job struct {
	Name     string
	Schedule Schedule
	Handler  Handler
	// RunImmediately sets the first run time to the moment the job is added instead of the
	// first occurrence of Schedule.
	RunImmediately bool
}

// Status is a point-in-time view of a registered job.
type Status struct {
	ID        uuid.UUID
	Name      string
	Schedule  string
	NextRunAt time.Time
	LastRunAt time.Time
	LastError string
	Runs      int
	Failures  int
	Paused    bool
}

type job struct {
	id        uuid.UUID
	spec      Job
	nextRunAt time.Time
	lastRunAt time.Time
	lastErr   error
	runs      int
	failures  int
	paused    bool
}

func newJob(spec Job, now time.Time) *job {
	j := &job{id: uuid.New(), spec: spec}
	if spec.RunImmediately {
		j.nextRunAt = now
	} else {
		j.nextRunAt = spec.Schedule.Next(now)
	}
	return j
}

// isPending reports whether the job should run at now.
func (j *job) isPending(now time.Time) bool {
	return !j.paused && now.After(j.nextRunAt)
}

func (j *job) status() Status {
	st := Status{
		ID:        j.id,
		Name:      j.spec.Name,
		Schedule:  describe(j.spec.Schedule),
		NextRunAt: j.nextRunAt,
		LastRunAt: j.lastRunAt,
		Runs:      j.runs,
		Failures:  j.failures,
		Paused:    j.paused,
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}
