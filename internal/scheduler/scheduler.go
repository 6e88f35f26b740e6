// Package scheduler runs named recurring jobs on cron schedules with
// enforced wall-clock timeouts. One job's failure or timeout never affects
// other jobs or the scheduler itself, and a single named job never has two
// executions in flight: if the prior run is still active at the next fire
// time, the fire is skipped and logged, not queued.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/metrics"
)

// Status is the recorded outcome of a job's most recent execution.
type Status string

const (
	StatusIdle     Status = "Idle" // never run yet
	StatusSuccess  Status = "Success"
	StatusFailed   Status = "Failed"
	StatusTimedOut Status = "TimedOut"
)

// Job is one named recurring unit of work. Run receives a context whose
// deadline enforces Timeout; the body must observe cancellation at its next
// suspension point. Side effects of an abandoned run are not rolled back, so
// bodies must be idempotent or tolerant of partial effects.
type Job struct {
	Name    string
	Spec    string // cron expression, e.g. "*/30 * * * *" or "@hourly"
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type entry struct {
	job Job
	id  cron.EntryID

	mu         sync.Mutex
	running    bool
	lastRun    time.Time
	lastStatus Status
	lastKind   apperr.Kind // set when lastStatus is Failed
}

// Scheduler owns the job registry and the cron engine underneath it. The
// registry must mirror the engine's armed entries at all times; divergence is
// a reconciliation fault (TaskNotFound), logged and surfaced, never silently
// repaired.
type Scheduler struct {
	mu      sync.Mutex
	log     *slog.Logger
	c       *cron.Cron
	jobs    map[string]*entry
	started bool
}

// New builds a scheduler with the standard five-field cron parser plus
// descriptors (@hourly, @every ...).
func New(log *slog.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		log:  log,
		c:    cron.New(cron.WithParser(parser)),
		jobs: make(map[string]*entry),
	}
}

// Add registers and arms a job. Duplicate names are rejected with Conflict;
// a malformed schedule expression is a SchedulerError.
func (s *Scheduler) Add(job Job) error {
	if strings.TrimSpace(job.Name) == "" {
		return apperr.New(apperr.ValidationError, "job name must not be empty")
	}
	if job.Run == nil {
		return apperr.Newf(apperr.ValidationError, "job %q has no body", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return apperr.Newf(apperr.Conflict, "job %q is already registered", job.Name)
	}

	e := &entry{job: job, lastStatus: StatusIdle}
	id, err := s.c.AddFunc(job.Spec, func() { s.execute(e) })
	if err != nil {
		return apperr.Wrap(apperr.SchedulerError,
			"arm job "+job.Name+": malformed schedule "+job.Spec, err)
	}
	e.id = id
	s.jobs[job.Name] = e

	s.log.Info("job registered", "job", job.Name, "spec", job.Spec, "timeout", job.Timeout)
	return s.reconcileLocked()
}

// Remove disarms a job and drops it from the registry in one step, keeping
// both sides consistent. An unknown name is a TaskNotFound fault.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return apperr.Newf(apperr.TaskNotFound, "job %q is not registered", name)
	}
	s.c.Remove(e.id)
	delete(s.jobs, name)

	s.log.Info("job removed", "job", name)
	return s.reconcileLocked()
}

// Start begins firing schedules. Job bodies run concurrently with each other
// and with request handling.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return apperr.New(apperr.SchedulerError, "scheduler already started")
	}
	s.c.Start()
	s.started = true
	s.log.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts new fires and waits for running jobs until ctx expires. Jobs
// abandoned at that point keep their own timeout as the hard bound.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stopped := s.c.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return apperr.Wrap(apperr.SchedulerError, "stop scheduler", ctx.Err())
	}
}

// execute runs one fire of a job, bounded by its timeout. It is invoked from
// the cron engine's goroutine; the body itself runs in its own goroutine so
// a hung body can be abandoned without blocking the engine.
func (s *Scheduler) execute(e *entry) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		s.log.Warn("previous run still active, skipping fire", "job", e.job.Name)
		return
	}
	e.running = true
	start := time.Now()
	e.lastRun = start
	e.mu.Unlock()

	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if e.job.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.job.Run(ctx) }()

	select {
	case err := <-done:
		elapsed := time.Since(start)
		e.mu.Lock()
		e.running = false
		if err != nil {
			e.lastStatus = StatusFailed
			e.lastKind = apperr.KindOf(err)
			e.mu.Unlock()
			metrics.RecordJobRun(e.job.Name, string(StatusFailed), elapsed)
			s.log.Error("job failed",
				"job", e.job.Name,
				"kind", string(apperr.TaskExecutionError),
				"cause_kind", string(apperr.KindOf(err)),
				"error", err,
				"elapsed", elapsed)
			return
		}
		e.lastStatus = StatusSuccess
		e.mu.Unlock()
		metrics.RecordJobRun(e.job.Name, string(StatusSuccess), elapsed)
		s.log.Info("job succeeded", "job", e.job.Name, "elapsed", elapsed)

	case <-ctx.Done():
		elapsed := time.Since(start)
		e.mu.Lock()
		e.lastStatus = StatusTimedOut
		e.mu.Unlock()
		metrics.RecordJobRun(e.job.Name, string(StatusTimedOut), elapsed)
		s.log.Error("job timed out, abandoning attempt",
			"job", e.job.Name,
			"kind", string(apperr.TaskTimeout),
			"timeout", e.job.Timeout)

		// The abandoned body cannot be preempted; it holds the running flag
		// until it actually returns so a given job never runs twice at once.
		go func() {
			<-done
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			s.log.Warn("abandoned job body returned", "job", e.job.Name, "elapsed", time.Since(start))
		}()
	}
}

// Reconcile checks that the registry and the cron engine agree on the armed
// job set. Divergence in either direction is a TaskNotFound fault: it is
// logged and returned for monitoring, never silently repaired, since the
// cause would be a registration bug that repair would mask.
func (s *Scheduler) Reconcile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked()
}

func (s *Scheduler) reconcileLocked() error {
	armed := make(map[cron.EntryID]bool, len(s.jobs))
	for _, entry := range s.c.Entries() {
		armed[entry.ID] = true
	}

	for name, e := range s.jobs {
		if !armed[e.id] {
			s.log.Error("reconciliation fault: registered job not armed in engine",
				"job", name, "kind", string(apperr.TaskNotFound))
			return apperr.Newf(apperr.TaskNotFound, "job %q registered but not armed", name)
		}
		delete(armed, e.id)
	}
	if len(armed) > 0 {
		s.log.Error("reconciliation fault: engine holds entries missing from registry",
			"count", len(armed), "kind", string(apperr.TaskNotFound))
		return apperr.Newf(apperr.TaskNotFound, "%d armed entries missing from registry", len(armed))
	}
	return nil
}

// JobStatus is one row of the scheduler's introspection snapshot.
type JobStatus struct {
	Name       string        `json:"name"`
	Spec       string        `json:"spec"`
	Timeout    time.Duration `json:"timeout"`
	Running    bool          `json:"running"`
	LastRun    time.Time     `json:"last_run"`
	LastStatus Status        `json:"last_status"`
	LastKind   string        `json:"last_kind,omitempty"`
}

// Snapshot reports the registry state, sorted by name, for health endpoints.
func (s *Scheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, e := range s.jobs {
		e.mu.Lock()
		st := JobStatus{
			Name:       name,
			Spec:       e.job.Spec,
			Timeout:    e.job.Timeout,
			Running:    e.running,
			LastRun:    e.lastRun,
			LastStatus: e.lastStatus,
		}
		if e.lastStatus == StatusFailed {
			st.LastKind = string(e.lastKind)
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// runNow fires a job immediately, outside its schedule. Test hook.
func (s *Scheduler) runNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return apperr.Newf(apperr.TaskNotFound, "job %q is not registered", name)
	}
	s.execute(e)
	return nil
}
