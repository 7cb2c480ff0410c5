// Package executor runs a single job end-to-end and records its terminal state.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fentz26/circadia/internal/audit"
	"github.com/fentz26/circadia/internal/models"
	"github.com/fentz26/circadia/internal/store"
)

// Handler performs the work for one job type. It must not change job status.
type Handler func(ctx context.Context, userID, jobID string) (models.JobResult, error)

// Precondition re-checks, at dispatch time, whether a job should still run.
// A false result with a reason skips the job. An error leaves it pending.
type Precondition interface {
	Check(ctx context.Context, job models.Job) (ok bool, reason string, err error)
}

// PreconditionFunc adapts a function to Precondition.
type PreconditionFunc func(ctx context.Context, job models.Job) (bool, string, error)

// Check calls f.
func (f PreconditionFunc) Check(ctx context.Context, job models.Job) (bool, string, error) {
	return f(ctx, job)
}

// JobStore is the subset of the store the executor mutates.
type JobStore interface {
	MarkJobStarted(ctx context.Context, id string) error
	MarkJobCompleted(ctx context.Context, id string, result models.JobResult) error
	MarkJobFailed(ctx context.Context, id, errorMessage string) error
	MarkJobSkipped(ctx context.Context, id, reason string) error
}

// Outcome is what Execute did with a job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	// OutcomeNotRun means the job is no longer pending, e.g. another
	// dispatcher already started it.
	OutcomeNotRun Outcome = "not_run"
	// OutcomeDeferred means a store or precondition error left the job
	// pending. Later jobs of the same user must wait for it.
	OutcomeDeferred Outcome = "deferred"
)

// Executor dispatches jobs to handlers through a static table.
type Executor struct {
	store    JobStore
	handlers map[models.JobType]Handler
	pre      Precondition
	recorder *audit.Recorder
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithPrecondition sets the dispatch-time precondition check.
func WithPrecondition(p Precondition) Option {
	return func(e *Executor) { e.pre = p }
}

// WithRecorder records job outcomes as decisions.
func WithRecorder(r *audit.Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithTimeout bounds a handler invocation. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor. The handler map is copied.
func New(s JobStore, handlers map[models.JobType]Handler, opts ...Option) *Executor {
	table := make(map[models.JobType]Handler, len(handlers))
	for t, h := range handlers {
		table[t] = h
	}
	e := &Executor{store: s, handlers: table}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// MissingHandlers returns the job types that have no handler in table.
func MissingHandlers(table map[models.JobType]Handler) []models.JobType {
	var missing []models.JobType
	for _, t := range models.JobTypes {
		if table[t] == nil {
			missing = append(missing, t)
		}
	}
	return missing
}

// Execute runs job and records exactly one terminal transition for it.
// Errors are logged and recorded on the job, never returned.
func (e *Executor) Execute(ctx context.Context, job models.Job) Outcome {
	log := e.logger.With(
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.String("job_type", string(job.Type)),
	)

	// Terminal writes must land even if ctx is cancelled during shutdown.
	writeCtx := context.WithoutCancel(ctx)

	if e.pre != nil {
		ok, reason, err := e.pre.Check(ctx, job)
		if err != nil {
			log.Error("precondition check failed, leaving job pending", slog.String("error", err.Error()))
			return OutcomeDeferred
		}
		if !ok {
			if err := e.store.MarkJobSkipped(writeCtx, job.ID, reason); err != nil {
				if errors.Is(err, store.ErrInvalidTransition) {
					log.Info("job no longer pending, not skipping")
					return OutcomeNotRun
				}
				log.Error("marking job skipped", slog.String("error", err.Error()))
				return OutcomeDeferred
			}
			log.Info("job skipped", slog.String("reason", reason))
			e.record(writeCtx, job, OutcomeSkipped, reason)
			return OutcomeSkipped
		}
	}

	if err := e.store.MarkJobStarted(writeCtx, job.ID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Info("job no longer pending, not running")
			return OutcomeNotRun
		}
		log.Error("marking job started", slog.String("error", err.Error()))
		return OutcomeDeferred
	}

	handler := e.handlers[job.Type]
	if handler == nil {
		return e.fail(writeCtx, log, job, fmt.Sprintf("no handler registered for job type %q", job.Type))
	}

	start := time.Now()
	result, err := e.run(ctx, handler, job)
	if err != nil {
		return e.fail(writeCtx, log, job, err.Error())
	}

	if err := e.store.MarkJobCompleted(writeCtx, job.ID, result); err != nil {
		log.Error("marking job completed", slog.String("error", err.Error()))
		return e.fail(writeCtx, log, job, "recording completion: "+err.Error())
	}

	log.Info("job completed",
		slog.Int("thoughts_generated", result.ThoughtsGenerated),
		slog.Int("research_tasks_created", result.ResearchTasksCreated),
		slog.Duration("elapsed", time.Since(start)),
	)
	e.record(writeCtx, job, OutcomeCompleted, fmt.Sprintf("thoughts=%d research_tasks=%d",
		result.ThoughtsGenerated, result.ResearchTasksCreated))
	return OutcomeCompleted
}

// run invokes the handler, converting panics to errors. With a timeout set the
// handler runs in its own goroutine so an overrunning handler cannot hold the
// caller past the deadline.
func (e *Executor) run(ctx context.Context, h Handler, job models.Job) (models.JobResult, error) {
	if e.timeout <= 0 {
		return invoke(ctx, h, job)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result models.JobResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := invoke(runCtx, h, job)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return models.JobResult{}, ctx.Err()
		}
		return models.JobResult{}, fmt.Errorf("job exceeded timeout of %s", e.timeout)
	}
}

func invoke(ctx context.Context, h Handler, job models.Job) (res models.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job.UserID, job.ID)
}

func (e *Executor) fail(ctx context.Context, log *slog.Logger, job models.Job, msg string) Outcome {
	if err := e.store.MarkJobFailed(ctx, job.ID, msg); err != nil {
		log.Error("marking job failed", slog.String("error", err.Error()), slog.String("cause", msg))
		return OutcomeFailed
	}
	log.Warn("job failed", slog.String("error", msg))
	e.record(ctx, job, OutcomeFailed, msg)
	return OutcomeFailed
}

func (e *Executor) record(ctx context.Context, job models.Job, outcome Outcome, details string) {
	inputs := map[string]any{
		"job_id":        job.ID,
		"user_id":       job.UserID,
		"job_type":      job.Type,
		"scheduled_for": job.ScheduledFor,
	}
	if _, err := e.recorder.Record(ctx, "job.execute", inputs, string(outcome), job.ID, details); err != nil {
		e.logger.Warn("recording decision", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}
