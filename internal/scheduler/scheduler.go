package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/circadia/internal/executor"
	"github.com/fentz26/circadia/internal/guard"
	"github.com/fentz26/circadia/internal/models"
	"golang.org/x/sync/semaphore"
)

// Store is the job persistence the scheduler reads from.
type Store interface {
	ListEligibleUsers(ctx context.Context, activeWithin time.Duration) ([]models.User, error)
	ScheduleJobsForUser(ctx context.Context, userID string, date time.Time) ([]models.Job, error)
	GetDueJobs(ctx context.Context) ([]models.Job, error)
}

// JobRunner executes one job to a terminal state.
type JobRunner interface {
	Execute(ctx context.Context, job models.Job) executor.Outcome
}

// GenerateSummary reports one generation pass.
type GenerateSummary struct {
	Users     int `json:"users"`
	Scheduled int `json:"scheduled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// DispatchSummary reports one dispatch tick.
type DispatchSummary struct {
	Due     int `json:"due"`
	Users   int `json:"users"`
	Started int `json:"started"`
	Busy    int `json:"busy"`
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	ActiveUsers        int             `json:"active_users"`
	MaxConcurrentUsers int             `json:"max_concurrent_users"`
	Completed          int             `json:"completed"`
	Failed             int             `json:"failed"`
	Skipped            int             `json:"skipped"`
	NotRun             int             `json:"not_run"`
	Deferred           int             `json:"deferred"`
	LastGeneration     GenerateSummary `json:"last_generation"`
	LastGenerationAt   *time.Time      `json:"last_generation_at,omitempty"`
	LastDispatch       DispatchSummary `json:"last_dispatch"`
	LastDispatchAt     *time.Time      `json:"last_dispatch_at,omitempty"`
}

// Scheduler owns the generation and dispatch timers.
type Scheduler struct {
	store  Store
	exec   JobRunner
	guard  *guard.UserGuard
	config *Config
	logger *slog.Logger
	now    func() time.Time
	sem    *semaphore.Weighted

	mu               sync.Mutex
	outcomes         map[executor.Outcome]int
	lastGeneration   GenerateSummary
	lastGenerationAt time.Time
	lastDispatch     DispatchSummary
	lastDispatchAt   time.Time

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	workers sync.WaitGroup
}

// New creates a new scheduler. A nil guard gets a fresh one.
func New(s Store, exec JobRunner, g *guard.UserGuard, cfg *Config, logger *slog.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()
	if g == nil {
		g = guard.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:    s,
		exec:     exec,
		guard:    g,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentUsers)),
		outcomes: make(map[executor.Outcome]int),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs generation once immediately, then starts both timers.
func (sch *Scheduler) Start() {
	sch.loops.Add(2)
	go sch.generationLoop()
	go sch.dispatchLoop()
	sch.logger.Info("scheduler started",
		slog.Duration("dispatch_interval", sch.config.DispatchInterval),
		slog.Duration("generation_interval", sch.config.GenerationInterval),
		slog.Int("max_concurrent_users", sch.config.MaxConcurrentUsers),
	)
}

// Stop halts both timers and waits for in-flight jobs to finish. Jobs not yet
// started in a user's sequence stay pending for the next process.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.loops.Wait()
	sch.workers.Wait()
	sch.logger.Info("scheduler stopped")
}

// Wait blocks until every dispatched user sequence has finished.
func (sch *Scheduler) Wait() {
	sch.workers.Wait()
}

func (sch *Scheduler) generationLoop() {
	defer sch.loops.Done()

	sch.RunGeneration(sch.ctx)

	ticker := time.NewTicker(sch.config.GenerationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.RunGeneration(sch.ctx)
		}
	}
}

func (sch *Scheduler) dispatchLoop() {
	defer sch.loops.Done()

	ticker := time.NewTicker(sch.config.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.RunDispatch(sch.ctx)
		}
	}
}

// RunGeneration materializes today's and tomorrow's job sets for every
// eligible user. A failure for one user is logged and does not stop the rest.
func (sch *Scheduler) RunGeneration(ctx context.Context) GenerateSummary {
	var summary GenerateSummary

	users, err := sch.store.ListEligibleUsers(ctx, sch.config.ActiveWithin)
	if err != nil {
		sch.logger.Error("listing eligible users", slog.String("error", err.Error()))
		return summary
	}
	summary.Users = len(users)

	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		n, err := sch.scheduleDays(ctx, u.ID)
		if err != nil {
			summary.Failed++
			sch.logger.Error("generating jobs for user",
				slog.String("user_id", u.ID), slog.String("error", err.Error()))
			continue
		}
		if n == 0 {
			summary.Skipped++
			continue
		}
		summary.Scheduled += n
	}

	sch.mu.Lock()
	sch.lastGeneration = summary
	sch.lastGenerationAt = sch.now()
	sch.mu.Unlock()

	sch.logger.Info("job generation complete",
		slog.Int("users", summary.Users),
		slog.Int("scheduled", summary.Scheduled),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)
	return summary
}

// ScheduleForNewUser generates the job set for a user who just signed up,
// without waiting for the next daily pass.
func (sch *Scheduler) ScheduleForNewUser(ctx context.Context, userID string) (int, error) {
	n, err := sch.scheduleDays(ctx, userID)
	if err != nil {
		return n, err
	}
	sch.logger.Info("scheduled jobs for new user", slog.String("user_id", userID), slog.Int("scheduled", n))
	return n, nil
}

func (sch *Scheduler) scheduleDays(ctx context.Context, userID string) (int, error) {
	now := sch.now()
	total := 0
	for _, day := range []time.Time{now, now.Add(24 * time.Hour)} {
		jobs, err := sch.store.ScheduleJobsForUser(ctx, userID, day)
		if err != nil {
			return total, fmt.Errorf("schedule %s: %w", day.Format(time.DateOnly), err)
		}
		total += len(jobs)
	}
	return total, nil
}

type userJobs struct {
	userID string
	jobs   []models.Job
}

// groupByUser keeps each user's jobs in the order given.
func groupByUser(jobs []models.Job) []userJobs {
	index := make(map[string]int)
	var groups []userJobs
	for _, j := range jobs {
		i, ok := index[j.UserID]
		if !ok {
			i = len(groups)
			index[j.UserID] = i
			groups = append(groups, userJobs{userID: j.UserID})
		}
		groups[i].jobs = append(groups[i].jobs, j)
	}
	return groups
}

// RunDispatch fetches due jobs and starts one sequential worker per idle
// user. Users that already have a sequence in flight are left for the next
// tick. It returns once workers are started; use Wait to await them.
func (sch *Scheduler) RunDispatch(ctx context.Context) DispatchSummary {
	var summary DispatchSummary

	jobs, err := sch.store.GetDueJobs(ctx)
	if err != nil {
		sch.logger.Error("fetching due jobs", slog.String("error", err.Error()))
		return summary
	}
	summary.Due = len(jobs)

	groups := groupByUser(jobs)
	summary.Users = len(groups)

	for _, g := range groups {
		lock, ok := sch.guard.TryAcquire(g.userID)
		if !ok {
			summary.Busy++
			sch.logger.Debug("user busy, deferring jobs",
				slog.String("user_id", g.userID), slog.Int("due", len(g.jobs)))
			continue
		}

		// Blocks while MaxConcurrentUsers sequences are running.
		if err := sch.sem.Acquire(ctx, 1); err != nil {
			lock.Release()
			break
		}

		summary.Started++
		sch.workers.Add(1)
		go sch.runUser(lock, g.jobs)
	}

	sch.mu.Lock()
	sch.lastDispatch = summary
	sch.lastDispatchAt = sch.now()
	sch.mu.Unlock()

	if summary.Due > 0 {
		sch.logger.Info("dispatch tick",
			slog.Int("due", summary.Due),
			slog.Int("users", summary.Users),
			slog.Int("started", summary.Started),
			slog.Int("busy", summary.Busy),
		)
	}
	return summary
}

// runUser executes one user's due jobs strictly in order. The user lock and
// the pool slot are released on every exit path.
func (sch *Scheduler) runUser(lock *guard.Lock, jobs []models.Job) {
	defer sch.workers.Done()
	defer sch.sem.Release(1)
	defer lock.Release()
	defer func() {
		if r := recover(); r != nil {
			sch.logger.Error("user sequence panicked",
				slog.String("user_id", lock.UserID()), slog.Any("panic", r))
		}
	}()

	// In-flight jobs run to completion on shutdown.
	runCtx := context.WithoutCancel(sch.ctx)

	for _, job := range jobs {
		if sch.ctx.Err() != nil {
			sch.logger.Info("shutdown, leaving remaining jobs pending",
				slog.String("user_id", lock.UserID()))
			return
		}
		outcome := sch.exec.Execute(runCtx, job)

		sch.mu.Lock()
		sch.outcomes[outcome]++
		sch.mu.Unlock()

		// A job still pending blocks the rest of the sequence until the next tick.
		if outcome == executor.OutcomeDeferred {
			sch.logger.Warn("job deferred, leaving later jobs pending",
				slog.String("user_id", lock.UserID()), slog.String("job_id", job.ID))
			return
		}
	}
}

// Stats returns current scheduler statistics.
func (sch *Scheduler) Stats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	st := Stats{
		ActiveUsers:        sch.guard.Len(),
		MaxConcurrentUsers: sch.config.MaxConcurrentUsers,
		Completed:          sch.outcomes[executor.OutcomeCompleted],
		Failed:             sch.outcomes[executor.OutcomeFailed],
		Skipped:            sch.outcomes[executor.OutcomeSkipped],
		NotRun:             sch.outcomes[executor.OutcomeNotRun],
		Deferred:           sch.outcomes[executor.OutcomeDeferred],
		LastGeneration:     sch.lastGeneration,
		LastDispatch:       sch.lastDispatch,
	}
	if !sch.lastGenerationAt.IsZero() {
		t := sch.lastGenerationAt
		st.LastGenerationAt = &t
	}
	if !sch.lastDispatchAt.IsZero() {
		t := sch.lastDispatchAt
		st.LastDispatchAt = &t
	}
	return st
}
