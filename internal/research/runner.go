// Package research drains the research task queue in bounded,
// non-overlapping batches.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/circadia/internal/audit"
	"github.com/fentz26/circadia/internal/connectors"
	"github.com/fentz26/circadia/internal/models"
	"github.com/fentz26/circadia/internal/retry"
)

// TaskStore is the task persistence the runner consumes.
type TaskStore interface {
	ResetStuckTasks(ctx context.Context, threshold time.Duration) (int, error)
	GetPendingTasks(ctx context.Context, limit int) ([]models.ResearchTask, error)
	MarkTaskStarted(ctx context.Context, id string) error
	MarkTaskCompleted(ctx context.Context, id, summary string) error
	MarkTaskFailed(ctx context.Context, id, errorMessage string) error
	AddThought(ctx context.Context, t models.Thought) (*models.Thought, error)
}

// Config defines the runner configuration.
type Config struct {
	Interval       time.Duration
	BatchSize      int
	StaleAfter     time.Duration
	ShallowTimeout time.Duration
	DeepTimeout    time.Duration
	// Retry supplies attempts and backoff; its Timeout is replaced per task depth.
	Retry retry.Policy
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:       5 * time.Minute,
		BatchSize:      5,
		StaleAfter:     10 * time.Minute,
		ShallowTimeout: 45 * time.Second,
		DeepTimeout:    60 * time.Second,
		Retry:          retry.DefaultPolicy(),
	}
}

func (c *Config) timeoutFor(d models.Depth) time.Duration {
	if d == models.DepthDeep {
		return c.DeepTimeout
	}
	return c.ShallowTimeout
}

// Summary reports one batch. Processed counts tasks that reached a terminal
// state. Unclaimed tasks could not be marked started and stay untouched;
// interrupted tasks stay in progress until reclaimed.
type Summary struct {
	Processed   int  `json:"processed"`
	Successful  int  `json:"successful"`
	Failed      int  `json:"failed"`
	Unclaimed   int  `json:"unclaimed"`
	Interrupted int  `json:"interrupted"`
	Reclaimed   int  `json:"reclaimed"`
	Overlapped  bool `json:"overlapped,omitempty"`
}

var (
	errNotClaimed  = errors.New("task not claimed")
	errInterrupted = errors.New("task interrupted")
)

// Stats is a point-in-time snapshot of runner state.
type Stats struct {
	Running     bool       `json:"running"`
	Runs        int        `json:"runs"`
	Overlaps    int        `json:"overlaps"`
	Processed   int        `json:"processed"`
	Successful  int        `json:"successful"`
	Failed      int        `json:"failed"`
	Unclaimed   int        `json:"unclaimed"`
	Interrupted int        `json:"interrupted"`
	Reclaimed   int        `json:"reclaimed"`
	LastRun     Summary    `json:"last_run"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// Runner processes pending research tasks.
type Runner struct {
	store    TaskStore
	searcher connectors.Searcher
	analyzer Analyzer
	recorder *audit.Recorder
	config   *Config
	logger   *slog.Logger

	running atomic.Bool

	mu    sync.Mutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. A nil analyzer uses SnippetAnalyzer.
func NewRunner(s TaskStore, searcher connectors.Searcher, analyzer Analyzer, recorder *audit.Recorder, cfg *Config, logger *slog.Logger) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if analyzer == nil {
		analyzer = SnippetAnalyzer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:    s,
		searcher: searcher,
		analyzer: analyzer,
		recorder: recorder,
		config:   cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins periodic batches.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
	r.logger.Info("research runner started",
		slog.Duration("interval", r.config.Interval),
		slog.Int("batch_size", r.config.BatchSize),
	)
}

// Stop halts the timer and waits for the current batch to return.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("research runner stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			// Run in its own goroutine so a slow batch lets the next tick
			// observe the single-flight flag.
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.RunOnce(r.ctx)
			}()
		}
	}
}

// RunOnce reclaims stuck tasks, then processes up to BatchSize pending tasks
// one at a time. If a batch is already running it returns immediately with
// an empty, overlapped summary.
func (r *Runner) RunOnce(ctx context.Context) Summary {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Info("research batch still running, skipping tick")
		r.mu.Lock()
		r.stats.Overlaps++
		r.mu.Unlock()
		return Summary{Overlapped: true}
	}
	defer r.running.Store(false)

	var summary Summary
	defer func() { r.finish(summary) }()

	n, err := r.store.ResetStuckTasks(ctx, r.config.StaleAfter)
	if err != nil {
		r.logger.Error("resetting stuck tasks", slog.String("error", err.Error()))
	} else if n > 0 {
		summary.Reclaimed = n
		r.logger.Warn("reclaimed stuck research tasks", slog.Int("count", n))
	}

	tasks, err := r.store.GetPendingTasks(ctx, r.config.BatchSize)
	if err != nil {
		r.logger.Error("fetching pending tasks", slog.String("error", err.Error()))
		return summary
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		err := r.process(ctx, task)
		switch {
		case errors.Is(err, errNotClaimed):
			summary.Unclaimed++
		case errors.Is(err, errInterrupted):
			summary.Interrupted++
		case err != nil:
			summary.Processed++
			summary.Failed++
		default:
			summary.Processed++
			summary.Successful++
		}
	}

	if summary.Processed > 0 || summary.Unclaimed > 0 || summary.Interrupted > 0 {
		r.logger.Info("research batch complete",
			slog.Int("processed", summary.Processed),
			slog.Int("successful", summary.Successful),
			slog.Int("failed", summary.Failed),
			slog.Int("unclaimed", summary.Unclaimed),
			slog.Int("interrupted", summary.Interrupted),
		)
	}
	return summary
}

func (r *Runner) finish(s Summary) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Runs++
	r.stats.Processed += s.Processed
	r.stats.Successful += s.Successful
	r.stats.Failed += s.Failed
	r.stats.Unclaimed += s.Unclaimed
	r.stats.Interrupted += s.Interrupted
	r.stats.Reclaimed += s.Reclaimed
	r.stats.LastRun = s
	r.stats.LastRunAt = &now
}

// process runs one task to a terminal state. It returns errNotClaimed when
// the task could not be marked started, and errInterrupted when shutdown
// left the task in progress for stuck-task reclamation.
func (r *Runner) process(ctx context.Context, task models.ResearchTask) (err error) {
	log := r.logger.With(
		slog.String("task_id", task.ID),
		slog.String("user_id", task.UserID),
		slog.String("depth", string(task.Depth)),
	)
	writeCtx := context.WithoutCancel(ctx)

	if err := r.store.MarkTaskStarted(writeCtx, task.ID); err != nil {
		log.Warn("task not claimed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", errNotClaimed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("research task panic: %v", p)
		}
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			log.Warn("research task interrupted", slog.String("error", err.Error()))
			err = fmt.Errorf("%w: %w", errInterrupted, err)
			return
		}
		if markErr := r.store.MarkTaskFailed(writeCtx, task.ID, err.Error()); markErr != nil {
			log.Error("marking task failed", slog.String("error", markErr.Error()))
		}
		log.Warn("research task failed", slog.String("error", err.Error()))
		r.record(writeCtx, task, "failed", err.Error())
	}()

	policy := r.config.Retry.WithTimeout(r.config.timeoutFor(task.Depth))
	policy.Logger = log
	req := connectors.SearchRequest{Query: task.Query, Depth: task.Depth}

	results, err := retry.Do(ctx, policy, func(ctx context.Context) ([]connectors.SearchResult, error) {
		return r.searcher.Search(ctx, req)
	})
	if err != nil {
		return err
	}

	analysis, err := r.analyzer.Analyze(ctx, task, results)
	if err != nil {
		return fmt.Errorf("analyze results: %w", err)
	}

	if analysis.Finding != "" {
		if _, err := r.store.AddThought(writeCtx, models.Thought{
			UserID:  task.UserID,
			JobID:   task.SourceJobID,
			TaskID:  task.ID,
			Kind:    "finding",
			Content: analysis.Finding,
		}); err != nil {
			return fmt.Errorf("save finding: %w", err)
		}
	}

	if err := r.store.MarkTaskCompleted(writeCtx, task.ID, analysis.Summary); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	log.Info("research task completed", slog.Int("results", len(results)))
	r.record(writeCtx, task, "completed", analysis.Summary)
	return nil
}

func (r *Runner) record(ctx context.Context, task models.ResearchTask, outcome, details string) {
	inputs := map[string]any{
		"task_id": task.ID,
		"query":   task.Query,
		"depth":   task.Depth,
		"attempt": task.AttemptCount + 1,
	}
	if _, err := r.recorder.Record(ctx, "research.task", inputs, outcome, task.ID, details); err != nil {
		r.logger.Warn("recording decision", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}
}

// Stats returns current runner statistics.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	st.Running = r.running.Load()
	return st
}
