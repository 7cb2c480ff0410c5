// Package controlplane provides the admin HTTP API and service layer for Circadia.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fentz26/circadia/internal/audit"
	"github.com/fentz26/circadia/internal/models"
	"github.com/fentz26/circadia/internal/research"
	"github.com/fentz26/circadia/internal/scheduler"
	"github.com/fentz26/circadia/internal/store"
)

const defaultListLimit = 100

// Service provides the control plane business logic.
type Service struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	runner    *research.Runner
	recorder  *audit.Recorder
}

// NewService creates a new control plane service. runner may be nil when
// research is disabled.
func NewService(s *store.Store, sched *scheduler.Scheduler, runner *research.Runner, recorder *audit.Recorder) *Service {
	return &Service{
		store:     s,
		scheduler: sched,
		runner:    runner,
		recorder:  recorder,
	}
}

// --- Job Operations ---

// ListJobs returns jobs filtered by status and user.
func (s *Service) ListJobs(ctx context.Context, status, userID string) ([]models.Job, error) {
	st := models.JobStatus(status)
	if status != "" && !st.IsTerminal() && st != models.JobStatusPending && st != models.JobStatusRunning {
		return nil, fmt.Errorf("%w: unknown job status %q", ErrInvalidInput, status)
	}
	return s.store.ListJobs(ctx, store.JobFilter{Status: st, UserID: userID, Limit: defaultListLimit})
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return job, err
}

// --- Research Task Operations ---

// CreateTaskRequest enqueues a research task.
type CreateTaskRequest struct {
	UserID   string       `json:"user_id"`
	Query    string       `json:"query"`
	Approach string       `json:"approach"`
	Depth    models.Depth `json:"depth"`
	Priority int          `json:"priority"`
}

// CreateTask validates and enqueues a research task.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*models.ResearchTask, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.UserID == "" || req.Query == "" {
		return nil, fmt.Errorf("%w: user_id and query are required", ErrInvalidInput)
	}
	if req.Depth != "" && req.Depth != models.DepthShallow && req.Depth != models.DepthDeep {
		return nil, fmt.Errorf("%w: depth must be shallow or deep", ErrInvalidInput)
	}

	task, err := s.store.CreateResearchTask(ctx, models.ResearchTask{
		UserID:   req.UserID,
		Query:    req.Query,
		Approach: req.Approach,
		Depth:    req.Depth,
		Priority: req.Priority,
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, "task.create", req, "success", task.ID, "")
	return task, nil
}

// ListTasks returns research tasks, optionally filtered by status.
func (s *Service) ListTasks(ctx context.Context, status string) ([]models.ResearchTask, error) {
	switch models.TaskStatus(status) {
	case "", models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusCompleted, models.TaskStatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown task status %q", ErrInvalidInput, status)
	}
	return s.store.ListTasks(ctx, models.TaskStatus(status), defaultListLimit)
}

// --- User Operations ---

// RegisterUserRequest creates or updates a user.
type RegisterUserRequest struct {
	ID                string `json:"id"`
	Timezone          string `json:"timezone"`
	AutonomousEnabled *bool  `json:"autonomous_enabled"`
}

// RegisterUserResponse reports the user and how many jobs were scheduled.
type RegisterUserResponse struct {
	User          *models.User `json:"user"`
	JobsScheduled int          `json:"jobs_scheduled"`
}

// RegisterUser upserts a user and, if autonomous jobs are enabled, schedules
// today's and tomorrow's job sets right away.
func (s *Service) RegisterUser(ctx context.Context, req RegisterUserRequest) (*RegisterUserResponse, error) {
	enabled := true
	if req.AutonomousEnabled != nil {
		enabled = *req.AutonomousEnabled
	}

	user, err := s.store.UpsertUser(ctx, models.User{ID: req.ID, Timezone: req.Timezone, AutonomousEnabled: enabled})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTimezone) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}

	resp := &RegisterUserResponse{User: user}
	if user.AutonomousEnabled {
		n, err := s.scheduler.ScheduleForNewUser(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("schedule jobs: %w", err)
		}
		resp.JobsScheduled = n
	}

	s.recorder.Record(ctx, "user.register", req, "success", user.ID, fmt.Sprintf("jobs_scheduled=%d", resp.JobsScheduled))
	return resp, nil
}

// ListThoughts returns a user's most recent thoughts.
func (s *Service) ListThoughts(ctx context.Context, userID string, limit int) ([]models.Thought, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.store.ListThoughts(ctx, userID, limit)
}

// --- Stats ---

// StatsResponse aggregates scheduler, runner and queue state.
type StatsResponse struct {
	Scheduler scheduler.Stats           `json:"scheduler"`
	Research  *research.Stats           `json:"research,omitempty"`
	Jobs      map[models.JobStatus]int  `json:"jobs"`
	Tasks     map[models.TaskStatus]int `json:"tasks"`
}

// Stats returns a snapshot of the engine.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	jobs, err := s.store.JobStats(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.TaskStats(ctx)
	if err != nil {
		return nil, err
	}

	resp := &StatsResponse{
		Scheduler: s.scheduler.Stats(),
		Jobs:      jobs,
		Tasks:     tasks,
	}
	if s.runner != nil {
		rs := s.runner.Stats()
		resp.Research = &rs
	}
	return resp, nil
}
