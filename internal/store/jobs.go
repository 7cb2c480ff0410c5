package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/circadia/internal/models"
	"github.com/google/uuid"
)

const jobColumns = `id, user_id, job_type, status, schedule_date, scheduled_for, started_at, completed_at,
	error_message, skip_reason, thoughts_generated, research_tasks_created, created_at`

// dayLayout formats the local calendar day a circadian job belongs to.
const dayLayout = "2006-01-02"

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status models.JobStatus
	UserID string
	Limit  int
}

// ScheduleJobsForUser materializes the circadian job set for the user's local
// calendar day containing date. It is idempotent: a slot that already has a
// job for that day is left untouched, and slots whose time has already passed
// are not created. Only newly created jobs are returned.
func (s *Store) ScheduleJobsForUser(ctx context.Context, userID string, date time.Time) ([]models.Job, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	loc := user.Location()
	local := date.In(loc)
	y, m, d := local.Date()
	day := local.Format(dayLayout)
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var created []models.Job
	for _, slot := range models.CircadianSlots {
		at := time.Date(y, m, d, slot.Hour, slot.Minute, 0, 0, loc).UTC()
		if at.Before(now) {
			continue
		}

		job := models.Job{
			ID:           uuid.New().String(),
			UserID:       userID,
			Type:         slot.Type,
			Status:       models.JobStatusPending,
			ScheduleDate: day,
			ScheduledFor: at,
			CreatedAt:    now,
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO jobs (id, user_id, job_type, status, schedule_date, scheduled_for, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.UserID, job.Type, job.Status, job.ScheduleDate, toMillis(job.ScheduledFor), toMillis(job.CreatedAt),
		)
		if err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("check rows affected: %w", err)
		}
		if n == 1 {
			created = append(created, job)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return created, nil
}

// CreateJob inserts a single ad-hoc pending job outside the daily set.
func (s *Store) CreateJob(ctx context.Context, userID string, jobType models.JobType, scheduledFor time.Time) (*models.Job, error) {
	now := s.now().UTC()
	job := &models.Job{
		ID:           uuid.New().String(),
		UserID:       userID,
		Type:         jobType,
		Status:       models.JobStatusPending,
		ScheduledFor: scheduledFor.UTC().Truncate(time.Millisecond),
		CreatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, job_type, status, scheduled_for, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.Type, job.Status, toMillis(job.ScheduledFor), toMillis(job.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetDueJobs returns all pending jobs whose scheduled time has passed,
// ordered by scheduled time.
func (s *Store) GetDueJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND scheduled_for <= ? ORDER BY scheduled_for, created_at, id`,
		models.JobStatusPending, toMillis(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, most recently scheduled first.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var where []string
	var args []any

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_for DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// JobStats counts jobs per status.
func (s *Store) JobStats(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// --- Job Transitions ---
//
// Each transition is a single UPDATE guarded on the current status, so a job
// can never move backwards or be started twice.

// MarkJobStarted moves a pending job to running.
func (s *Store) MarkJobStarted(ctx context.Context, id string) error {
	return s.transitionJob(ctx, id, []models.JobStatus{models.JobStatusPending},
		`status = ?, started_at = ?`, models.JobStatusRunning, toMillis(s.now()))
}

// MarkJobCompleted moves a running job to completed and records its counters.
func (s *Store) MarkJobCompleted(ctx context.Context, id string, result models.JobResult) error {
	return s.transitionJob(ctx, id, []models.JobStatus{models.JobStatusRunning},
		`status = ?, completed_at = ?, thoughts_generated = ?, research_tasks_created = ?`,
		models.JobStatusCompleted, toMillis(s.now()), result.ThoughtsGenerated, result.ResearchTasksCreated)
}

// MarkJobFailed moves a pending or running job to failed with the given message.
func (s *Store) MarkJobFailed(ctx context.Context, id, errorMessage string) error {
	return s.transitionJob(ctx, id, []models.JobStatus{models.JobStatusPending, models.JobStatusRunning},
		`status = ?, completed_at = ?, error_message = ?`,
		models.JobStatusFailed, toMillis(s.now()), errorMessage)
}

// MarkJobSkipped moves a pending or running job to skipped. The reason is
// kept apart from error_message: a skip is not a failure.
func (s *Store) MarkJobSkipped(ctx context.Context, id, reason string) error {
	return s.transitionJob(ctx, id, []models.JobStatus{models.JobStatusPending, models.JobStatusRunning},
		`status = ?, completed_at = ?, skip_reason = ?`,
		models.JobStatusSkipped, toMillis(s.now()), reason)
}

func (s *Store) transitionJob(ctx context.Context, id string, from []models.JobStatus, set string, args ...any) error {
	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, st)
	}
	query := `UPDATE jobs SET ` + set + ` WHERE status IN (` + strings.Join(placeholders, ", ") + `) AND id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
}

func collectJobs(rows *sql.Rows) ([]models.Job, error) {
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var scheduledFor, created int64
	var startedAt, completedAt sql.NullInt64
	var errMsg, skipReason sql.NullString

	err := row.Scan(&job.ID, &job.UserID, &job.Type, &job.Status, &job.ScheduleDate, &scheduledFor,
		&startedAt, &completedAt, &errMsg, &skipReason, &job.ThoughtsGenerated, &job.ResearchTasksCreated, &created)
	if err != nil {
		return nil, err
	}
	job.ScheduledFor = fromMillis(scheduledFor)
	job.CreatedAt = fromMillis(created)
	job.StartedAt = millisPtr(startedAt)
	job.CompletedAt = millisPtr(completedAt)
	job.ErrorMessage = errMsg.String
	job.SkipReason = skipReason.String
	return &job, nil
}
