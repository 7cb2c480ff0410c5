package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fentz26/circadia/internal/models"
	"github.com/google/uuid"
)

const taskColumns = `id, user_id, query, approach, depth, priority, status, attempt_count, last_attempted_at,
	result_summary, error_message, source_job_id, created_at, updated_at, completed_at`

// CreateResearchTask enqueues a pending research task.
func (s *Store) CreateResearchTask(ctx context.Context, t models.ResearchTask) (*models.ResearchTask, error) {
	now := s.now().UTC()
	t.ID = uuid.New().String()
	t.Status = models.TaskStatusPending
	t.AttemptCount = 0
	t.LastAttemptedAt = nil
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Depth == "" {
		t.Depth = models.DepthShallow
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_tasks (id, user_id, query, approach, depth, priority, status, source_job_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Query, t.Approach, t.Depth, t.Priority, t.Status, nullString(t.SourceJobID),
		toMillis(t.CreatedAt), toMillis(t.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert research task: %w", err)
	}
	return &t, nil
}

// ResetStuckTasks returns in-progress tasks whose last attempt is older than
// threshold to pending, and reports how many were reclaimed. A reclaimed task
// is no longer in progress, so it is reset at most once per stale period.
func (s *Store) ResetStuckTasks(ctx context.Context, threshold time.Duration) (int, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_tasks SET status = ?, updated_at = ? WHERE status = ? AND last_attempted_at < ?`,
		models.TaskStatusPending, toMillis(now), models.TaskStatusInProgress, toMillis(now.Add(-threshold)),
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// GetPendingTasks returns up to limit pending tasks, highest priority first.
func (s *Store) GetPendingTasks(ctx context.Context, limit int) ([]models.ResearchTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM research_tasks WHERE status = ? ORDER BY priority DESC, created_at, id LIMIT ?`,
		models.TaskStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// GetTask retrieves a research task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*models.ResearchTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM research_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query research task: %w", err)
	}
	return t, nil
}

// ListTasks returns research tasks, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status models.TaskStatus, limit int) ([]models.ResearchTask, error) {
	query := `SELECT ` + taskColumns + ` FROM research_tasks`
	var args []any

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query research tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// TaskStats counts research tasks per status.
func (s *Store) TaskStats(ctx context.Context) (map[models.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM research_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status models.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task stats: %w", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// MarkTaskStarted claims a pending task: in_progress, one more attempt,
// last_attempted_at = now.
func (s *Store) MarkTaskStarted(ctx context.Context, id string) error {
	now := toMillis(s.now())
	return s.transitionTask(ctx, id,
		`UPDATE research_tasks SET status = ?, attempt_count = attempt_count + 1, last_attempted_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.TaskStatusInProgress, now, now, id, models.TaskStatusPending)
}

// MarkTaskCompleted moves an in-progress task to completed.
func (s *Store) MarkTaskCompleted(ctx context.Context, id, summary string) error {
	now := toMillis(s.now())
	return s.transitionTask(ctx, id,
		`UPDATE research_tasks SET status = ?, result_summary = ?, error_message = NULL, updated_at = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		models.TaskStatusCompleted, summary, now, now, id, models.TaskStatusInProgress)
}

// MarkTaskFailed moves a pending or in-progress task to failed.
func (s *Store) MarkTaskFailed(ctx context.Context, id, errorMessage string) error {
	now := toMillis(s.now())
	return s.transitionTask(ctx, id,
		`UPDATE research_tasks SET status = ?, error_message = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		models.TaskStatusFailed, errorMessage, now, now, id, models.TaskStatusPending, models.TaskStatusInProgress)
}

func (s *Store) transitionTask(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update research task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: research task %s is %s", ErrInvalidTransition, id, t.Status)
}

func collectTasks(rows *sql.Rows) ([]models.ResearchTask, error) {
	var tasks []models.ResearchTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan research task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*models.ResearchTask, error) {
	var t models.ResearchTask
	var lastAttempted, completedAt sql.NullInt64
	var summary, errMsg, sourceJob sql.NullString
	var created, updated int64

	err := row.Scan(&t.ID, &t.UserID, &t.Query, &t.Approach, &t.Depth, &t.Priority, &t.Status, &t.AttemptCount,
		&lastAttempted, &summary, &errMsg, &sourceJob, &created, &updated, &completedAt)
	if err != nil {
		return nil, err
	}
	t.LastAttemptedAt = millisPtr(lastAttempted)
	t.CompletedAt = millisPtr(completedAt)
	t.ResultSummary = summary.String
	t.ErrorMessage = errMsg.String
	t.SourceJobID = sourceJob.String
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}
