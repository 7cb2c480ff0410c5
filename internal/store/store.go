// Package store provides SQLite-backed persistence for Circadia.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/circadia/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition indicates a guarded status update matched no row
	// because the record was not in an allowed source state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidTimezone indicates a user's timezone is not a loadable IANA name.
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// Store provides access to the Circadia SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps and due/stale checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new Store and runs migrations.
func New(dbPath string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode so the API can read while the scheduler writes
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
// Timestamps are stored as unix milliseconds so range comparisons are numeric.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		autonomous_enabled INTEGER NOT NULL DEFAULT 1,
		last_active_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		schedule_date TEXT NOT NULL DEFAULT '',
		scheduled_for INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		error_message TEXT,
		skip_reason TEXT,
		thoughts_generated INTEGER NOT NULL DEFAULT 0,
		research_tasks_created INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS research_tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		query TEXT NOT NULL,
		approach TEXT NOT NULL DEFAULT '',
		depth TEXT NOT NULL DEFAULT 'shallow',
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_attempted_at INTEGER,
		result_summary TEXT,
		error_message TEXT,
		source_job_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS thoughts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		job_id TEXT,
		task_id TEXT,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject_id TEXT,
		details TEXT,
		timestamp INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uq_jobs_user_type_day ON jobs(user_id, job_type, schedule_date) WHERE schedule_date != '';
	CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, scheduled_for);
	CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON research_tasks(status, priority);
	CREATE INDEX IF NOT EXISTS idx_thoughts_user ON thoughts(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_users_active ON users(autonomous_enabled, last_active_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- User Operations ---

const userColumns = `id, timezone, autonomous_enabled, last_active_at, created_at`

// UpsertUser inserts a user or updates its scheduling attributes.
func (s *Store) UpsertUser(ctx context.Context, u models.User) (*models.User, error) {
	now := s.now().UTC()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(u.Timezone); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTimezone, u.Timezone, err)
	}
	if u.LastActiveAt.IsZero() {
		u.LastActiveAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, timezone, autonomous_enabled, last_active_at, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET timezone = excluded.timezone, autonomous_enabled = excluded.autonomous_enabled, last_active_at = excluded.last_active_at`,
		u.ID, u.Timezone, u.AutonomousEnabled, toMillis(u.LastActiveAt), toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUser(ctx, u.ID)
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// TouchUser records user activity now.
func (s *Store) TouchUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_active_at = ? WHERE id = ?`, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return requireRow(res)
}

// SetAutonomous toggles the autonomous-jobs feature for a user.
func (s *Store) SetAutonomous(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET autonomous_enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("set autonomous: %w", err)
	}
	return requireRow(res)
}

// ListEligibleUsers returns users with autonomous jobs enabled that were
// active within the given window.
func (s *Store) ListEligibleUsers(ctx context.Context, activeWithin time.Duration) ([]models.User, error) {
	cutoff := s.now().Add(-activeWithin)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE autonomous_enabled = 1 AND last_active_at >= ? ORDER BY id`,
		toMillis(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query eligible users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var lastActive, created int64
	if err := row.Scan(&u.ID, &u.Timezone, &u.AutonomousEnabled, &lastActive, &created); err != nil {
		return nil, err
	}
	u.LastActiveAt = fromMillis(lastActive)
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// --- Thought Operations ---

// AddThought inserts a generated artifact.
func (s *Store) AddThought(ctx context.Context, t models.Thought) (*models.Thought, error) {
	t.ID = uuid.New().String()
	t.CreatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thoughts (id, user_id, job_id, task_id, kind, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullString(t.JobID), nullString(t.TaskID), t.Kind, t.Content, toMillis(t.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert thought: %w", err)
	}
	return &t, nil
}

// ListThoughts returns a user's most recent thoughts, newest first.
func (s *Store) ListThoughts(ctx context.Context, userID string, limit int) ([]models.Thought, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, job_id, task_id, kind, content, created_at FROM thoughts WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query thoughts: %w", err)
	}
	defer rows.Close()

	var thoughts []models.Thought
	for rows.Next() {
		var t models.Thought
		var jobID, taskID sql.NullString
		var created int64
		if err := rows.Scan(&t.ID, &t.UserID, &jobID, &taskID, &t.Kind, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("scan thought: %w", err)
		}
		t.JobID = jobID.String
		t.TaskID = taskID.String
		t.CreatedAt = fromMillis(created)
		thoughts = append(thoughts, t)
	}
	return thoughts, rows.Err()
}

// --- Decision Operations ---

// WriteDecision writes an audit record.
func (s *Store) WriteDecision(ctx context.Context, action, inputsHash, outcome, subjectID, details string) (*models.Decision, error) {
	d := &models.Decision{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		SubjectID:  subjectID,
		Details:    details,
		Timestamp:  s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, action, inputs_hash, outcome, subject_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Action, d.InputsHash, d.Outcome, d.SubjectID, d.Details, toMillis(d.Timestamp),
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return d, nil
}

// ListDecisions returns audit records for a subject, oldest first.
func (s *Store) ListDecisions(ctx context.Context, subjectID string) ([]models.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, subject_id, details, timestamp FROM decisions WHERE subject_id = ? ORDER BY timestamp, rowid`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.Decision
	for rows.Next() {
		var d models.Decision
		var subject, details sql.NullString
		var ts int64
		if err := rows.Scan(&d.ID, &d.Action, &d.InputsHash, &d.Outcome, &subject, &details, &ts); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.SubjectID = subject.String
		d.Details = details.String
		d.Timestamp = fromMillis(ts)
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
