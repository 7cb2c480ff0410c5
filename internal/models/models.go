// Package models defines the core domain types for Circadia.
package models

import (
	"time"
	_ "time/tzdata"
)

// JobType tags the kind of autonomous agent work a job performs.
type JobType string

const (
	JobTypeMorningReflection  JobType = "morning_reflection"
	JobTypeMiddayCuriosity    JobType = "midday_curiosity"
	JobTypeEveningSynthesis   JobType = "evening_synthesis"
	JobTypeNightConsolidation JobType = "night_consolidation"
)

// JobTypes lists every known job type.
var JobTypes = []JobType{
	JobTypeMorningReflection,
	JobTypeMiddayCuriosity,
	JobTypeEveningSynthesis,
	JobTypeNightConsolidation,
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusSkipped
}

// CanTransition reports whether a job may move from s to next.
// Jobs never re-enter pending; a pending job may be skipped or failed
// without running when its preconditions no longer hold.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusSkipped || next == JobStatusFailed
	case JobStatusRunning:
		return next.IsTerminal()
	}
	return false
}

// Job represents one scheduled unit of autonomous work.
type Job struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	Type                 JobType    `json:"job_type"`
	Status               JobStatus  `json:"status"`
	ScheduleDate         string     `json:"schedule_date"`
	ScheduledFor         time.Time  `json:"scheduled_for"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	SkipReason           string     `json:"skip_reason,omitempty"`
	ThoughtsGenerated    int        `json:"thoughts_generated"`
	ResearchTasksCreated int        `json:"research_tasks_created"`
	CreatedAt            time.Time  `json:"created_at"`
}

// JobResult holds the counters a handler reports on success.
type JobResult struct {
	ThoughtsGenerated    int `json:"thoughts_generated"`
	ResearchTasksCreated int `json:"research_tasks_created"`
}

// Slot is a time of day at which a circadian job is scheduled.
type Slot struct {
	Type   JobType
	Hour   int
	Minute int
}

// CircadianSlots is the daily job set generated for every eligible user,
// expressed in the user's local time.
var CircadianSlots = []Slot{
	{Type: JobTypeMorningReflection, Hour: 7, Minute: 30},
	{Type: JobTypeMiddayCuriosity, Hour: 12, Minute: 30},
	{Type: JobTypeEveningSynthesis, Hour: 18, Minute: 30},
	{Type: JobTypeNightConsolidation, Hour: 22, Minute: 30},
}

// TaskStatus represents the current state of a research task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Depth controls how thorough (and how slow) a research search is.
type Depth string

const (
	DepthShallow Depth = "shallow"
	DepthDeep    Depth = "deep"
)

// ResearchTask is a unit of external-search work.
type ResearchTask struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Query           string     `json:"query"`
	Approach        string     `json:"approach"`
	Depth           Depth      `json:"depth"`
	Priority        int        `json:"priority"`
	Status          TaskStatus `json:"status"`
	AttemptCount    int        `json:"attempt_count"`
	LastAttemptedAt *time.Time `json:"last_attempted_at,omitempty"`
	ResultSummary   string     `json:"result_summary,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	SourceJobID     string     `json:"source_job_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// User holds the scheduling-relevant view of an account.
type User struct {
	ID                string    `json:"id"`
	Timezone          string    `json:"timezone"`
	AutonomousEnabled bool      `json:"autonomous_enabled"`
	LastActiveAt      time.Time `json:"last_active_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// Location returns the user's time zone, falling back to UTC.
func (u *User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Thought is an artifact produced by an agent job or a research task.
type Thought struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	JobID     string    `json:"job_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision is an audit record of a state-mutating scheduling action.
type Decision struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
