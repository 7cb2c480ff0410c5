package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/circadia/internal/executor"
	"github.com/fentz26/circadia/internal/guard"
	"github.com/fentz26/circadia/internal/models"
	"github.com/fentz26/circadia/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestStore(t *testing.T, clock *testClock) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func allTypes(h executor.Handler) map[models.JobType]executor.Handler {
	table := make(map[models.JobType]executor.Handler)
	for _, jt := range models.JobTypes {
		table[jt] = h
	}
	return table
}

// blockingRunner holds every Execute call until release is closed.
type blockingRunner struct {
	calls   atomic.Int32
	started chan string
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 16), release: make(chan struct{})}
}

func (r *blockingRunner) Execute(ctx context.Context, job models.Job) executor.Outcome {
	r.calls.Add(1)
	r.started <- job.UserID
	<-r.release
	return executor.OutcomeCompleted
}

// fakeStore serves a fixed set of due jobs and users.
type fakeStore struct {
	users     []models.User
	due       []models.Job
	failUsers map[string]bool
	perDay    int
}

func (f *fakeStore) ListEligibleUsers(ctx context.Context, activeWithin time.Duration) ([]models.User, error) {
	return f.users, nil
}

func (f *fakeStore) ScheduleJobsForUser(ctx context.Context, userID string, date time.Time) ([]models.Job, error) {
	if f.failUsers[userID] {
		return nil, errors.New("timezone lookup failed")
	}
	return make([]models.Job, f.perDay), nil
}

func (f *fakeStore) GetDueJobs(ctx context.Context) ([]models.Job, error) {
	return f.due, nil
}

func waitStarted(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to start")
		return ""
	}
}

func TestRunDispatch_SequentialPerUser(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	ctx := context.Background()

	j1, err := s.CreateJob(ctx, "u1", models.JobTypeMorningReflection, clock.Now().Add(-2*time.Minute))
	require.NoError(t, err)
	j2, err := s.CreateJob(ctx, "u1", models.JobTypeMiddayCuriosity, clock.Now().Add(-time.Minute))
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	var priorTerminal bool
	handler := func(ctx context.Context, userID, jobID string) (models.JobResult, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, jobID)
		if jobID == j2.ID {
			prev, err := s.GetJob(ctx, j1.ID)
			priorTerminal = err == nil && prev.Status.IsTerminal()
		}
		return models.JobResult{ThoughtsGenerated: 1}, nil
	}

	sch := New(s, executor.New(s, allTypes(handler)), nil, nil, nil)
	summary := sch.RunDispatch(ctx)
	sch.Wait()

	assert.Equal(t, DispatchSummary{Due: 2, Users: 1, Started: 1}, summary)
	assert.Equal(t, []string{j1.ID, j2.ID}, order)
	assert.True(t, priorTerminal, "first job must be terminal before the second begins")

	st := sch.Stats()
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, 0, st.ActiveUsers)
}

func TestRunDispatch_NoDoubleDispatch(t *testing.T) {
	fs := &fakeStore{due: []models.Job{
		{ID: "j1", UserID: "u1", Status: models.JobStatusPending},
	}}
	runner := newBlockingRunner()
	g := guard.New()
	sch := New(fs, runner, g, nil, nil)

	first := sch.RunDispatch(context.Background())
	assert.Equal(t, 1, first.Started)
	waitStarted(t, runner.started)

	// Same job is still due on the next tick while the first is in flight.
	second := sch.RunDispatch(context.Background())
	assert.Equal(t, 0, second.Started)
	assert.Equal(t, 1, second.Busy)
	assert.True(t, g.Held("u1"))

	close(runner.release)
	sch.Wait()

	assert.Equal(t, int32(1), runner.calls.Load())
	assert.False(t, g.Held("u1"), "lock released after sequence")
}

func TestRunDispatch_UsersRunConcurrently(t *testing.T) {
	fs := &fakeStore{due: []models.Job{
		{ID: "j1", UserID: "u1"},
		{ID: "j2", UserID: "u2"},
		{ID: "j3", UserID: "u1"},
	}}
	runner := newBlockingRunner()
	sch := New(fs, runner, nil, nil, nil)

	summary := sch.RunDispatch(context.Background())
	assert.Equal(t, 2, summary.Users)
	assert.Equal(t, 2, summary.Started)

	got := []string{waitStarted(t, runner.started), waitStarted(t, runner.started)}
	assert.ElementsMatch(t, []string{"u1", "u2"}, got)

	close(runner.release)
	sch.Wait()
	assert.Equal(t, int32(3), runner.calls.Load())
}

func TestRunDispatch_BoundedUsers(t *testing.T) {
	fs := &fakeStore{due: []models.Job{
		{ID: "j1", UserID: "u1"},
		{ID: "j2", UserID: "u2"},
	}}
	runner := newBlockingRunner()
	sch := New(fs, runner, nil, &Config{MaxConcurrentUsers: 1}, nil)

	done := make(chan DispatchSummary, 1)
	go func() { done <- sch.RunDispatch(context.Background()) }()

	waitStarted(t, runner.started)
	select {
	case <-done:
		t.Fatal("dispatch should block while the pool is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	summary := <-done
	sch.Wait()
	assert.Equal(t, 2, summary.Started)
}

func TestRunGeneration_IsolatesUserFailures(t *testing.T) {
	fs := &fakeStore{
		users:     []models.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}},
		failUsers: map[string]bool{"u2": true},
		perDay:    1,
	}
	sch := New(fs, newBlockingRunner(), nil, nil, nil)

	summary := sch.RunGeneration(context.Background())

	assert.Equal(t, GenerateSummary{Users: 3, Scheduled: 4, Failed: 1}, summary)
	assert.Equal(t, summary, sch.Stats().LastGeneration)
}

func TestRunGeneration_Idempotent(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	ctx := context.Background()
	_, err := s.UpsertUser(ctx, models.User{ID: "u1", Timezone: "UTC", AutonomousEnabled: true})
	require.NoError(t, err)
	_, err = s.UpsertUser(ctx, models.User{ID: "u2", Timezone: "UTC", AutonomousEnabled: false})
	require.NoError(t, err)

	sch := New(s, newBlockingRunner(), nil, nil, nil)
	sch.now = clock.Now

	first := sch.RunGeneration(ctx)
	assert.Equal(t, GenerateSummary{Users: 1, Scheduled: 8}, first)

	second := sch.RunGeneration(ctx)
	assert.Equal(t, GenerateSummary{Users: 1, Skipped: 1}, second)
}

func TestRunDispatch_DeferredJobBlocksLaterJobs(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	ctx := context.Background()

	j1, err := s.CreateJob(ctx, "u1", models.JobTypeMorningReflection, clock.Now().Add(-2*time.Minute))
	require.NoError(t, err)
	j2, err := s.CreateJob(ctx, "u1", models.JobTypeMiddayCuriosity, clock.Now().Add(-time.Minute))
	require.NoError(t, err)

	var failed atomic.Bool
	pre := executor.PreconditionFunc(func(ctx context.Context, job models.Job) (bool, string, error) {
		if job.ID == j1.ID && failed.CompareAndSwap(false, true) {
			return false, "", errors.New("database is locked")
		}
		return true, "", nil
	})
	handler := func(ctx context.Context, userID, jobID string) (models.JobResult, error) {
		return models.JobResult{}, nil
	}

	sch := New(s, executor.New(s, allTypes(handler), executor.WithPrecondition(pre)), nil, nil, nil)
	sch.RunDispatch(ctx)
	sch.Wait()

	got1, err := s.GetJob(ctx, j1.ID)
	require.NoError(t, err)
	got2, err := s.GetJob(ctx, j2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got1.Status)
	assert.Equal(t, models.JobStatusPending, got2.Status, "later job must not run ahead of a pending earlier job")
	assert.Equal(t, 1, sch.Stats().Deferred)

	// Next tick runs both, in order.
	sch.RunDispatch(ctx)
	sch.Wait()

	got1, err = s.GetJob(ctx, j1.ID)
	require.NoError(t, err)
	got2, err = s.GetJob(ctx, j2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got1.Status)
	assert.Equal(t, models.JobStatusCompleted, got2.Status)
	require.NotNil(t, got1.CompletedAt)
	require.NotNil(t, got2.StartedAt)
	assert.False(t, got2.StartedAt.Before(*got1.CompletedAt))
}

func TestDispatch_PreconditionFlipSkips(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	ctx := context.Background()
	_, err := s.UpsertUser(ctx, models.User{ID: "u1", Timezone: "UTC", AutonomousEnabled: true})
	require.NoError(t, err)

	var calls atomic.Int32
	handler := func(ctx context.Context, userID, jobID string) (models.JobResult, error) {
		calls.Add(1)
		return models.JobResult{}, nil
	}
	pre := executor.PreconditionFunc(func(ctx context.Context, job models.Job) (bool, string, error) {
		u, err := s.GetUser(ctx, job.UserID)
		if err != nil {
			return false, "", err
		}
		if !u.AutonomousEnabled {
			return false, "autonomous mode disabled", nil
		}
		return true, "", nil
	})

	sch := New(s, executor.New(s, allTypes(handler), executor.WithPrecondition(pre)), nil, nil, nil)
	sch.now = clock.Now
	sch.RunGeneration(ctx)

	require.NoError(t, s.SetAutonomous(ctx, "u1", false))
	clock.Set(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	sch.RunDispatch(ctx)
	sch.Wait()

	assert.Equal(t, int32(0), calls.Load())
	jobs, err := s.ListJobs(ctx, store.JobFilter{UserID: "u1", Status: models.JobStatusSkipped})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobTypeMorningReflection, jobs[0].Type)
	assert.Empty(t, jobs[0].ErrorMessage)
	assert.Equal(t, 1, sch.Stats().Skipped)
}

func TestStartStop_WaitsForInFlight(t *testing.T) {
	fs := &fakeStore{due: []models.Job{{ID: "j1", UserID: "u1"}}}
	runner := newBlockingRunner()
	sch := New(fs, runner, nil, &Config{DispatchInterval: 10 * time.Millisecond}, nil)

	sch.Start()
	waitStarted(t, runner.started)

	stopped := make(chan struct{})
	go func() {
		sch.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after in-flight job finished")
	}
	assert.NotNil(t, sch.Stats().LastGenerationAt)
}
