package agents

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/circadia/internal/executor"
	"github.com/fentz26/circadia/internal/models"
	"github.com/fentz26/circadia/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUser(t *testing.T, s *store.Store, id string) {
	t.Helper()
	_, err := s.UpsertUser(context.Background(), models.User{ID: id, Timezone: "UTC", AutonomousEnabled: true})
	require.NoError(t, err)
}

func TestHandlers_CoverEveryJobType(t *testing.T) {
	table := Handlers(Deps{Store: newTestStore(t)})
	assert.Empty(t, executor.MissingHandlers(table))
	assert.Len(t, table, len(models.JobTypes))
}

func TestMorningReflection_WritesThought(t *testing.T) {
	s := newTestStore(t)
	mustUser(t, s, "u1")
	h := Handlers(Deps{Store: s})[models.JobTypeMorningReflection]

	res, err := h(context.Background(), "u1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobResult{ThoughtsGenerated: 1}, res)

	thoughts, err := s.ListThoughts(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, thoughts, 1)
	assert.Equal(t, "reflection", thoughts[0].Kind)
	assert.Equal(t, "job-1", thoughts[0].JobID)
}

func TestMiddayCuriosity_CreatesResearchTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1")
	for _, c := range []string{"Tide pools at dawn", "Why owls hoot", "Tide pools at dawn", "Fermentation", "Cloud types"} {
		_, err := s.AddThought(ctx, models.Thought{UserID: "u1", Kind: "reflection", Content: c})
		require.NoError(t, err)
	}

	h := Handlers(Deps{Store: s})[models.JobTypeMiddayCuriosity]
	res, err := h(ctx, "u1", "job-2")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ResearchTasksCreated)
	assert.Equal(t, 1, res.ThoughtsGenerated)

	tasks, err := s.ListTasks(ctx, models.TaskStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, "job-2", task.SourceJobID)
		assert.Equal(t, models.DepthShallow, task.Depth)
	}
}

func TestMiddayCuriosity_NothingToAsk(t *testing.T) {
	s := newTestStore(t)
	mustUser(t, s, "u1")

	res, err := Handlers(Deps{Store: s})[models.JobTypeMiddayCuriosity](context.Background(), "u1", "job-3")
	require.NoError(t, err)
	assert.Equal(t, models.JobResult{}, res)
}

func TestNightConsolidation_QueuesDeepFollowUp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1")
	_, err := s.AddThought(ctx, models.Thought{UserID: "u1", Kind: "finding", Content: "On \"sleep spindles\":\n- Spindles: bursts"})
	require.NoError(t, err)

	res, err := Handlers(Deps{Store: s})[models.JobTypeNightConsolidation](ctx, "u1", "job-4")
	require.NoError(t, err)
	assert.Equal(t, models.JobResult{ThoughtsGenerated: 1, ResearchTasksCreated: 1}, res)

	tasks, err := s.ListTasks(ctx, models.TaskStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "sleep spindles", tasks[0].Query)
	assert.Equal(t, models.DepthDeep, tasks[0].Depth)
}

func TestHandler_UnknownUserFails(t *testing.T) {
	s := newTestStore(t)
	_, err := Handlers(Deps{Store: s})[models.JobTypeEveningSynthesis](context.Background(), "ghost", "job-5")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEligibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.UpsertUser(ctx, models.User{ID: "active", AutonomousEnabled: true})
	require.NoError(t, err)
	_, err = s.UpsertUser(ctx, models.User{ID: "off", AutonomousEnabled: false})
	require.NoError(t, err)
	_, err = s.UpsertUser(ctx, models.User{ID: "stale", AutonomousEnabled: true, LastActiveAt: now.Add(-30 * 24 * time.Hour)})
	require.NoError(t, err)

	e := Eligibility{Users: s, ActiveWithin: 7 * 24 * time.Hour}

	tests := []struct {
		user   string
		ok     bool
		reason string
	}{
		{"active", true, ""},
		{"off", false, "autonomous mode disabled"},
		{"stale", false, "user inactive since"},
		{"ghost", false, "user no longer exists"},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			ok, reason, err := e.Check(ctx, models.Job{UserID: tt.user})
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Contains(t, reason, tt.reason)
		})
	}
}

func TestHeadline(t *testing.T) {
	assert.Equal(t, "sleep spindles", headline("On \"sleep spindles\":\n- x"))
	assert.Equal(t, "A short note", headline("A short note.\nmore"))
	assert.Len(t, headline(strings.Repeat("a", 200)), 80)
}
