package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/circadia/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		jobs := []models.Job{{ID: "j1", UserID: "u1", Type: models.JobTypeMorningReflection, Status: models.JobStatusPending}}
		if r.URL.Query().Get("status") == "failed" {
			jobs = []models.Job{}
		}
		json.NewEncoder(w).Encode(jobs)
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["query"] == "" {
				http.Error(w, "invalid input: user_id and query are required", http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "t-new", "depth": body["depth"]})
			return
		}
		json.NewEncoder(w).Encode([]models.ResearchTask{{ID: "t1", Query: "tide pools", Status: models.TaskStatusInProgress}})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"scheduler":{"active_users":2,"max_concurrent_users":10},"jobs":{"pending":4},"tasks":{}}`))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"db":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Lists(t *testing.T) {
	c := NewClient(newTestAPI(t).URL)

	jobs, err := c.ListJobs("")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobTypeMorningReflection, jobs[0].Type)

	jobs, err = c.ListJobs("failed")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	tasks, err := c.ListTasks("in_progress")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "tide pools", tasks[0].Query)
}

func TestClient_StatsAndHealth(t *testing.T) {
	c := NewClient(newTestAPI(t).URL)

	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scheduler.ActiveUsers)
	assert.Equal(t, 4, stats.Jobs["pending"])
	assert.Nil(t, stats.Research)

	ok, err := c.CheckHealth()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_CreateTask(t *testing.T) {
	c := NewClient(newTestAPI(t).URL)

	id, err := c.CreateTask("u1", "sleep spindles", models.DepthDeep)
	require.NoError(t, err)
	assert.Equal(t, "t-new", id)

	_, err = c.CreateTask("u1", "", models.DepthShallow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query are required")
}

func TestApp_SnapshotPopulatesViews(t *testing.T) {
	app := New(newTestAPI(t).URL)

	msg := app.refresh()()
	snap, ok := msg.(snapshotMsg)
	require.True(t, ok, "expected snapshotMsg, got %T", msg)
	require.NoError(t, snap.err)

	app.Update(snap)
	assert.True(t, app.daemonOnline)
	assert.Len(t, app.jobs.Items(), 1)
	assert.Len(t, app.tasks.Items(), 1)
	require.NotNil(t, app.stats)

	app.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, viewTasks, app.view)
	assert.Contains(t, app.View(), "tide pools")
}

func TestApp_ResearchCommand(t *testing.T) {
	app := New(newTestAPI(t).URL)

	msg := app.executeCommand("deep u1 sleep spindles")()
	res, ok := msg.(commandResultMsg)
	require.True(t, ok, "expected commandResultMsg, got %T", msg)
	assert.Contains(t, res.message, "deep")

	msg = app.executeCommand("research u1")()
	assert.Equal(t, commandResultMsg{"Usage: research <user> <query>"}, msg)
}

func TestApp_OfflineSnapshot(t *testing.T) {
	srv := newTestAPI(t)
	app := New(srv.URL)
	srv.Close()

	app.Update(app.refresh()())
	assert.False(t, app.daemonOnline)
	assert.Contains(t, app.message, "Error")
}
