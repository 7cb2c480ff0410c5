package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fentz26/circadia/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the Circadia API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListJobs fetches jobs, optionally filtered by status.
func (c *Client) ListJobs(status string) ([]models.Job, error) {
	var jobs []models.Job
	if err := c.get("/jobs"+statusQuery(status), &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListTasks fetches research tasks, optionally filtered by status.
func (c *Client) ListTasks(status string) ([]models.ResearchTask, error) {
	var tasks []models.ResearchTask
	if err := c.get("/tasks"+statusQuery(status), &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetStats fetches the engine snapshot.
func (c *Client) GetStats() (*Stats, error) {
	var stats Stats
	if err := c.get("/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CreateTask enqueues a research task and returns its ID.
func (c *Client) CreateTask(userID, query string, depth models.Depth) (string, error) {
	body := map[string]any{
		"user_id":  userID,
		"query":    query,
		"depth":    depth,
		"approach": "manual",
	}
	resp, err := c.post("/tasks", body)
	if err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}

func statusQuery(status string) string {
	if status == "" {
		return ""
	}
	return "?status=" + url.QueryEscape(status)
}

func (c *Client) get(path string, v any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(path string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", bytes.TrimSpace(body))
	}

	return body, nil
}
