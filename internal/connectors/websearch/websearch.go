// Package websearch provides an HTTP search connector.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fentz26/circadia/internal/connectors"
	"github.com/fentz26/circadia/internal/models"
	"github.com/fentz26/circadia/internal/retry"
)

const maxErrorBody = 512

// Client implements connectors.Searcher against a JSON search API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new search client. A nil httpClient uses http.DefaultClient;
// timeouts come from the caller's context.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Name returns the connector identifier.
func (c *Client) Name() string {
	return "websearch"
}

type searchResponse struct {
	Results []connectors.SearchResult `json:"results"`
}

// Search issues GET {base}/search. Non-2xx responses are returned as
// *retry.StatusError so callers can classify them.
func (c *Client) Search(ctx context.Context, req connectors.SearchRequest) ([]connectors.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit(req.Depth)
	}

	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("depth", string(req.Depth))
	q.Set("limit", strconv.Itoa(limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return out.Results, nil
}

func defaultLimit(d models.Depth) int {
	if d == models.DepthDeep {
		return 10
	}
	return 5
}
