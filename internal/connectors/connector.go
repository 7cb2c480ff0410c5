// Package connectors defines the outbound search interface for Circadia.
package connectors

import (
	"context"

	"github.com/fentz26/circadia/internal/models"
)

// SearchRequest describes one search call.
type SearchRequest struct {
	Query string       `json:"query"`
	Depth models.Depth `json:"depth"`
	Limit int          `json:"limit"`
}

// SearchResult is a single hit returned by a search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher performs external searches.
type Searcher interface {
	// Name returns the connector identifier.
	Name() string

	// Search runs a query. Implementations must honor ctx cancellation so a
	// per-attempt timeout can abandon the call.
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
}
