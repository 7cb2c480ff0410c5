package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/fentz26/circadia/internal/connectors"
	"github.com/fentz26/circadia/internal/models"
)

// Analysis is what a task's search results reduce to.
type Analysis struct {
	// Summary is stored on the task.
	Summary string
	// Finding is written as a thought for the user; empty writes nothing.
	Finding string
}

// Analyzer turns search results into an Analysis.
type Analyzer interface {
	Analyze(ctx context.Context, task models.ResearchTask, results []connectors.SearchResult) (Analysis, error)
}

// SnippetAnalyzer summarizes the top results by title and snippet.
type SnippetAnalyzer struct {
	MaxResults int
}

// Analyze implements Analyzer.
func (a SnippetAnalyzer) Analyze(ctx context.Context, task models.ResearchTask, results []connectors.SearchResult) (Analysis, error) {
	if len(results) == 0 {
		return Analysis{Summary: fmt.Sprintf("no results for %q", task.Query)}, nil
	}

	n := a.MaxResults
	if n <= 0 {
		n = 3
	}
	if n > len(results) {
		n = len(results)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "On %q:", task.Query)
	for _, r := range results[:n] {
		b.WriteString("\n- ")
		b.WriteString(strings.TrimSpace(r.Title))
		if s := strings.TrimSpace(r.Snippet); s != "" {
			b.WriteString(": ")
			b.WriteString(s)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, " (%s)", r.URL)
		}
	}

	return Analysis{
		Summary: fmt.Sprintf("%d results, top: %s", len(results), strings.TrimSpace(results[0].Title)),
		Finding: b.String(),
	}, nil
}
