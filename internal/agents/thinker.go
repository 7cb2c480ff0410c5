package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fentz26/circadia/internal/models"
)

// Thinker produces the content of agent jobs. Production deployments back it
// with a language model; recent thoughts are newest first.
type Thinker interface {
	Reflect(ctx context.Context, user models.User, recent []models.Thought, jobType models.JobType) (string, error)
	Questions(ctx context.Context, user models.User, recent []models.Thought) ([]string, error)
}

// EchoThinker derives deterministic content from the user's recent thoughts.
type EchoThinker struct{}

var openers = map[models.JobType]string{
	models.JobTypeMorningReflection:  "Morning reflection",
	models.JobTypeEveningSynthesis:   "Evening synthesis",
	models.JobTypeNightConsolidation: "Night consolidation",
}

// Reflect implements Thinker.
func (EchoThinker) Reflect(ctx context.Context, user models.User, recent []models.Thought, jobType models.JobType) (string, error) {
	opener, ok := openers[jobType]
	if !ok {
		opener = string(jobType)
	}
	if len(recent) == 0 {
		return opener + ": nothing on record yet.", nil
	}

	kinds := make(map[string]int)
	for _, t := range recent {
		kinds[t.Kind]++
	}
	var parts []string
	for _, k := range []string{"reflection", "curiosity", "finding", "synthesis", "consolidation"} {
		if n := kinds[k]; n > 0 {
			parts = append(parts, strconv.Itoa(n)+" "+k)
		}
	}

	return fmt.Sprintf("%s over %d recent thoughts (%s). Latest: %s",
		opener, len(recent), strings.Join(parts, ", "), headline(recent[0].Content)), nil
}

// Questions implements Thinker.
func (EchoThinker) Questions(ctx context.Context, user models.User, recent []models.Thought) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, t := range recent {
		if t.Kind == "curiosity" {
			continue
		}
		topic := headline(t.Content)
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		out = append(out, "What is known about "+topic+"?")
	}
	return out, nil
}

// headline extracts a short topic line from thought content.
func headline(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	line = strings.TrimSpace(line)
	if inner, ok := strings.CutPrefix(line, `On "`); ok {
		if q, ok := strings.CutSuffix(inner, `":`); ok {
			return q
		}
	}
	const maxLen = 80
	if len(line) > maxLen {
		line = strings.TrimSpace(line[:maxLen])
	}
	return strings.TrimSuffix(line, ".")
}
