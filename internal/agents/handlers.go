// Package agents provides the job handlers for each circadian job type.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fentz26/circadia/internal/executor"
	"github.com/fentz26/circadia/internal/models"
)

const (
	recentThoughts      = 20
	maxQuestionsPerJob  = 3
	curiosityApproach   = "curiosity"
	consolidateApproach = "consolidation"
)

// Store is the persistence the handlers use.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListThoughts(ctx context.Context, userID string, limit int) ([]models.Thought, error)
	AddThought(ctx context.Context, t models.Thought) (*models.Thought, error)
	CreateResearchTask(ctx context.Context, t models.ResearchTask) (*models.ResearchTask, error)
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Store   Store
	Thinker Thinker
	Logger  *slog.Logger
}

// Handlers returns the dispatch table covering every job type.
func Handlers(d Deps) map[models.JobType]executor.Handler {
	if d.Thinker == nil {
		d.Thinker = EchoThinker{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return map[models.JobType]executor.Handler{
		models.JobTypeMorningReflection:  d.reflect(models.JobTypeMorningReflection, "reflection"),
		models.JobTypeMiddayCuriosity:    d.curiosity,
		models.JobTypeEveningSynthesis:   d.reflect(models.JobTypeEveningSynthesis, "synthesis"),
		models.JobTypeNightConsolidation: d.consolidate,
	}
}

func (d Deps) load(ctx context.Context, userID string) (*models.User, []models.Thought, error) {
	user, err := d.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	recent, err := d.Store.ListThoughts(ctx, userID, recentThoughts)
	if err != nil {
		return nil, nil, fmt.Errorf("load thoughts: %w", err)
	}
	return user, recent, nil
}

func (d Deps) reflect(jobType models.JobType, kind string) executor.Handler {
	return func(ctx context.Context, userID, jobID string) (models.JobResult, error) {
		user, recent, err := d.load(ctx, userID)
		if err != nil {
			return models.JobResult{}, err
		}
		text, err := d.Thinker.Reflect(ctx, *user, recent, jobType)
		if err != nil {
			return models.JobResult{}, fmt.Errorf("%s: %w", kind, err)
		}
		if err := d.write(ctx, userID, jobID, kind, text); err != nil {
			return models.JobResult{}, err
		}
		return models.JobResult{ThoughtsGenerated: 1}, nil
	}
}

// curiosity turns open questions into shallow research tasks.
func (d Deps) curiosity(ctx context.Context, userID, jobID string) (models.JobResult, error) {
	user, recent, err := d.load(ctx, userID)
	if err != nil {
		return models.JobResult{}, err
	}
	questions, err := d.Thinker.Questions(ctx, *user, recent)
	if err != nil {
		return models.JobResult{}, fmt.Errorf("questions: %w", err)
	}
	if len(questions) > maxQuestionsPerJob {
		questions = questions[:maxQuestionsPerJob]
	}

	var res models.JobResult
	for i, q := range questions {
		if _, err := d.Store.CreateResearchTask(ctx, models.ResearchTask{
			UserID:      userID,
			Query:       q,
			Approach:    curiosityApproach,
			Depth:       models.DepthShallow,
			Priority:    len(questions) - i,
			SourceJobID: jobID,
		}); err != nil {
			return res, fmt.Errorf("create research task: %w", err)
		}
		res.ResearchTasksCreated++
	}

	if len(questions) > 0 {
		if err := d.write(ctx, userID, jobID, "curiosity", "Wondering about:\n- "+strings.Join(questions, "\n- ")); err != nil {
			return res, err
		}
		res.ThoughtsGenerated = 1
	}
	return res, nil
}

// consolidate writes the night summary and queues one deep follow-up on the
// day's most recent finding.
func (d Deps) consolidate(ctx context.Context, userID, jobID string) (models.JobResult, error) {
	user, recent, err := d.load(ctx, userID)
	if err != nil {
		return models.JobResult{}, err
	}
	text, err := d.Thinker.Reflect(ctx, *user, recent, models.JobTypeNightConsolidation)
	if err != nil {
		return models.JobResult{}, fmt.Errorf("consolidation: %w", err)
	}
	if err := d.write(ctx, userID, jobID, "consolidation", text); err != nil {
		return models.JobResult{}, err
	}
	res := models.JobResult{ThoughtsGenerated: 1}

	for _, t := range recent {
		if t.Kind != "finding" {
			continue
		}
		if _, err := d.Store.CreateResearchTask(ctx, models.ResearchTask{
			UserID:      userID,
			Query:       headline(t.Content),
			Approach:    consolidateApproach,
			Depth:       models.DepthDeep,
			SourceJobID: jobID,
		}); err != nil {
			return res, fmt.Errorf("create research task: %w", err)
		}
		res.ResearchTasksCreated = 1
		break
	}
	return res, nil
}

func (d Deps) write(ctx context.Context, userID, jobID, kind, content string) error {
	if _, err := d.Store.AddThought(ctx, models.Thought{
		UserID:  userID,
		JobID:   jobID,
		Kind:    kind,
		Content: content,
	}); err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	d.Logger.Debug("thought written", slog.String("user_id", userID), slog.String("job_id", jobID), slog.String("kind", kind))
	return nil
}
