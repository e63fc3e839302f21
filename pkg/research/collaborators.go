package research

import (
	"context"
	"errors"
)

// Planner turns the user's query into a report outline.
type Planner interface {
	Plan(ctx context.Context, query string) (string, error)
}

// QueryGenerator produces search tasks from a plan, optionally steered by feedback.
type QueryGenerator interface {
	GenerateQueries(ctx context.Context, plan string) ([]SearchTask, error)
	GenerateFeedbackQueries(ctx context.Context, plan string, learnings []string, feedback string) ([]SearchTask, error)
}

// SearchOutput is the raw result of a web search.
type SearchOutput struct {
	Sources []Source `json:"sources"`
	Images  []Image  `json:"images"`
}

// Searcher runs a single web search.
type Searcher interface {
	Search(ctx context.Context, query string) (SearchOutput, error)
}

// Summarizer distills sources into learnings citing sources as [id].
type Summarizer interface {
	Summarize(ctx context.Context, query, goal string, sources []Source) (string, error)
}

// GapAnalyst decides whether the learnings cover the plan.
type GapAnalyst interface {
	Analyze(ctx context.Context, plan string, learnings []string) (Verdict, error)
}

// ReportWriter writes the final report citing sources as [id].
type ReportWriter interface {
	WriteReport(ctx context.Context, plan string, learnings []string, pages int) (string, error)
}

// SourceIndexer receives the sources of every freshly resolved search.
type SourceIndexer interface {
	IndexSources(ctx context.Context, runID string, sources []Source) error
}

// Collaborators groups the external services the engine drives.
type Collaborators struct {
	Planner    Planner
	Queries    QueryGenerator
	Searcher   Searcher
	Summarizer Summarizer
	Analyst    GapAnalyst
	Writer     ReportWriter
}

func (c Collaborators) validate() error {
	var errs []error
	if c.Planner == nil {
		errs = append(errs, errors.New("planner is required"))
	}
	if c.Queries == nil {
		errs = append(errs, errors.New("query generator is required"))
	}
	if c.Searcher == nil {
		errs = append(errs, errors.New("searcher is required"))
	}
	if c.Summarizer == nil {
		errs = append(errs, errors.New("summarizer is required"))
	}
	if c.Analyst == nil {
		errs = append(errs, errors.New("gap analyst is required"))
	}
	if c.Writer == nil {
		errs = append(errs, errors.New("report writer is required"))
	}
	return errors.Join(errs...)
}
