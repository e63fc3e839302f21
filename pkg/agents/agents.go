// Package agents implements the research collaborators on top of langchaingo models.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

// Researcher drives the planning, querying, summarizing, reviewing and
// writing steps with two model tiers.
type Researcher struct {
	Thinking llms.Model
	Task     llms.Model
	// Splitter bounds the source content passed to the summarizer.
	Splitter *splitter.TextSplitter
	// MaxAttempts bounds re-asking the model for well-formed JSON.
	MaxAttempts int
	Logger      *slog.Logger

	now func() time.Time
}

// NewResearcher returns a researcher using the given models. Source content
// is cut to the first chunk of chunkSize characters.
func NewResearcher(thinking, task llms.Model, chunkSize, chunkOverlap int) *Researcher {
	return &Researcher{
		Thinking:    thinking,
		Task:        task,
		Splitter:    splitter.NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap),
		MaxAttempts: 3,
		Logger:      slog.Default(),
		now:         time.Now,
	}
}

// Collaborators returns r in every role except search.
func (r *Researcher) Collaborators(searcher research.Searcher) research.Collaborators {
	return research.Collaborators{
		Planner:    r,
		Queries:    r,
		Searcher:   searcher,
		Summarizer: r,
		Analyst:    r,
		Writer:     r,
	}
}

func (r *Researcher) system() llms.MessageContent {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	return llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(now()))
}

// Plan writes the report outline for query.
func (r *Researcher) Plan(ctx context.Context, query string) (string, error) {
	r.Logger.Info("Starting planning phase")
	return r.generateText(ctx, r.Thinking, fmt.Sprintf(planPrompt, query))
}

type queryResponse struct {
	Queries []struct {
		Query        string `json:"query"`
		ResearchGoal string `json:"researchGoal"`
	} `json:"queries"`
}

func (q queryResponse) tasks() []research.SearchTask {
	tasks := make([]research.SearchTask, 0, len(q.Queries))
	for _, item := range q.Queries {
		tasks = append(tasks, research.SearchTask{Query: item.Query, Goal: item.ResearchGoal})
	}
	return tasks
}

// GenerateQueries turns the plan into search tasks.
func (r *Researcher) GenerateQueries(ctx context.Context, plan string) ([]research.SearchTask, error) {
	var resp queryResponse
	_, err := r.generateWithRetry(ctx, r.Thinking, []llms.MessageContent{
		r.system(),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(queriesPrompt, plan)+"\n\n# Response Format:\n"+queriesSchema),
	}, func(content string) error {
		resp = queryResponse{}
		if err := json.Unmarshal([]byte(cleanJSON(content)), &resp); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		if len(resp.Queries) == 0 {
			return errors.New("empty queries list")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tasks := resp.tasks()
	r.Logger.Info("Generated queries", "count", len(tasks))
	return tasks, nil
}

// GenerateFeedbackQueries turns reviewer or analyst feedback into follow-up
// search tasks. An empty list is a valid answer.
func (r *Researcher) GenerateFeedbackQueries(ctx context.Context, plan string, learnings []string, feedback string) ([]research.SearchTask, error) {
	var resp queryResponse
	_, err := r.generateWithRetry(ctx, r.Thinking, []llms.MessageContent{
		r.system(),
		llms.TextParts(llms.ChatMessageTypeHuman,
			fmt.Sprintf(feedbackQueriesPrompt, plan, formatLearnings(learnings), feedback)+"\n\n# Response Format:\n"+queriesSchema),
	}, func(content string) error {
		resp = queryResponse{}
		if err := json.Unmarshal([]byte(cleanJSON(content)), &resp); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tasks := resp.tasks()
	r.Logger.Info("Generated follow-up queries", "count", len(tasks), "feedback", feedback)
	return tasks, nil
}

// Summarize extracts learnings from sources, citing them by id.
func (r *Researcher) Summarize(ctx context.Context, query, goal string, sources []research.Source) (string, error) {
	var b strings.Builder
	for _, src := range sources {
		content := src.Content
		if r.Splitter != nil {
			content = r.Splitter.Head(content, 1)
		}
		fmt.Fprintf(&b, "<content id=\"%s\">\n%s\n</content>\n\n", src.ID, content)
	}
	return r.generateText(ctx, r.Task, fmt.Sprintf(summarizePrompt, query, b.String(), goal))
}

// Analyze reports whether the learnings cover the plan. Any answer that
// contains SATISFIED counts as satisfied.
func (r *Researcher) Analyze(ctx context.Context, plan string, learnings []string) (research.Verdict, error) {
	answer, err := r.generateText(ctx, r.Thinking, fmt.Sprintf(gapsPrompt, plan, formatLearnings(learnings)))
	if err != nil {
		return research.Verdict{}, err
	}
	if strings.Contains(answer, "SATISFIED") {
		return research.Verdict{Satisfied: true}, nil
	}
	return research.Verdict{Feedback: strings.TrimSpace(answer)}, nil
}

// WriteReport writes the final report, keeping [id] citations in place.
func (r *Researcher) WriteReport(ctx context.Context, plan string, learnings []string, pages int) (string, error) {
	r.Logger.Info("Compiling final report", "learnings", len(learnings), "pages", pages)
	report, err := r.generateText(ctx, r.Task, fmt.Sprintf(reportPrompt, plan, formatLearnings(learnings), pages))
	if err != nil {
		return "", err
	}
	r.Logger.Info("Final report generated", "length", len(report))
	return report, nil
}

func (r *Researcher) generateText(ctx context.Context, model llms.Model, prompt string) (string, error) {
	resp, err := model.GenerateContent(ctx, []llms.MessageContent{
		r.system(),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", errors.New("llm returned empty content")
	}
	return content, nil
}

// generateWithRetry asks model for JSON until validator accepts the answer.
func (r *Researcher) generateWithRetry(ctx context.Context, model llms.Model, prompts []llms.MessageContent, validator func(string) error) (string, error) {
	maxRetries := r.MaxAttempts
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			r.Logger.Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := model.GenerateContent(ctx, prompts, llms.WithJSONMode())
		if err != nil {
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = errors.New("llm returned no choices")
			continue
		}

		content := resp.Choices[0].Content
		if err := validator(content); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
			continue
		}

		return content, nil
	}

	return "", fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

func formatLearnings(learnings []string) string {
	var b strings.Builder
	for _, l := range learnings {
		fmt.Fprintf(&b, "<learning>\n%s\n</learning>\n", l)
	}
	return b.String()
}

// cleanJSON strips a markdown code fence some models wrap JSON in.
func cleanJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
