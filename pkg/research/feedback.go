package research

import (
	"context"
	"log/slog"
	"strings"
)

// Verdict is the outcome of a coverage review. Feedback is only meaningful
// when Satisfied is false.
type Verdict struct {
	Satisfied bool   `json:"satisfied"`
	Feedback  string `json:"feedback,omitempty"`
}

// FeedbackController decides whether another search round is needed.
type FeedbackController struct {
	Analyst GapAnalyst
	Retry   RetryPolicy
	Logger  *slog.Logger
}

// Evaluate reviews s and records the decision in s.Feedback.
//
// In human mode the decision comes from s.Feedback as supplied by the
// reviewer: any non-blank text asks for another round. In auto mode the
// analyst is consulted until s.LoopCount reaches s.MaxLoops; every
// consultation increments s.LoopCount exactly once, whatever the verdict.
func (c *FeedbackController) Evaluate(ctx context.Context, s *RunState) (Verdict, error) {
	if s.Mode == ModeHuman {
		s.Feedback = strings.TrimSpace(s.Feedback)
		if s.Feedback == "" {
			return Verdict{Satisfied: true}, nil
		}
		return Verdict{Feedback: s.Feedback}, nil
	}

	if s.LoopCount >= s.MaxLoops {
		s.Feedback = ""
		orDefault(c.Logger).Info("Feedback loop ceiling reached", "run_id", s.RunID, "loop_count", s.LoopCount, "max_loops", s.MaxLoops)
		return Verdict{Satisfied: true}, nil
	}

	v, err := withRetry(ctx, c.Retry, c.Logger, "analyze_gaps", func() (Verdict, error) {
		return c.Analyst.Analyze(ctx, s.Plan, s.Learnings())
	})
	if err != nil {
		return Verdict{}, err
	}
	s.LoopCount++

	v.Feedback = strings.TrimSpace(v.Feedback)
	if v.Satisfied || v.Feedback == "" {
		s.Feedback = ""
		return Verdict{Satisfied: true}, nil
	}
	s.Feedback = v.Feedback
	orDefault(c.Logger).Info("Research gaps found", "run_id", s.RunID, "loop_count", s.LoopCount, "feedback", v.Feedback)
	return v, nil
}
