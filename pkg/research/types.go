package research

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects who decides whether another search round is needed.
type Mode string

const (
	ModeHuman Mode = "human"
	ModeAuto  Mode = "auto"
)

// ParseMode accepts "human" or "auto" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeHuman:
		return ModeHuman, nil
	case ModeAuto:
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("invalid feedback mode %q: must be human or auto", s)
	}
}

// Node identifies a step of the research workflow.
type Node string

const (
	NodePlan                    Node = "PLAN"
	NodeGenerateQueries         Node = "GENERATE_QUERIES"
	NodeSearch                  Node = "SEARCH"
	NodeReviewHuman             Node = "REVIEW_HUMAN"
	NodeAnalyzeGaps             Node = "ANALYZE_GAPS"
	NodeGenerateFeedbackQueries Node = "GENERATE_FEEDBACK_QUERIES"
	NodeSynthesize              Node = "SYNTHESIZE"
	NodeDone                    Node = "DONE"
)

// Valid reports whether n is one of the workflow nodes.
func (n Node) Valid() bool {
	switch n {
	case NodePlan, NodeGenerateQueries, NodeSearch, NodeReviewHuman, NodeAnalyzeGaps,
		NodeGenerateFeedbackQueries, NodeSynthesize, NodeDone:
		return true
	}
	return false
}

// SearchTask is a single query awaiting execution.
type SearchTask struct {
	Query string `json:"query"`
	Goal  string `json:"research_goal"`
}

// Source is a single document returned by a searcher.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Image is an image reference returned by a searcher.
type Image struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// SearchResult is the resolution of one SearchTask. A non-empty Error marks a
// placeholder for a task whose collaborators failed.
type SearchResult struct {
	Query     string   `json:"query"`
	Goal      string   `json:"research_goal"`
	Learnings []string `json:"learnings"`
	Sources   []Source `json:"sources"`
	Images    []Image  `json:"images"`
	Error     string   `json:"error,omitempty"`
}

// Failed reports whether r is a placeholder for a failed task.
func (r SearchResult) Failed() bool {
	return r.Error != ""
}

// RunState is the full mutable context of one research run.
type RunState struct {
	RunID        string         `json:"run_id"`
	Query        string         `json:"query"`
	Mode         Mode           `json:"mode"`
	MaxLoops     int            `json:"max_loops"`
	ReportPages  int            `json:"report_pages"`
	Plan         string         `json:"plan"`
	PendingTasks []SearchTask   `json:"pending_tasks"`
	Results      []SearchResult `json:"results"`
	Feedback     string         `json:"feedback,omitempty"`
	LoopCount    int            `json:"loop_count"`
	Round        int            `json:"round"`
	FinalReport  string         `json:"final_report,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Done reports whether the run produced its final report.
func (s RunState) Done() bool {
	return s.FinalReport != ""
}

// Learnings flattens the learnings of every result, in result order.
func (s RunState) Learnings() []string {
	var out []string
	for _, r := range s.Results {
		out = append(out, r.Learnings...)
	}
	return out
}

// Sources flattens the sources of every result, in result order.
func (s RunState) Sources() []Source {
	var out []Source
	for _, r := range s.Results {
		out = append(out, r.Sources...)
	}
	return out
}

// Checkpoint is a decoded snapshot of a run plus the node to execute next.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Next      Node      `json:"next"`
	State     RunState  `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// RunHandle identifies a run and where it currently stands.
type RunHandle struct {
	RunID string   `json:"run_id"`
	Seq   int64    `json:"seq"`
	Next  Node     `json:"next"`
	State RunState `json:"state"`
}

// Done reports whether the run reached its terminal node.
func (h RunHandle) Done() bool {
	return h.Next == NodeDone
}

// AwaitingFeedback reports whether the run is paused for human review.
func (h RunHandle) AwaitingFeedback() bool {
	return h.Next == NodeReviewHuman
}

// StepStatus is the outcome kind of a single Advance call.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepPaused    StepStatus = "paused_awaiting_input"
)

// StepOutcome describes what a single Advance call did.
type StepOutcome struct {
	Status StepStatus `json:"status"`
	// Executed is empty when the call paused without running a node.
	Executed Node     `json:"executed,omitempty"`
	Next     Node     `json:"next"`
	Seq      int64    `json:"seq"`
	State    RunState `json:"state"`
}

// Done reports whether the run reached its terminal node.
func (o StepOutcome) Done() bool {
	return o.Next == NodeDone
}

// Paused reports whether the run is waiting for human feedback.
func (o StepOutcome) Paused() bool {
	return o.Status == StepPaused
}
