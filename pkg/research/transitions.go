package research

// Route returns the node that follows from once it has executed against s.
// It returns "" for DONE and for unknown nodes.
//
//	PLAN                      -> GENERATE_QUERIES
//	GENERATE_QUERIES          -> SEARCH
//	SEARCH                    -> REVIEW_HUMAN                 (human mode)
//	SEARCH                    -> ANALYZE_GAPS                 (auto mode, loop_count < max_loops)
//	SEARCH                    -> SYNTHESIZE                   (auto mode, loop_count >= max_loops)
//	REVIEW_HUMAN, ANALYZE_GAPS -> GENERATE_FEEDBACK_QUERIES   (feedback present)
//	REVIEW_HUMAN, ANALYZE_GAPS -> SYNTHESIZE                  (no feedback)
//	GENERATE_FEEDBACK_QUERIES -> SEARCH
//	SYNTHESIZE                -> DONE
func Route(from Node, s RunState) Node {
	switch from {
	case NodePlan:
		return NodeGenerateQueries
	case NodeGenerateQueries, NodeGenerateFeedbackQueries:
		return NodeSearch
	case NodeSearch:
		if s.Mode == ModeHuman {
			return NodeReviewHuman
		}
		if s.LoopCount < s.MaxLoops {
			return NodeAnalyzeGaps
		}
		return NodeSynthesize
	case NodeReviewHuman, NodeAnalyzeGaps:
		if s.Feedback != "" {
			return NodeGenerateFeedbackQueries
		}
		return NodeSynthesize
	case NodeSynthesize:
		return NodeDone
	}
	return ""
}
