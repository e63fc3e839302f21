package research

import (
	"errors"
	"fmt"
)

// ErrInvariant is the kind shared by every invariant violation.
var ErrInvariant = errors.New("research: invariant violation")

var (
	ErrNoCheckpoint       = fmt.Errorf("%w: no checkpoint for run", ErrInvariant)
	ErrRunCompleted       = fmt.Errorf("%w: run already completed", ErrInvariant)
	ErrRunExists          = fmt.Errorf("%w: run already exists", ErrInvariant)
	ErrUnexpectedFeedback = fmt.Errorf("%w: feedback supplied outside human review", ErrInvariant)
	ErrCorruptCheckpoint  = fmt.Errorf("%w: checkpoint cannot be decoded", ErrInvariant)
)

// ErrStore marks a failure of the persistent store. It is fatal to the step
// that hit it; nothing is retried silently.
var ErrStore = errors.New("research: store unavailable")

// ErrInvalidInput is returned for malformed Start arguments.
var ErrInvalidInput = errors.New("research: invalid input")

// NodeError reports a node whose collaborator failed after retries. The run
// keeps its previous checkpoint and can be resumed at the same node.
type NodeError struct {
	Node Node
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
