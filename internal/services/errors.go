package services

import (
	"context"
	"errors"
	"fmt"
)

// PartialError reports a multi-row operation that stopped partway: the steps
// in Completed were applied and are durable, the failing step is wrapped in
// Err. Callers surface it so the caller knows a reconciliation pass is needed.
type PartialError struct {
	Op        string
	Completed []string
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s: applied %d of %d steps: %v", e.Op, len(e.Completed), len(e.Completed)+1, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// step is one named sub-operation of a propagating edit or delete.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// runSteps executes steps in order and stops at the first failure. A failure
// on the first step comes back as a plain wrapped error, since nothing was
// mutated; a later failure comes back as a *PartialError listing what stuck.
func runSteps(ctx context.Context, op string, steps []step) error {
	var completed []string
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			if len(completed) == 0 {
				return fmt.Errorf("%s: %s: %w", op, s.name, err)
			}
			return &PartialError{Op: op, Completed: completed, Err: fmt.Errorf("%s: %w", s.name, err)}
		}
		completed = append(completed, s.name)
	}
	return nil
}

// wrapTriggerError folds a materialization failure that followed a successful
// insert into a PartialError rooted at the insert. The inserted entity is
// durable either way; the caller reports the whole operation as partial.
func wrapTriggerError(op string, err error) error {
	var pe *PartialError
	if errors.As(err, &pe) {
		return &PartialError{Op: op, Completed: append([]string{"insert"}, pe.Completed...), Err: pe.Err}
	}
	return &PartialError{Op: op, Completed: []string{"insert"}, Err: err}
}
