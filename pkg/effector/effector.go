// Package effector defines the contract through which the planner's
// ordered action stream is applied to the host, plus two
// implementations: a recorder for tests and dry runs, and a reference
// effector that downloads artifacts and drives dpkg.
package effector

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/praxis-pm/praxis/pkg/plan"
)

// Effector applies an ordered action stream. Implementations are
// synchronous and fail fast: the first failed action aborts the rest,
// and no compensating rollback is attempted by the caller.
type Effector interface {
	Apply(ctx context.Context, actions []plan.Action) error
}

// FailureError wraps the action that an effector rejected.
type FailureError struct {
	Action plan.Action
	Err    error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("effector rejected %s: %v", e.Action, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// Recorder is an Effector that remembers what it was asked to do. A
// non-nil FailOn makes it reject the first matching action, for
// exercising abort behavior.
type Recorder struct {
	Applied []plan.Action
	FailOn  func(plan.Action) bool
}

func (r *Recorder) Apply(ctx context.Context, actions []plan.Action) error {
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.FailOn != nil && r.FailOn(a) {
			return &FailureError{Action: a, Err: errors.New("refused by recorder")}
		}
		r.Applied = append(r.Applied, a)
	}
	return nil
}
