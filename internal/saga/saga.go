package saga

import (
	"context"
	"fmt"
	"log/slog"
)

// Step is one forward mutation with its undo. Compensate may be nil for
// steps that need no undo (reads, fire-and-forget side effects).
type Step struct {
	Name       string
	Forward    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// AfterSuccess is a hook that runs only once every forward step committed.
type AfterSuccess func(ctx context.Context)

// InconsistencyError reports a compensation that itself failed: the store is
// left in a state the chain could not repair and needs manual review.
type InconsistencyError struct {
	FailedStep string
	CompStep   string
	Cause      error
	CompCause  error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf(
		"saga: step %q failed (%v); compensation %q also failed (%v), manual review required",
		e.FailedStep, e.Cause, e.CompStep, e.CompCause,
	)
}

func (e *InconsistencyError) Unwrap() error { return e.Cause }

// Runner executes compensation chains. The store underneath only guarantees
// per-statement atomicity, so the reverse-step list is the atomicity
// mechanism: a caller never sees success unless every forward step committed.
type Runner struct {
	log *slog.Logger
}

func NewRunner(log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{log: log}
}

// Run executes steps in order. On the first forward failure it compensates
// the already-committed steps in reverse order, then returns the forward
// error; after hooks run only on full success.
//
// Compensation runs exactly once per committed step, with cancellation
// stripped from the context: a caller that has already timed out must not be
// able to abort the undo half-way.
func (r *Runner) Run(ctx context.Context, steps []Step, after ...AfterSuccess) error {
	var done []Step

	for _, st := range steps {
		if err := st.Forward(ctx); err != nil {
			if ierr := r.compensate(context.WithoutCancel(ctx), done, st.Name, err); ierr != nil {
				return ierr
			}
			return err
		}
		done = append(done, st)
	}

	for _, h := range after {
		h(ctx)
	}

	return nil
}

// compensate undoes done steps in reverse order. All compensations are
// attempted even after one fails; the first failure is reported. There is no
// automatic retry.
func (r *Runner) compensate(ctx context.Context, done []Step, failedStep string, cause error) *InconsistencyError {
	var ierr *InconsistencyError

	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.Compensate == nil {
			continue
		}

		if err := st.Compensate(ctx); err != nil {
			r.log.Error("saga compensation failed",
				"failed_step", failedStep,
				"compensation", st.Name,
				"error", err,
			)
			if ierr == nil {
				ierr = &InconsistencyError{
					FailedStep: failedStep,
					CompStep:   st.Name,
					Cause:      cause,
					CompCause:  err,
				}
			}
		}
	}

	return ierr
}
