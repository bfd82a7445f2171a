package runner

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Phase is a step an archive entry is run through.
type Phase string

const (
	PhaseClassify Phase = "Classify"
	PhaseParse    Phase = "Parse"
	PhaseValidate Phase = "Validate"
	PhaseAdmit    Phase = "Admit"
)

var (
	// ErrDefer is returned by a phase to park the entry,
	// the entry is run again from the same phase once the archive is read.
	ErrDefer = errors.New("entry deferred")

	ErrUnknownPhase = errors.New("unknown phase")
	ErrPanic        = errors.New("entry handler panic")
)

// Phases returns the entry phases in the order they are run.
func Phases() []Phase {
	return []Phase{PhaseClassify, PhaseParse, PhaseValidate, PhaseAdmit}
}

// A Runner instance runs a single archive entry through its phases,
// stopping at the first phase that fails or defers.
type Runner struct {
	logger *logrus.Entry
}

// Handler implements the phases of an entry.
type Handler interface {
	Classify(ctx context.Context) error
	Parse(ctx context.Context) error
	Validate(ctx context.Context) error
	Admit(ctx context.Context) error
	OnSuccess(ctx context.Context)
	OnFailure(ctx context.Context, phase Phase, err error)
	OnDefer(ctx context.Context, phase Phase, err error)
}

// Result is the outcome of a run.
type Result struct {
	// Phase is the last phase run.
	Phase Phase
	// Deferred is set when the entry was parked at Phase.
	Deferred bool
	// Err is the error the run stopped on, nil on success.
	Err error
}

func New(logger *logrus.Entry) *Runner {
	return &Runner{
		logger: logger,
	}
}

// RunEntry runs the entry through all phases.
func (r *Runner) RunEntry(ctx context.Context, handler Handler) Result {
	return r.RunFrom(ctx, PhaseClassify, handler)
}

// RunFrom runs the entry through the phases beginning at from.
func (r *Runner) RunFrom(ctx context.Context, from Phase, handler Handler) (result Result) {
	funcs := map[Phase]func(context.Context) error{
		PhaseClassify: handler.Classify,
		PhaseParse:    handler.Parse,
		PhaseValidate: handler.Validate,
		PhaseAdmit:    handler.Admit,
	}

	phases := Phases()

	start := -1

	for i, p := range phases {
		if p == from {
			start = i
		}
	}

	if start < 0 {
		err := errors.Wrap(ErrUnknownPhase, string(from))
		handler.OnFailure(ctx, from, err)

		return Result{Phase: from, Err: err}
	}

	// a panic in a handler rejects the entry, the batch carries on.
	defer func() {
		if rec := recover(); rec != nil {
			err := errors.Wrap(ErrPanic, fmt.Sprintf("%v", rec))
			r.logger.WithField("phase", result.Phase).Error(err.Error())
			handler.OnFailure(ctx, result.Phase, err)

			result.Err = err
			result.Deferred = false
		}
	}()

	for _, phase := range phases[start:] {
		result.Phase = phase

		err := funcs[phase](ctx)
		if err == nil {
			continue
		}

		result.Err = err

		if errors.Is(err, ErrDefer) {
			result.Deferred = true
			r.logger.WithFields(logrus.Fields{"phase": phase, "err": err.Error()}).Debug("entry deferred")
			handler.OnDefer(ctx, phase, err)

			return result
		}

		r.logger.WithFields(logrus.Fields{"phase": phase, "err": err.Error()}).Debug("entry failed")
		handler.OnFailure(ctx, phase, err)

		return result
	}

	handler.OnSuccess(ctx)

	return result
}
