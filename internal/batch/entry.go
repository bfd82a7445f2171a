package batch

import (
	"context"
	"time"

	"github.com/metal-toolbox/pms/internal/classify"
	"github.com/metal-toolbox/pms/internal/metrics"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/parse"
	"github.com/metal-toolbox/pms/internal/registry"
	"github.com/metal-toolbox/pms/internal/runner"
	"github.com/metal-toolbox/pms/internal/validate"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// entry is a single archive member, it implements the runner.Handler interface.
//
// An entry is run by one goroutine at a time, its result is read once the limiter is drained.
type entry struct {
	c       *Coordinator
	member  string
	data    []byte
	readErr error
	kind    model.Kind
	parsed  *parse.Result
	replay  bool
	started time.Time
	logger  *logrus.Entry
	result  model.EntryResult
}

func (e *entry) Classify(ctx context.Context) error {
	_, span := spanEntry(ctx, "Entry.Classify", e.member)
	defer span.End()

	if e.readErr != nil {
		// classify by name only so the report carries the kind of an unreadable member.
		e.kind = classify.Classify(e.member, nil)
		return e.readErr
	}

	e.kind = classify.Classify(e.member, e.data)
	if e.kind == model.KindUnrecognized {
		return errors.Wrap(model.ErrUnrecognized, "no record kind matches the member name or content")
	}

	return nil
}

func (e *entry) Parse(ctx context.Context) error {
	_, span := spanEntry(ctx, "Entry.Parse", e.member)
	defer span.End()

	parsed, err := parse.Parse(e.kind, e.member, e.data)
	if err != nil {
		return err
	}

	e.parsed = parsed
	e.data = nil

	return nil
}

func (e *entry) Validate(ctx context.Context) error {
	ctx, span := spanEntry(ctx, "Entry.Validate", e.member)
	defer span.End()

	err := e.c.validator.Result(ctx, e.parsed)
	if err == nil {
		return nil
	}

	var unresolved *validate.UnresolvedError
	if errors.As(err, &unresolved) && !e.replay {
		// the referenced assets may be admitted by an entry later in the archive.
		return &deferError{tag: unresolved.Tags[0], cause: unresolved}
	}

	return err
}

// Admit upserts the assets of the entry before appending its maintenance and event records,
// an entry sighting an asset also refers to it.
func (e *entry) Admit(ctx context.Context) error {
	ctx, span := spanEntry(ctx, "Entry.Admit", e.member)
	defer span.End()

	reg := e.c.registry

	for _, a := range e.parsed.Assets {
		_, change, err := reg.Upsert(ctx, a)
		if err != nil {
			return errors.Wrap(err, "asset "+a.Tag)
		}

		if change != registry.ChangeUnchanged {
			e.logger.WithFields(logrus.Fields{"asset": a.Tag, "change": change}).Trace("asset admitted")
		}
	}

	for _, m := range e.parsed.Maintenance {
		if m.Worker == "" {
			m.Worker = e.c.worker
		}

		m.BatchID = e.c.batch.ID

		if err := reg.History.Append(ctx, m); err != nil {
			return errors.Wrap(err, "maintenance record of "+m.AssetTag)
		}
	}

	for _, ev := range e.parsed.Events {
		if err := reg.Events.Append(ctx, ev); err != nil {
			return errors.Wrap(err, "event record of "+ev.AssetTag)
		}
	}

	return nil
}

func (e *entry) OnSuccess(_ context.Context) {
	e.result.Kind = e.kind
	e.result.Outcome = model.OutcomeAdmitted
	e.result.Records = e.parsed.Len()

	metrics.RecordsCounter.With(map[string]string{"kind": string(e.kind)}).Add(float64(e.result.Records))
	e.done()
}

func (e *entry) OnFailure(_ context.Context, phase runner.Phase, err error) {
	e.result.Kind = e.kind
	if e.result.Kind == "" {
		e.result.Kind = model.KindUnrecognized
	}

	e.result.Outcome = model.OutcomeRejected
	e.result.Reason = err.Error()
	e.result.ErrorKind = model.ErrorKind(err)

	e.logger.WithFields(logrus.Fields{
		"kind":  e.result.Kind,
		"phase": phase,
		"err":   err.Error(),
	}).Info("entry rejected")

	e.data = nil
	e.done()
}

func (e *entry) OnDefer(_ context.Context, _ runner.Phase, err error) {
	var derr *deferError
	if !errors.As(err, &derr) {
		return
	}

	e.logger.WithFields(logrus.Fields{"asset": derr.tag}).Debug("entry deferred")
	e.c.deferEntry(derr.tag, e)
}

func (e *entry) done() {
	labels := map[string]string{"kind": string(e.result.Kind), "outcome": string(e.result.Outcome)}

	metrics.EntriesCounter.With(labels).Inc()
	metrics.EntryRunTimeSummary.With(labels).Observe(time.Since(e.started).Seconds())
}

// deferError parks an entry on the first of its unresolved asset tags.
type deferError struct {
	tag   string
	cause *validate.UnresolvedError
}

func (d *deferError) Error() string {
	return runner.ErrDefer.Error() + ": " + d.cause.Error()
}

func (d *deferError) Is(target error) bool {
	return target == runner.ErrDefer
}

func (d *deferError) Unwrap() error {
	return d.cause
}
