// Package batch runs a single uploaded archive through the ingestion pipeline.
//
// The coordinator reads the archive sequentially, processes the entries concurrently
// and assembles a processing report, a failing entry never fails the batch.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	sw "github.com/filanov/stateswitch"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/metal-toolbox/pms/internal/archive"
	"github.com/metal-toolbox/pms/internal/metrics"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/publish"
	"github.com/metal-toolbox/pms/internal/registry"
	"github.com/metal-toolbox/pms/internal/runner"
	"github.com/metal-toolbox/pms/internal/validate"
	"github.com/metal-toolbox/pms/internal/worker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	pkgName = "internal/batch"

	DefaultConcurrency = 4
)

var (
	ErrCoordinatorUsed = errors.New("coordinator already ran a batch")
)

// Batch is the state of a single upload, it implements the stateswitch.StateSwitch interface.
type Batch struct {
	ID     uuid.UUID
	Status sw.State
	Report *model.ProcessingReport
	// Err is the batch fatal error, set when the batch Failed.
	Err error
}

func (b *Batch) State() sw.State {
	return b.Status
}

func (b *Batch) SetState(state sw.State) error {
	b.Status = state
	return nil
}

// source is the archive bytes handed to the ReadArchive transition.
type source struct {
	r    io.ReaderAt
	size int64
}

// Option sets a Coordinator parameter.
type Option func(*Coordinator)

// WithConcurrency sets the count of entries processed concurrently.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		c.concurrency = n
	}
}

// WithLimits sets the archive size ceilings.
func WithLimits(limits archive.Limits) Option {
	return func(c *Coordinator) {
		c.limits = limits
	}
}

// WithWorker sets the worker recorded on maintenance records that name none.
func WithWorker(name string) Option {
	return func(c *Coordinator) {
		c.worker = name
	}
}

// WithPublisher sets the publisher the report is sent to once the batch is Done.
func WithPublisher(p publish.Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithValidator sets the record validator, the default resolves references against the registry.
func WithValidator(v *validate.Validator) Option {
	return func(c *Coordinator) {
		c.validator = v
	}
}

// Coordinator runs one batch, a Coordinator is not reused across uploads.
type Coordinator struct {
	registry    *registry.Registry
	validator   *validate.Validator
	publisher   publish.Publisher
	runner      *runner.Runner
	limiter     *worker.Limiter
	logger      *logrus.Entry
	limits      archive.Limits
	concurrency int
	worker      string
	sm          sw.StateMachine
	batch       *Batch
	started     time.Time
	used        atomic.Bool

	mu sync.Mutex
	// entries in archive order, results are written by the entry handlers.
	entries []*entry
	// deferred holds entries parked on an unresolved asset tag, keyed by the tag.
	deferred map[string][]*entry
}

// New returns a Coordinator admitting records into the registry.
func New(reg *registry.Registry, logger *logrus.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:    reg,
		publisher:   publish.Noop{},
		limits:      archive.DefaultLimits(),
		concurrency: DefaultConcurrency,
		deferred:    map[string][]*entry{},
		batch:       &Batch{ID: uuid.New(), Status: StateIdle},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.validator == nil {
		c.validator = validate.New(reg)
	}

	c.logger = logger.WithField("batchID", c.batch.ID.String())
	c.runner = runner.New(c.logger)
	c.limiter = worker.NewLimiter(c.concurrency)
	c.sm = newStateMachine(c)

	return c
}

// BatchID returns the identifier of the batch this coordinator runs.
func (c *Coordinator) BatchID() uuid.UUID {
	return c.batch.ID
}

// State returns the batch state, it is written by Run and not safe to read while Run is in progress.
func (c *Coordinator) State() sw.State {
	return c.batch.Status
}

// Run processes the archive and returns its processing report.
//
// The batch ignores cancellation of ctx, entries admitted are never rolled back. An archive
// whose container cannot be read fails the batch with model.ErrArchiveCorrupt and no report.
func (c *Coordinator) Run(ctx context.Context, r io.ReaderAt, size int64) (*model.ProcessingReport, error) {
	if !c.used.CompareAndSwap(false, true) {
		return nil, ErrCoordinatorUsed
	}

	// a client disconnect does not abort the batch.
	ctx = context.WithoutCancel(ctx)

	ctx, span := otel.Tracer(pkgName).Start(ctx, "Coordinator.Run")
	defer span.End()

	span.SetAttributes(
		attribute.String("batchID", c.batch.ID.String()),
		attribute.Int64("size", size),
	)

	c.started = time.Now()
	c.batch.Report = model.NewProcessingReport(c.batch.ID)

	args := &transitionArgs{ctx: ctx, source: source{r: r, size: size}}

	for _, transitionType := range []sw.TransitionType{TransitionStart, TransitionFinalize, TransitionComplete} {
		err := c.sm.Run(transitionType, c.batch, args)
		if err == nil {
			continue
		}

		if errors.Is(err, sw.NoConditionPassedToRunTransaction) {
			err = errors.Wrap(
				ErrBatchTransition,
				fmt.Sprintf("no transition rule found for transition type '%s' and state '%s'", transitionType, c.batch.Status),
			)
		}

		args.err = err
		// the fail transition only records the error, the original error is returned
		_ = c.sm.Run(TransitionFail, c.batch, args)

		span.RecordError(err)

		return nil, err
	}

	c.publish(ctx)

	return c.batch.Report, nil
}

// transitionArgs is passed to each transition handler.
type transitionArgs struct {
	ctx    context.Context
	source source
	err    error
}

func argsFrom(args sw.TransitionArgs) (*transitionArgs, error) {
	targs, ok := args.(*transitionArgs)
	if !ok {
		return nil, errors.Wrap(ErrInvalidBatch, "transition args")
	}

	return targs, nil
}

func (c *Coordinator) Start(_ sw.StateSwitch, _ sw.TransitionArgs) error {
	c.logger.WithFields(logrus.Fields{"concurrency": c.concurrency}).Debug("batch started")

	return nil
}

func (c *Coordinator) ReadArchive(_ sw.StateSwitch, args sw.TransitionArgs) error {
	targs, err := argsFrom(args)
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer(pkgName).Start(targs.ctx, "Coordinator.ReadArchive")
	defer span.End()

	reader, err := archive.Open(targs.source.r, targs.source.size, c.limits)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("members", reader.Members()))

	for {
		archived, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return err
		}

		// archive reading is sequential, entry processing is concurrent.
		e := c.newEntry(archived)
		e.data, e.readErr = archived.Bytes()

		c.dispatch(ctx, func() {
			c.runner.RunEntry(ctx, e)
		}, e)
	}

	c.batch.Report.Status.Append(fmt.Sprintf("archive read, %d bytes inflated", reader.Consumed()))

	return nil
}

func (c *Coordinator) Finalize(_ sw.StateSwitch, args sw.TransitionArgs) error {
	targs, err := argsFrom(args)
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer(pkgName).Start(targs.ctx, "Coordinator.Finalize")
	defer span.End()

	// barrier, every entry dispatched while reading has completed or deferred.
	c.limiter.Wait()

	replay := c.takeDeferred()
	span.SetAttributes(attribute.Int("deferred", len(replay)))

	for _, e := range replay {
		e.replay = true

		c.dispatch(ctx, func() {
			c.runner.RunFrom(ctx, runner.PhaseValidate, e)
		}, e)
	}

	c.limiter.StopWait()

	c.mu.Lock()
	defer c.mu.Unlock()

	report := c.batch.Report
	for _, e := range c.entries {
		report.Add(e.result)
	}

	if len(replay) > 0 {
		report.Status.Append(fmt.Sprintf("%d deferred entries replayed", len(replay)))
	}

	report.CompletedAt = time.Now()

	c.logger.WithFields(logrus.Fields{
		"total":     report.Stats.TotalFiles,
		"processed": report.Stats.Processed,
		"errors":    report.Stats.Errors,
	}).Info("batch done")

	return nil
}

func (c *Coordinator) Failed(_ sw.StateSwitch, args sw.TransitionArgs) error {
	targs, err := argsFrom(args)
	if err != nil {
		return err
	}

	// entries dispatched before the failure run to completion, they are admitted and not rolled back.
	c.limiter.StopWait()

	c.batch.Err = targs.err
	c.batch.Report = nil

	c.logger.WithError(targs.err).Warn("batch failed")

	return nil
}

func (c *Coordinator) SaveState(ss sw.StateSwitch, _ sw.TransitionArgs) error {
	b, ok := ss.(*Batch)
	if !ok {
		return ErrInvalidBatch
	}

	switch b.Status {
	case StateDone, StateFailed:
		metrics.BatchCounter.With(map[string]string{"state": string(b.Status)}).Inc()
		metrics.BatchRunTimeSummary.With(map[string]string{"state": string(b.Status)}).
			Observe(time.Since(c.started).Seconds())
	}

	if b.Report != nil {
		b.Report.Status.Append("batch " + string(b.Status))
	}

	c.logger.WithField("state", b.Status).Debug("batch state")

	return nil
}

// dispatch hands the entry to the limiter, backing off while the concurrency limit is reached.
func (c *Coordinator) dispatch(ctx context.Context, f func(), e *entry) {
	// nolint:gomnd // time duration definitions are clear as is.
	delay := &backoff.Backoff{
		Min:    time.Millisecond,
		Max:    100 * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := c.limiter.Dispatch(f)
		if err == nil {
			return
		}

		if !errors.Is(err, worker.ErrLimiterConcurrency) {
			// the limiter is drained once the batch is done, not expected while entries remain.
			e.OnFailure(ctx, runner.PhaseClassify, err)
			return
		}

		time.Sleep(delay.Duration())
	}
}

func (c *Coordinator) newEntry(archived *archive.Entry) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{
		c:       c,
		member:  archived.Name,
		started: time.Now(),
		logger:  c.logger.WithField("member", archived.Name),
		result:  model.EntryResult{Member: archived.Name, Kind: model.KindUnrecognized},
	}

	c.entries = append(c.entries, e)

	return e
}

func (c *Coordinator) deferEntry(tag string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deferred[tag] = append(c.deferred[tag], e)
}

// takeDeferred returns the deferred entries ordered by tag then by deferral.
func (c *Coordinator) takeDeferred() []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	tags := make([]string, 0, len(c.deferred))
	for tag := range c.deferred {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	replay := []*entry{}
	for _, tag := range tags {
		replay = append(replay, c.deferred[tag]...)
	}

	c.deferred = map[string][]*entry{}

	return replay
}

func (c *Coordinator) publish(ctx context.Context) {
	if err := c.publisher.Publish(ctx, c.batch.Report); err != nil {
		// publishing is best effort, the report is still returned
		c.logger.WithError(err).Warn("report publish failed")
	}
}

// spanEntry starts a span for an entry phase.
func spanEntry(ctx context.Context, name, member string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, name)
	span.SetAttributes(attribute.String("member", member))

	return ctx, span
}

// Ingest runs a batch for the archive held in data.
func Ingest(ctx context.Context, reg *registry.Registry, logger *logrus.Logger, data []byte, opts ...Option) (*model.ProcessingReport, error) {
	return New(reg, logger, opts...).Run(ctx, bytes.NewReader(data), int64(len(data)))
}
