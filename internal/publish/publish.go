// Package publish sends processing reports to subscribers once a batch is done.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/metal-toolbox/pms/internal/app"
	"github.com/metal-toolbox/pms/internal/metrics"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/types"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// only batches that reached Done carry a report.
const reportState = "Done"

var (
	ErrPublishReport = errors.New("error in publish processing report")
	ErrConnect       = errors.New("error connecting to NATS")
)

// Publisher defines methods to publish processing reports.
type Publisher interface {
	Publish(ctx context.Context, report *model.ProcessingReport) error
	Close()
}

// New returns a NATS report publisher when an URL is configured, otherwise a no-op publisher.
func New(opts *app.NATSOptions, logger *logrus.Logger) (Publisher, error) {
	if opts == nil || opts.URL == "" {
		return Noop{}, nil
	}

	return NewNATS(opts, logger)
}

// Noop discards reports.
type Noop struct{}

func (Noop) Publish(context.Context, *model.ProcessingReport) error { return nil }

func (Noop) Close() {}

// NATSPublisher publishes reports wrapped in a types.ReportMessage on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *logrus.Entry
}

// NewNATS connects to the NATS server.
func NewNATS(opts *app.NATSOptions, logger *logrus.Logger) (*NATSPublisher, error) {
	connectOpts := []nats.Option{
		nats.Name("pms"),
		nats.Timeout(opts.ConnectTimeout),
	}

	if opts.CredsFile != "" {
		connectOpts = append(connectOpts, nats.UserCredentials(opts.CredsFile))
	}

	conn, err := nats.Connect(opts.URL, connectOpts...)
	if err != nil {
		return nil, errors.Wrap(ErrConnect, err.Error())
	}

	return &NATSPublisher{
		conn:    conn,
		subject: opts.Subject,
		logger:  logger.WithField("subject", opts.Subject),
	}, nil
}

// Publish sends the report and flushes the connection, bounded by the context deadline or five seconds.
func (p *NATSPublisher) Publish(ctx context.Context, report *model.ProcessingReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(ErrPublishReport, err.Error())
	}

	msg := &types.ReportMessage{
		PublishedAt: time.Now(),
		Source:      model.AppName,
		BatchID:     report.BatchID.String(),
		State:       reportState,
		Report:      body,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		msg.TraceID = sc.TraceID().String()
		msg.SpanID = sc.SpanID().String()
	}

	if err := p.conn.Publish(p.subject, msg.MustBytes()); err != nil {
		metrics.PublishCounter.With(map[string]string{"result": "failed"}).Inc()
		return errors.Wrap(ErrPublishReport, err.Error())
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		// nolint:gomnd // time duration definitions are clear as is.
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	if err := p.conn.FlushWithContext(ctx); err != nil {
		metrics.PublishCounter.With(map[string]string{"result": "failed"}).Inc()
		return errors.Wrap(ErrPublishReport, err.Error())
	}

	metrics.PublishCounter.With(map[string]string{"result": "published"}).Inc()
	p.logger.WithField("batchID", report.BatchID.String()).Trace("report published")

	return nil
}

func (p *NATSPublisher) Close() {
	p.conn.Close()
}
