// Package api exposes upload, registry and dashboard endpoints over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/metal-toolbox/pms/internal/aggregate"
	"github.com/metal-toolbox/pms/internal/app"
	"github.com/metal-toolbox/pms/internal/batch"
	"github.com/metal-toolbox/pms/internal/metrics"
	"github.com/metal-toolbox/pms/internal/registry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	shutdownTimeout = 30 * time.Second

	// uploads spooled beyond this size are written to temporary files.
	multipartMemory = 32 << 20
)

// Option sets a Server parameter.
type Option func(*Server)

// WithPrefix sets the path prefix the API routes are mounted on.
func WithPrefix(prefix string) Option {
	return func(s *Server) {
		s.prefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithMaxUploadBytes sets the upload request body limit.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithBatchOptions sets the options each upload batch coordinator is created with.
func WithBatchOptions(opts ...batch.Option) Option {
	return func(s *Server) {
		s.batchOpts = append(s.batchOpts, opts...)
	}
}

// Server serves the HTTP API.
type Server struct {
	registry       *registry.Registry
	stats          *aggregate.Service
	logger         *logrus.Logger
	router         *mux.Router
	prefix         string
	maxUploadBytes int64
	batchOpts      []batch.Option

	// held for the duration of an upload, uploads are not queued.
	uploadMu sync.Mutex
}

func New(reg *registry.Registry, stats *aggregate.Service, logger *logrus.Logger, opts ...Option) *Server {
	s := &Server{
		registry:       reg,
		stats:          stats,
		logger:         logger,
		prefix:         app.DefaultAPIPrefix,
		maxUploadBytes: app.DefaultMaxUploadBytes,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.routes()

	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/version", s.version).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix(s.prefix).Subrouter()
	api.HandleFunc("/upload/", s.upload).Methods(http.MethodPost)
	api.HandleFunc("/assets/", s.assets).Methods(http.MethodGet)
	api.HandleFunc("/assets/{id}", s.asset).Methods(http.MethodGet)
	api.HandleFunc("/maintenance/logs", s.maintenanceLogs).Methods(http.MethodGet)
	api.HandleFunc("/events", s.events).Methods(http.MethodGet)
	api.HandleFunc("/events/summary", s.eventSummary).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/stats", s.dashboardStats).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})

	r.Use(s.recoverer, s.requestLogger)

	return r
}

// Handler returns the instrumented API handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "pms")
}

// ListenAndServe serves the API on addr until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.WithField("address", addr).Info("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "api server shutdown")
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
