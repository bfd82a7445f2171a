// Package aggregate computes the dashboard statistics from the registry.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/metal-toolbox/pms/internal/metrics"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/registry"
	"github.com/metal-toolbox/pms/internal/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const (
	pkgName = "internal/aggregate"

	DefaultWindow = 24 * time.Hour

	// DefaultGranularity bounds how long the time windows of cached statistics may lag.
	DefaultGranularity = time.Minute
)

// Stats are the dashboard figures.
type Stats struct {
	TotalAssets       int                  `json:"total_assets"`
	OperationalAssets int                  `json:"operational_assets"`
	RecentLogs        int                  `json:"recent_logs"`
	WarningAssets     []model.AssetSummary `json:"warning_assets"`
}

func (s *Stats) copy() *Stats {
	c := *s
	c.WarningAssets = append([]model.AssetSummary{}, s.WarningAssets...)

	return &c
}

// Option sets a Service parameter.
type Option func(*Service)

// WithCache sets the statistics cache, the default caches in process.
func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithWindows sets how far back Critical events flag an asset and events count as recent.
func WithWindows(warning, recent time.Duration) Option {
	return func(s *Service) {
		if warning > 0 {
			s.warningWindow = warning
		}

		if recent > 0 {
			s.recentWindow = recent
		}
	}
}

// WithClock sets the clock the windows are anchored on.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithScope sets the cache key namespace, services sharing a cache only share statistics
// when they read the same store under the same scope. The default scope is unique to the Service.
func WithScope(scope string) Option {
	return func(s *Service) {
		if scope != "" {
			s.scope = scope
		}
	}
}

// WithGranularity sets the cache time bucket, a zero value disables caching.
func WithGranularity(d time.Duration) Option {
	return func(s *Service) {
		s.granularity = d
	}
}

// Service computes the dashboard statistics, it never mutates the registry.
type Service struct {
	registry      *registry.Registry
	cache         Cache
	logger        *logrus.Logger
	warningWindow time.Duration
	recentWindow  time.Duration
	granularity   time.Duration
	scope         string
	now           func() time.Time
}

func New(reg *registry.Registry, logger *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		registry:      reg,
		cache:         NewMemCache(),
		logger:        logger,
		warningWindow: DefaultWindow,
		recentWindow:  DefaultWindow,
		granularity:   DefaultGranularity,
		scope:         uuid.New().String(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Stats returns the dashboard statistics.
//
// Results are cached under the scope, the windows, the store revision and the time
// bucket, a store mutation invalidates the cached value.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Service.Stats")
	defer span.End()

	now := s.now()

	if s.granularity <= 0 {
		return s.compute(ctx, now)
	}

	revision, err := s.registry.Repository().Revision(ctx)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("pms:stats:%s:%d:%d:%d:%d",
		s.scope, int64(s.warningWindow.Seconds()), int64(s.recentWindow.Seconds()),
		revision, now.Truncate(s.granularity).Unix(),
	)

	cached, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		s.countLookup("hit")
		return cached, nil
	case errors.Is(err, ErrCacheMiss):
		s.countLookup("miss")
	default:
		// an unavailable cache does not fail the dashboard
		s.countLookup("error")
		s.logger.WithError(err).Warn("stats cache lookup failed")
	}

	stats, err := s.compute(ctx, now)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, stats); err != nil {
		s.logger.WithError(err).Warn("stats cache store failed")
	}

	return stats, nil
}

func (s *Service) compute(ctx context.Context, now time.Time) (*Stats, error) {
	counts, err := s.registry.Repository().CountAssets(ctx)
	if err != nil {
		return nil, err
	}

	recent, err := s.registry.Events.RecentCount(ctx, now.Add(-s.recentWindow))
	if err != nil {
		return nil, err
	}

	tags, err := s.registry.Events.WarningAssets(ctx, now, s.warningWindow)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalAssets:       counts.Total,
		OperationalAssets: counts.Operational,
		RecentLogs:        recent,
		WarningAssets:     make([]model.AssetSummary, 0, len(tags)),
	}

	for _, tag := range tags {
		asset, err := s.registry.Asset(ctx, tag)
		if err != nil {
			if errors.Is(err, store.ErrAssetNotFound) {
				stats.WarningAssets = append(stats.WarningAssets, model.AssetSummary{ID: tag, Name: tag})
				continue
			}

			return nil, err
		}

		stats.WarningAssets = append(stats.WarningAssets, asset.Summary())
	}

	return stats, nil
}

func (s *Service) countLookup(result string) {
	metrics.StatsCacheCounter.With(map[string]string{"cache": s.cache.Kind(), "result": result}).Inc()
}
