package cmd

import (
	"context"
	"os"

	"github.com/metal-toolbox/pms/internal/app"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/publish"
	"github.com/metal-toolbox/pms/internal/registry"
	"github.com/metal-toolbox/pms/internal/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel int
	debug    bool
	trace    bool
)

var (
	ErrStore = errors.New("store error")
)

var rootCmd = &cobra.Command{
	Use:   model.AppName,
	Short: "Ingest maintenance archives of plant assets and serve the asset registry",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		switch {
		case trace:
			logLevel = model.LogLevelTrace
		case debug:
			logLevel = model.LogLevelDebug
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initStore returns the configured repository and a func to release it.
func initStore(ctx context.Context, config *app.Configuration, logger *logrus.Logger) (store.Repository, func(), error) {
	switch config.StoreKind {
	case model.StoreKindMemory:
		return store.NewMemStore(), func() {}, nil
	case model.StoreKindPostgres:
		pg, err := store.OpenPostgres(ctx, config.Postgres, logger)
		if err != nil {
			return nil, nil, err
		}

		return pg, func() {
			if err := pg.Close(); err != nil {
				logger.WithError(err).Warn("postgres close")
			}
		}, nil
	}

	return nil, nil, errors.Wrap(ErrStore, "unsupported store kind: "+string(config.StoreKind))
}

// initRegistry loads the app and opens the registry on the configured store.
func initRegistry(ctx context.Context) (*app.App, *registry.Registry, func(), error) {
	pms, err := app.New(cfgFile, logLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	repo, closeStore, err := initStore(ctx, pms.Config, pms.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	return pms, registry.New(repo, pms.Logger), closeStore, nil
}

// initPublisher returns the report publisher, a no-op publisher when NATS is not configured.
func initPublisher(pms *app.App) publish.Publisher {
	p, err := publish.New(pms.Config.NATS, pms.Logger)
	if err != nil {
		// reports are still returned to the uploader
		pms.Logger.WithError(err).Warn("report publisher disabled")
		return publish.Noop{}
	}

	return p
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file, PMS_* environment variables override its values")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "", false, "set debug level logging")
	rootCmd.PersistentFlags().BoolVarP(&trace, "trace", "", false, "set trace level logging")
}
