package cmd

import (
	"context"
	"log"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/pms/internal/aggregate"
	"github.com/metal-toolbox/pms/internal/api"
	"github.com/metal-toolbox/pms/internal/batch"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/version"
	"github.com/spf13/cobra"
)

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Run the pms API server to accept archive uploads and serve the registry",
	Run: func(cmd *cobra.Command, _ []string) {
		runServer(cmd.Context())
	},
}

func runServer(ctx context.Context) {
	pms, reg, closeStore, err := initRegistry(ctx)
	if err != nil {
		log.Fatal(err)
	}

	defer closeStore()

	version.ExportBuildInfoMetric()

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)
	defer otelShutdown(ctx)

	// Setup cancel context with cancel func.
	ctx, cancelFunc := context.WithCancel(ctx)

	// routine listens for termination signal and cancels the context
	go func() {
		<-pms.TermCh
		pms.Logger.Info("got TERM signal, exiting...")
		cancelFunc()
	}()

	config := pms.Config

	publisher := initPublisher(pms)
	defer publisher.Close()

	statsOpts := []aggregate.Option{
		aggregate.WithWindows(config.WarningWindow, config.RecentWindow),
	}

	if config.Redis.Addr != "" {
		cache := aggregate.NewRedisCache(config.Redis)
		defer cache.Close()

		scope := config.StatsCacheScope()
		if scope == "" {
			pms.Logger.Info("redis stats cache is private to this instance with the memory store")
		}

		statsOpts = append(statsOpts, aggregate.WithCache(cache), aggregate.WithScope(scope))
	}

	server := api.New(
		reg,
		aggregate.New(reg, pms.Logger, statsOpts...),
		pms.Logger,
		api.WithPrefix(config.APIPrefix),
		api.WithMaxUploadBytes(config.MaxUploadBytes),
		api.WithBatchOptions(
			batch.WithConcurrency(config.Concurrency),
			batch.WithLimits(config.ArchiveLimits()),
			batch.WithPublisher(publisher),
		),
	)

	if err := server.ListenAndServe(ctx, config.ListenAddress); err != nil {
		pms.Logger.WithError(err).Error("api server exited")
	}
}

func init() {
	rootCmd.AddCommand(cmdServe)
}
