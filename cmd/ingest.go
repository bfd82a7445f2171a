package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/metal-toolbox/pms/internal/batch"
	"github.com/spf13/cobra"
)

var cmdIngest = &cobra.Command{
	Use:   "ingest <archive.zip>",
	Short: "Ingest an archive into the configured store and print the processing report",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ingestArchive(cmd.Context(), args[0])
	},
}

var ingestWorker string

func ingestArchive(ctx context.Context, path string) {
	pms, reg, closeStore, err := initRegistry(ctx)
	if err != nil {
		log.Fatal(err)
	}

	defer closeStore()

	fh, err := os.Open(path)
	if err != nil {
		pms.Logger.Fatal(err)
	}

	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		pms.Logger.Fatal(err)
	}

	publisher := initPublisher(pms)
	defer publisher.Close()

	coordinator := batch.New(
		reg,
		pms.Logger,
		batch.WithConcurrency(pms.Config.Concurrency),
		batch.WithLimits(pms.Config.ArchiveLimits()),
		batch.WithWorker(ingestWorker),
		batch.WithPublisher(publisher),
	)

	report, err := coordinator.Run(ctx, fh, info.Size())
	if err != nil {
		pms.Logger.WithError(err).Fatal("archive rejected")
	}

	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		pms.Logger.Fatal(err)
	}

	fmt.Println(string(b))
}

func init() {
	cmdIngest.Flags().StringVar(&ingestWorker, "worker", "", "worker recorded on maintenance records that name none")

	rootCmd.AddCommand(cmdIngest)
}
