package cmd

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/davecgh/go-spew/spew"
	"github.com/metal-toolbox/pms/internal/app"
	"github.com/metal-toolbox/pms/internal/client"
	"github.com/spf13/cobra"
)

type clientFlags struct {
	serverURL string
	apiPrefix string
	worker    string
	dump      bool
}

var (
	clientFlagSet = &clientFlags{}
)

var cmdUpload = &cobra.Command{
	Use:   "upload <archive.zip> --server <url> [--worker <name>]",
	Short: "Upload an archive to a running pms server and print the processing result",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := newClient()

		resp, err := c.Upload(cmd.Context(), args[0], clientFlagSet.worker)
		if err != nil {
			log.Fatal(err)
		}

		printJSON(resp)
	},
}

var cmdStats = &cobra.Command{
	Use:   "stats --server <url> [--dump]",
	Short: "Print the dashboard statistics of a running pms server",
	Run: func(cmd *cobra.Command, _ []string) {
		c := newClient()

		stats, err := c.Stats(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}

		if clientFlagSet.dump {
			spew.Dump(stats)
			return
		}

		printJSON(stats)
	},
}

func newClient() *client.Client {
	c, err := client.New(clientFlagSet.serverURL, client.WithPrefix(clientFlagSet.apiPrefix))
	if err != nil {
		log.Fatal(err)
	}

	return c
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(string(b))
}

func init() {
	for _, c := range []*cobra.Command{cmdUpload, cmdStats} {
		c.Flags().StringVar(&clientFlagSet.serverURL, "server", "http://localhost"+app.DefaultListenAddress, "pms server URL")
		c.Flags().StringVar(&clientFlagSet.apiPrefix, "api-prefix", app.DefaultAPIPrefix, "pms server API path prefix")

		rootCmd.AddCommand(c)
	}

	cmdUpload.Flags().StringVar(&clientFlagSet.worker, "worker", "", "worker recorded on maintenance records that name none")
	cmdStats.Flags().BoolVarP(&clientFlagSet.dump, "dump", "", false, "dump the statistics as Go values")
}
