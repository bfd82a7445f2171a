package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	sw "github.com/filanov/stateswitch"
	"github.com/metal-toolbox/pms/internal/batch"
	"github.com/metal-toolbox/pms/internal/runner"
	"github.com/spf13/cobra"

	"github.com/emicklei/dot"
)

type exportFlags struct {
	batchSM bool
	entrySM bool
	mermaid bool
	json    bool
}

var (
	exportFlagSet = &exportFlags{}
)

var cmdExportStatemachine = &cobra.Command{
	Use:   "export-statemachine --batch|--entry [--json|--mermaid]",
	Short: "Export the batch statemachine or the entry phases as JSON or a mermaid graph",
	Run: func(_ *cobra.Command, _ []string) {
		exportStatemachine()
	},
}

func asGraph(s *sw.StateMachineJSON) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	nodes := map[string]dot.Node{}

	for _, transition := range s.TransitionRules {
		_, exists := nodes[transition.DestinationState]
		if !exists {
			nodes[transition.DestinationState] = g.Node(transition.DestinationState)
		}

		for _, sourceState := range transition.SourceStates {
			_, exists := nodes[sourceState]
			if !exists {
				nodes[sourceState] = g.Node(sourceState)
			}

			g.Edge(nodes[sourceState], nodes[transition.DestinationState], transition.Name)
		}
	}

	return g
}

func batchStatemachine() {
	j, err := batch.DescribeAsJSON()
	if err != nil {
		log.Fatal(err)
	}

	if exportFlagSet.json {
		fmt.Println(string(j))
		os.Exit(0)
	}

	t := &sw.StateMachineJSON{}
	if err := json.Unmarshal(j, t); err != nil {
		log.Fatal(err)
	}

	fmt.Println(dot.MermaidGraph(asGraph(t), dot.MermaidTopDown))
}

func exportStatemachine() {
	if exportFlagSet.entrySM {
		if exportFlagSet.json {
			log.Fatal("the entry phases export as a mermaid graph only")
		}

		fmt.Println(dot.MermaidGraph(runner.Graph(), dot.MermaidTopDown))

		return
	}

	if exportFlagSet.batchSM {
		batchStatemachine()

		return
	}

	log.Println("expected --batch OR --entry flag")
	os.Exit(1)
}

func init() {
	cmdExportStatemachine.PersistentFlags().BoolVarP(&exportFlagSet.batchSM, "batch", "", false, "export the batch statemachine")
	cmdExportStatemachine.PersistentFlags().BoolVarP(&exportFlagSet.entrySM, "entry", "", false, "export the archive entry phases")
	cmdExportStatemachine.PersistentFlags().BoolVarP(&exportFlagSet.mermaid, "mermaid", "", true, "export statemachine in mermaid format")
	cmdExportStatemachine.PersistentFlags().BoolVarP(&exportFlagSet.json, "json", "", false, "export the batch statemachine in the JSON format")

	rootCmd.AddCommand(cmdExportStatemachine)
}
