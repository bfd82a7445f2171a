package runner

import (
	"github.com/emicklei/dot"
)

// Graph returns the entry phase graph.
func Graph() *dot.Graph {
	g := dot.NewGraph(dot.Directed)

	classify := g.Node(string(PhaseClassify))
	parse := g.Node(string(PhaseParse))
	validate := g.Node(string(PhaseValidate))
	admit := g.Node(string(PhaseAdmit))

	admitted := g.Node("admitted")
	rejected := g.Node("rejected")
	deferred := g.Node("deferred")

	g.Edge(classify, parse, "recognized kind")
	g.Edge(classify, rejected, "Unrecognized or EntryTooLarge")
	g.Edge(parse, validate, "records read")
	g.Edge(parse, rejected, "ParseError")
	g.Edge(validate, admit, "valid")
	g.Edge(validate, rejected, "ValidationFailed")
	g.Edge(validate, deferred, "unresolved asset reference")
	g.Edge(deferred, validate, "Finalizing replay")
	g.Edge(admit, admitted, "records appended")

	return g
}
