package partitioner

import (
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
)

// maxVizNodes bounds rendering; graphviz layouts degrade far earlier.
const maxVizNodes = 2000

var palette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// RenderAssignment draws the graph with one fill color per partition and
// writes a PNG. Intended as a debugging aid on small graphs.
func RenderAssignment(g *graph.Graph, assign []int64, numParts int, path string) error {
	if g.NumNodes() > maxVizNodes {
		return fmt.Errorf("graph too large to render (%d nodes, limit %d)", g.NumNodes(), maxVizNodes)
	}
	gv := graphviz.New()
	gr, err := gv.Graph()
	if err != nil {
		return fmt.Errorf("partitioner: cannot create render graph: %w", err)
	}
	defer func() {
		_ = gr.Close()
		_ = gv.Close()
	}()
	nodes := make([]*cgraph.Node, g.NumNodes())
	for i := int64(0); i < g.NumNodes(); i++ {
		n, err := gr.CreateNode(fmt.Sprintf("n%d", i))
		if err != nil {
			return err
		}
		n.SetStyle(cgraph.FilledNodeStyle)
		n.SetFillColor(palette[int(assign[i])%len(palette)])
		nodes[i] = n
	}
	src, dst := g.Edges()
	for e := range src {
		if _, err := gr.CreateEdge(fmt.Sprintf("e%d", e), nodes[src[e]], nodes[dst[e]]); err != nil {
			return err
		}
	}
	return gv.RenderFilename(gr, graphviz.PNG, path)
}
