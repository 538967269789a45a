package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/graph/topo"
)

func TestChainPreservesOrder(t *testing.T) {
	g := Chain("Trip", []Vertex{
		{Name: "car", Label: "Book car"},
		{Name: "flight"},
		{Name: "hotel"},
	})

	assert.Equal(t, 5, g.Nodes().Len())
	assert.Equal(t, 4, g.Edges().Len())

	sorted, err := topo.Sort(g)
	require.NoError(t, err)

	var names []string
	for _, n := range sorted {
		for _, attr := range n.(*Node).Attributes() {
			if attr.Key == "stepName" {
				names = append(names, attr.Value)
			}
		}
	}
	assert.Equal(t, []string{"(start)", "car", "flight", "hotel", "(end)"}, names)
}

func TestExportToDot(t *testing.T) {
	g := Chain("Trip", []Vertex{{Name: "car"}})

	out, err := g.ExportToDot()
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, "car")
	assert.Contains(t, out, "->")
}
