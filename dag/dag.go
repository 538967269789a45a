// Package dag renders saga definitions as gonum graphs for inspection.
package dag

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// Vertex describes one step of a chain.
type Vertex struct {
	Name  string
	Label string
}

type Graph struct {
	*simple.DirectedGraph
	name string
}

func New(name string) *Graph {
	return &Graph{DirectedGraph: simple.NewDirectedGraph(), name: name}
}

// Chain builds start -> vertices... -> end, preserving the given order.
func Chain(name string, vertices []Vertex) *Graph {
	g := New(name)
	prev := g.addNode("(start)", "(start node)")
	for _, v := range vertices {
		label := v.Label
		if label == "" {
			label = v.Name
		}
		n := g.addNode(v.Name, label)
		g.SetEdge(g.NewEdge(prev, n))
		prev = n
	}
	end := g.addNode("(end)", "(end node)")
	g.SetEdge(g.NewEdge(prev, end))
	return g
}

func (g *Graph) addNode(name, label string) *Node {
	n := &Node{Node: g.DirectedGraph.NewNode()}
	_ = n.SetAttribute(encoding.Attribute{Key: "stepName", Value: name})
	_ = n.SetAttribute(encoding.Attribute{Key: "label", Value: label})
	g.AddNode(n)
	return n
}

type Node struct {
	graph.Node
	attrs encoding.Attributes
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot() (string, error) {
	data, err := dot.Marshal(g, g.name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export DAG to DOT format: %w", err)
	}
	return string(data), nil
}
