// Package graph holds the concept dependency graph produced by
// decomposition and consumed, read-only, by synthesis and alignment.
// Nodes live in an arena keyed by stable identity; a secondary index maps
// normalized names to nodes so shared sub-concepts dedup to a single entity.
package graph

import (
	"proofforge/internal/logging"
)

// Graph is the mutable concept dependency graph. It is created with only
// the root node, grows monotonically during decomposition, and never
// shrinks. It is not safe for concurrent mutation; the pipeline mutates it
// from a single goroutine and later stages only read it.
type Graph struct {
	Root   *Node
	nodes  map[string]*Node // by ID
	byName map[string]*Node // by normalized name
}

// New creates a graph containing only the root concept.
func New(rootName string) *Graph {
	root := newNode(rootName, nil)
	g := &Graph{
		Root:   root,
		nodes:  map[string]*Node{root.ID: root},
		byName: map[string]*Node{root.Key(): root},
	}
	return g
}

// AddNode creates a node named name as a dependency of parent. If a node
// with the same normalized name already exists, no new entity is created:
// the existing node is linked as a dependency of parent and returned.
func (g *Graph) AddNode(name string, parent *Node) *Node {
	if existing := g.FindByName(name); existing != nil {
		parent.appendDependency(existing)
		logging.GraphDebug("dedup: %q linked under %q", existing.Name, parent.Name)
		return existing
	}

	n := newNode(name, parent)
	parent.Dependencies = append(parent.Dependencies, n)
	g.nodes[n.ID] = n
	g.byName[n.Key()] = n
	return n
}

// appendDependency links dep under n unless the edge already exists.
func (n *Node) appendDependency(dep *Node) {
	for _, d := range n.Dependencies {
		if d.ID == dep.ID {
			return
		}
	}
	n.Dependencies = append(n.Dependencies, dep)
}

// FindByName looks up an existing node by exact normalized name.
// Returns nil when absent; never fuzzy.
func (g *Graph) FindByName(name string) *Node {
	return g.byName[NormalizeName(name)]
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// BuildOrder returns a deterministic bottom-up construction order: a
// post-order DFS from the root with a visited set keyed by node identity.
// Every dependency appears strictly before any node that depends on it.
// Cross-links introduced by name dedup cannot cause revisits or cycles
// because each identity is emitted at most once. The order is a pure
// function of current graph state and can be recomputed at any time.
func (g *Graph) BuildOrder() []*Node {
	order := make([]*Node, 0, len(g.nodes))
	visited := make(map[string]bool, len(g.nodes))

	var visit func(n *Node)
	visit = func(n *Node) {
		if visited[n.ID] {
			return
		}
		visited[n.ID] = true
		for _, dep := range n.Dependencies {
			visit(dep)
		}
		order = append(order, n)
	}

	visit(g.Root)
	return order
}
