// Package decompose builds the concept dependency graph for a problem.
// A breadth-first pass expands the root statement into named concepts,
// then classifies each discovered concept: already in the persistent
// knowledge cache, groundable in the reference library, or in need of
// synthesis (in which case it is expanded further).
package decompose

import (
	"context"
	"fmt"

	"proofforge/internal/graph"
	"proofforge/internal/grounding"
	"proofforge/internal/knowledge"
	"proofforge/internal/logging"
	"proofforge/internal/reasoning"
)

// Engine drives the decomposition pass.
type Engine struct {
	reasoner reasoning.Capability
	prober   grounding.Prober
	cache    map[string]knowledge.Entry
}

// New creates a decomposition engine. cache is the snapshot of the
// persistent knowledge store loaded at the start of the run; nil means an
// empty cache.
func New(reasoner reasoning.Capability, prober grounding.Prober, cache map[string]knowledge.Entry) *Engine {
	if cache == nil {
		cache = map[string]knowledge.Entry{}
	}
	return &Engine{reasoner: reasoner, prober: prober, cache: cache}
}

// Run decomposes problem into a dependency graph. imagePath, when
// non-empty, is forwarded to expansion and grounding so diagrams inform
// both. The returned graph is complete: every node has left StatusExpand.
func (e *Engine) Run(ctx context.Context, problem, imagePath string) (*graph.Graph, error) {
	timer := logging.StartTimer(logging.CategoryDecompose, "decompose.Run")
	defer timer.Stop()

	g := graph.New(problem)

	// Each normalized name enters the queue at most once per run, recorded
	// at discovery. Without this, shared sub-concepts would be classified
	// repeatedly through every parent that names them.
	queued := map[string]bool{g.Root.Key(): true}
	queue := []*graph.Node{g.Root}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("decomposition interrupted: %w", err)
		}

		if node == g.Root {
			// The root is the problem itself. It is always synthesized, never
			// grounded away, so the final document contains its proof.
			node.Status = graph.StatusSynthesize
			logging.Decompose("root %q marked for synthesis", node.Name)
			if err := e.expand(ctx, g, node, imagePath, queued, &queue); err != nil {
				return nil, err
			}
			continue
		}

		if _, ok := e.cache[node.Key()]; ok {
			node.Status = graph.StatusGrounded
			node.Source = graph.SourceCache
			logging.Decompose("%q found in knowledge cache", node.Name)
			continue
		}

		identifiers, err := e.prober.Probe(ctx, node.Name, imagePath)
		if err != nil {
			// Grounding degradation is treated as a miss; synthesis can still
			// build the concept from scratch.
			logging.DecomposeWarn("grounding probe failed for %q: %v", node.Name, err)
		}
		if len(identifiers) > 0 {
			node.Status = graph.StatusGrounded
			node.Source = graph.SourceReference
			node.Identifiers = identifiers
			continue
		}

		node.Status = graph.StatusSynthesize
		if err := e.expand(ctx, g, node, imagePath, queued, &queue); err != nil {
			return nil, err
		}
	}

	logging.Decompose("graph complete: %d nodes", g.Len())
	return g, nil
}

// expand asks the reasoner for node's direct prerequisites and attaches
// them to the graph, enqueueing names not seen before.
func (e *Engine) expand(ctx context.Context, g *graph.Graph, node *graph.Node, imagePath string, queued map[string]bool, queue *[]*graph.Node) error {
	names, err := e.reasoner.Expand(ctx, node.Name, imagePath)
	if err != nil {
		return fmt.Errorf("failed to expand %q: %w", node.Name, err)
	}

	for _, name := range names {
		child := g.AddNode(name, node)
		if child.ID == node.ID {
			// The model named the concept as its own prerequisite. Dropping
			// the edge keeps the graph acyclic; the node still gets built.
			logging.DecomposeWarn("self-dependency dropped for %q", node.Name)
			node.Dependencies = removeNode(node.Dependencies, child)
			continue
		}
		if !queued[child.Key()] {
			queued[child.Key()] = true
			*queue = append(*queue, child)
		}
	}

	logging.DecomposeDebug("%q expanded into %d prerequisites", node.Name, len(names))
	return nil
}

func removeNode(deps []*graph.Node, target *graph.Node) []*graph.Node {
	out := deps[:0]
	for _, d := range deps {
		if d.ID != target.ID {
			out = append(out, d)
		}
	}
	return out
}
