// Package alignment judges whether a compiled document still means what
// the original problem meant. Each synthesized node is back-translated to
// natural language bottom-up, the descriptions are merged into one
// restatement, and a single consistency judgment compares it to the
// original. Only an aligned document earns its nodes a place in the
// persistent cache.
package alignment

import (
	"context"
	"fmt"
	"strings"

	"proofforge/internal/graph"
	"proofforge/internal/logging"
	"proofforge/internal/reasoning"
)

// Saver persists verified artifacts; satisfied by the knowledge store.
type Saver interface {
	Save(synthesized map[string]string, g *graph.Graph) error
}

// Report is the outcome of one alignment pass.
type Report struct {
	// Passed is true when the judgment came back level_1 or level_2.
	Passed bool
	Level  reasoning.ConsistencyLevel
	// Restatement is the merged natural-language reading of the document.
	Restatement   string
	Discrepancies []string
}

// Validator runs the alignment pass.
type Validator struct {
	reasoner reasoning.Capability
	saver    Saver
}

// New creates a validator. saver may be nil when persistence is disabled.
func New(reasoner reasoning.Capability, saver Saver) *Validator {
	return &Validator{reasoner: reasoner, saver: saver}
}

// Validate back-translates the synthesized nodes of g in build order and
// judges the merged restatement against problem. On acceptance the
// synthesized artifacts are saved through the saver; rejection saves
// nothing.
func (v *Validator) Validate(ctx context.Context, g *graph.Graph, synthesized map[string]string, problem, imagePath string) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryAlignment, "alignment.Validate")
	defer timer.Stop()

	descriptions := make(map[string]string)
	var segments []reasoning.Segment

	for _, node := range g.BuildOrder() {
		code, ok := synthesized[node.Key()]
		if !ok {
			continue
		}

		// Dependencies precede their dependents in build order, so every
		// description this node needs already exists.
		nlContext := dependencyContext(node, descriptions)
		description, err := v.reasoner.BackTranslate(ctx, node.Name, code, nlContext)
		if err != nil {
			return nil, fmt.Errorf("failed to back-translate %q: %w", node.Name, err)
		}
		descriptions[node.Key()] = description
		segments = append(segments, reasoning.Segment{Name: node.Name, Description: description})
		logging.AlignmentDebug("back-translated %q", node.Name)
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("nothing to align: no synthesized nodes")
	}

	restatement, err := v.reasoner.MergeDescriptions(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("failed to merge descriptions: %w", err)
	}

	judgment, err := v.reasoner.JudgeConsistency(ctx, problem, restatement, imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to judge consistency: %w", err)
	}

	report := &Report{
		Passed:        judgment.Level.Accepted(),
		Level:         judgment.Level,
		Restatement:   restatement,
		Discrepancies: judgment.Discrepancies,
	}
	logging.Alignment("consistency %s (passed=%t)", judgment.Level, report.Passed)

	if report.Passed && v.saver != nil {
		if err := v.saver.Save(synthesized, g); err != nil {
			// Persistence trouble does not invalidate the verdict.
			logging.AlignmentError("failed to persist verified nodes: %v", err)
		}
	}
	return report, nil
}

// dependencyContext renders the direct dependencies' descriptions as
// context for one back-translation.
func dependencyContext(node *graph.Node, descriptions map[string]string) string {
	var sb strings.Builder
	for _, dep := range node.Dependencies {
		if desc, ok := descriptions[dep.Key()]; ok {
			fmt.Fprintf(&sb, "- %s: %s\n", dep.Name, desc)
		}
	}
	return sb.String()
}
