// Package grounding resolves a concept against the reference library.
// It runs a text-only channel and, when a visual aid is present, a
// vision-assisted channel over the same search results, then unions the
// accepted identifiers. A match from either channel is trusted: missing a
// true grounding costs a full synthesis, a spurious one is just extra
// context downstream.
package grounding

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"proofforge/internal/libsearch"
	"proofforge/internal/logging"
	"proofforge/internal/reasoning"
)

// Prober is the per-node grounding capability consumed by decomposition.
type Prober interface {
	// Probe returns the canonical identifiers the concept grounds to.
	// An empty slice means the concept needs synthesis.
	Probe(ctx context.Context, conceptName, imagePath string) ([]string, error)
}

// Probe grounds concepts using a searcher and the grounding reasoner.
type Probe struct {
	searcher libsearch.Searcher
	reasoner reasoning.Capability
}

// NewProbe creates a grounding probe.
func NewProbe(searcher libsearch.Searcher, reasoner reasoning.Capability) *Probe {
	return &Probe{searcher: searcher, reasoner: reasoner}
}

// Probe searches the reference library once, then judges the candidates
// on both channels concurrently and unions the accepted identifiers,
// first-seen order preserved, duplicates removed.
func (p *Probe) Probe(ctx context.Context, conceptName, imagePath string) ([]string, error) {
	results, err := p.searcher.Search(ctx, conceptName)
	if err != nil {
		// Search degradation is non-fatal; judge with no candidates so the
		// reasoner can still answer NO_MATCH cleanly.
		logging.GroundingDebug("search failed for %q: %v", conceptName, err)
	}

	candidates := make([]reasoning.Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, reasoning.Candidate{
			Identifier:  r.FullName,
			Description: r.Description,
		})
	}

	var (
		mu       sync.Mutex
		accepted []string
		seen     = make(map[string]bool)
	)
	collect := func(judgment reasoning.GroundingJudgment) {
		if !judgment.Found {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, id := range judgment.Identifiers {
			if !seen[id] {
				seen[id] = true
				accepted = append(accepted, id)
			}
		}
	}

	// Plain errgroup, no derived context: the channels must stay
	// independent, a failure on one must never cancel the other's
	// in-flight judgment.
	var g errgroup.Group

	g.Go(func() error {
		judgment, err := p.reasoner.GradeGrounding(ctx, conceptName, candidates, "")
		if err != nil {
			return err
		}
		collect(judgment)
		return nil
	})

	if imagePath != "" {
		g.Go(func() error {
			judgment, err := p.reasoner.GradeGrounding(ctx, conceptName, candidates, imagePath)
			if err != nil {
				return err
			}
			collect(judgment)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// One channel failing does not discard the other's matches.
		logging.GroundingDebug("grounding channel error for %q: %v", conceptName, err)
		if len(accepted) == 0 {
			return nil, err
		}
	}

	if len(accepted) > 0 {
		logging.Grounding("%q grounded to %v", conceptName, accepted)
	} else {
		logging.GroundingDebug("%q not grounded", conceptName)
	}
	return accepted, nil
}
