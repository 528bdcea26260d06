package decompose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofforge/internal/graph"
	"proofforge/internal/knowledge"
	"proofforge/internal/reasoning"
)

// fakeReasoner expands concepts from a canned map; everything else is
// inert.
type fakeReasoner struct {
	expansions  map[string][]string
	expandCalls []string
}

func (f *fakeReasoner) Expand(ctx context.Context, concept, imagePath string) ([]string, error) {
	f.expandCalls = append(f.expandCalls, concept)
	return f.expansions[concept], nil
}

func (f *fakeReasoner) GradeGrounding(ctx context.Context, concept string, candidates []reasoning.Candidate, imagePath string) (reasoning.GroundingJudgment, error) {
	return reasoning.GroundingJudgment{}, nil
}

func (f *fakeReasoner) Synthesize(ctx context.Context, target, dependencyContext, imagePath string) (string, error) {
	return "", nil
}

func (f *fakeReasoner) Repair(ctx context.Context, target, dependencyContext, failedCode, errorMessage string) (string, error) {
	return "", nil
}

func (f *fakeReasoner) BackTranslate(ctx context.Context, name, code, nlContext string) (string, error) {
	return "", nil
}

func (f *fakeReasoner) MergeDescriptions(ctx context.Context, segments []reasoning.Segment) (string, error) {
	return "", nil
}

func (f *fakeReasoner) JudgeConsistency(ctx context.Context, original, restated, imagePath string) (reasoning.ConsistencyReport, error) {
	return reasoning.ConsistencyReport{}, nil
}

// fakeProber grounds the concepts listed in matches.
type fakeProber struct {
	matches    map[string][]string
	probeCalls []string
}

func (f *fakeProber) Probe(ctx context.Context, conceptName, imagePath string) ([]string, error) {
	f.probeCalls = append(f.probeCalls, conceptName)
	return f.matches[conceptName], nil
}

func TestRunClassification(t *testing.T) {
	problem := "Prove that the derivative of sin is cos"
	reasoner := &fakeReasoner{expansions: map[string][]string{
		problem:          {"Derivative", "Sine Function", "Novel Concept"},
		"Novel Concept":  {"Derivative"},
	}}
	prober := &fakeProber{matches: map[string][]string{
		"Derivative":    {"deriv"},
		"Sine Function": {"Real.sin"},
	}}

	g, err := New(reasoner, prober, nil).Run(context.Background(), problem, "")
	require.NoError(t, err)

	t.Run("root is always synthesized", func(t *testing.T) {
		assert.Equal(t, graph.StatusSynthesize, g.Root.Status)
	})

	t.Run("probe hits become reference grounded", func(t *testing.T) {
		n := g.FindByName("Derivative")
		require.NotNil(t, n)
		assert.Equal(t, graph.StatusGrounded, n.Status)
		assert.Equal(t, graph.SourceReference, n.Source)
		assert.Equal(t, []string{"deriv"}, n.Identifiers)
	})

	t.Run("probe misses are expanded further", func(t *testing.T) {
		n := g.FindByName("Novel Concept")
		require.NotNil(t, n)
		assert.Equal(t, graph.StatusSynthesize, n.Status)
		require.Len(t, n.Dependencies, 1)
		assert.Equal(t, "Derivative", n.Dependencies[0].Name)
	})

	t.Run("shared concepts classified once", func(t *testing.T) {
		count := 0
		for _, name := range prober.probeCalls {
			if name == "Derivative" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("no node left unclassified", func(t *testing.T) {
		for _, n := range g.BuildOrder() {
			assert.NotEqual(t, graph.StatusExpand, n.Status, "node %q", n.Name)
		}
	})
}

func TestRunCacheHit(t *testing.T) {
	problem := "Prove the pendulum period formula"
	reasoner := &fakeReasoner{expansions: map[string][]string{
		problem: {"Simple Pendulum"},
	}}
	prober := &fakeProber{}
	cache := map[string]knowledge.Entry{
		"simple pendulum": {Code: "structure Pendulum"},
	}

	g, err := New(reasoner, prober, cache).Run(context.Background(), problem, "")
	require.NoError(t, err)

	n := g.FindByName("Simple Pendulum")
	require.NotNil(t, n)
	assert.Equal(t, graph.StatusGrounded, n.Status)
	assert.Equal(t, graph.SourceCache, n.Source)
	assert.Empty(t, prober.probeCalls, "cache hits skip the probe")
}

func TestRunRootIgnoresCacheAndProbe(t *testing.T) {
	problem := "a problem someone solved before"
	reasoner := &fakeReasoner{expansions: map[string][]string{}}
	prober := &fakeProber{matches: map[string][]string{problem: {"Some.decl"}}}
	cache := map[string]knowledge.Entry{
		graph.NormalizeName(problem): {Code: "old code"},
	}

	g, err := New(reasoner, prober, cache).Run(context.Background(), problem, "")
	require.NoError(t, err)

	assert.Equal(t, graph.StatusSynthesize, g.Root.Status)
	assert.Equal(t, graph.SourceNone, g.Root.Source)
	assert.Empty(t, prober.probeCalls)
}

func TestRunSelfDependencyDropped(t *testing.T) {
	problem := "a self-referential problem"
	reasoner := &fakeReasoner{expansions: map[string][]string{
		problem:          {"Circular Concept"},
		"Circular Concept": {"circular concept", "Other Concept"},
	}}
	prober := &fakeProber{}

	g, err := New(reasoner, prober, nil).Run(context.Background(), problem, "")
	require.NoError(t, err)

	n := g.FindByName("Circular Concept")
	require.NotNil(t, n)
	for _, dep := range n.Dependencies {
		assert.NotEqual(t, n.ID, dep.ID, "self edge must be dropped")
	}
	require.NotNil(t, g.FindByName("Other Concept"))
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reasoner := &fakeReasoner{}
	_, err := New(reasoner, &fakeProber{}, nil).Run(ctx, "a problem", "")
	assert.Error(t, err)
}
