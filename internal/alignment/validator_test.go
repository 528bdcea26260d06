package alignment

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofforge/internal/graph"
	"proofforge/internal/reasoning"
)

// fakeReasoner records back-translation calls and answers the consistency
// judgment with a fixed level.
type fakeReasoner struct {
	level      reasoning.ConsistencyLevel
	translated []string
	contexts   map[string]string
	judged     struct {
		original string
		restated string
	}
}

func newFakeReasoner(level reasoning.ConsistencyLevel) *fakeReasoner {
	return &fakeReasoner{level: level, contexts: map[string]string{}}
}

func (f *fakeReasoner) Expand(ctx context.Context, concept, imagePath string) ([]string, error) {
	return nil, nil
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
	f.translated = append(f.translated, name)
	f.contexts[name] = nlContext
	return fmt.Sprintf("description of %s", name), nil
}

func (f *fakeReasoner) MergeDescriptions(ctx context.Context, segments []reasoning.Segment) (string, error) {
	return fmt.Sprintf("merged %d segments", len(segments)), nil
}

func (f *fakeReasoner) JudgeConsistency(ctx context.Context, original, restated, imagePath string) (reasoning.ConsistencyReport, error) {
	f.judged.original = original
	f.judged.restated = restated
	return reasoning.ConsistencyReport{Level: f.level}, nil
}

// fakeSaver records whether Save ran.
type fakeSaver struct {
	saved map[string]string
}

func (f *fakeSaver) Save(synthesized map[string]string, g *graph.Graph) error {
	f.saved = synthesized
	return nil
}

func buildGraph(t *testing.T) (*graph.Graph, map[string]string) {
	t.Helper()
	g := graph.New("Prove the main claim")
	mid := g.AddNode("middle concept", g.Root)
	g.AddNode("leaf concept", mid)
	synthesized := map[string]string{
		g.Root.Key():     "theorem main : True := trivial",
		"middle concept": "def mid := 1",
		"leaf concept":   "def leaf := 1",
	}
	return g, synthesized
}

func TestValidateAccept(t *testing.T) {
	g, synthesized := buildGraph(t)
	reasoner := newFakeReasoner(reasoning.LevelAcceptable)
	saver := &fakeSaver{}

	report, err := New(reasoner, saver).Validate(context.Background(), g, synthesized, "Prove the main claim", "")
	require.NoError(t, err)

	assert.True(t, report.Passed)
	assert.Equal(t, reasoning.LevelAcceptable, report.Level)

	t.Run("back-translation runs bottom-up", func(t *testing.T) {
		require.Equal(t, []string{"leaf concept", "middle concept", "Prove the main claim"}, reasoner.translated)
	})

	t.Run("direct dependency descriptions feed the parent", func(t *testing.T) {
		assert.Contains(t, reasoner.contexts["middle concept"], "description of leaf concept")
		assert.Empty(t, reasoner.contexts["leaf concept"])
	})

	t.Run("judgment compares original against the merge", func(t *testing.T) {
		assert.Equal(t, "Prove the main claim", reasoner.judged.original)
		assert.Equal(t, "merged 3 segments", reasoner.judged.restated)
	})

	t.Run("acceptance persists the artifacts", func(t *testing.T) {
		assert.Equal(t, synthesized, saver.saved)
	})
}

func TestValidateReject(t *testing.T) {
	g, synthesized := buildGraph(t)
	reasoner := newFakeReasoner(reasoning.LevelInconsistent)
	saver := &fakeSaver{}

	report, err := New(reasoner, saver).Validate(context.Background(), g, synthesized, "Prove the main claim", "")
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.Nil(t, saver.saved, "rejection must not persist anything")
}

func TestValidateNilSaver(t *testing.T) {
	g, synthesized := buildGraph(t)
	reasoner := newFakeReasoner(reasoning.LevelConsistent)

	report, err := New(reasoner, nil).Validate(context.Background(), g, synthesized, "Prove the main claim", "")
	require.NoError(t, err)
	assert.True(t, report.Passed)
}

func TestValidateNothingSynthesized(t *testing.T) {
	g := graph.New("a problem")
	reasoner := newFakeReasoner(reasoning.LevelConsistent)

	_, err := New(reasoner, nil).Validate(context.Background(), g, map[string]string{}, "a problem", "")
	assert.Error(t, err)
}
