package reasoning

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns a fixed response and records the prompts it saw.
type scriptedClient struct {
	response string
	prompts  []string
}

func (s *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *scriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.prompts = append(s.prompts, userPrompt)
	return s.response, nil
}

func (s *scriptedClient) CompleteVision(ctx context.Context, systemPrompt, userPrompt, imagePath string) (string, error) {
	return s.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}

func newTestEngine(t *testing.T, strict, creative *scriptedClient) *Engine {
	t.Helper()
	e, err := NewEngine(strict, creative)
	require.NoError(t, err)
	return e
}

func TestNewEngineLoadsTemplates(t *testing.T) {
	_, err := NewEngine(&scriptedClient{}, &scriptedClient{})
	assert.NoError(t, err)
}

func TestExpand(t *testing.T) {
	strict := &scriptedClient{response: `["Derivative", "Chain Rule"]`}
	e := newTestEngine(t, strict, &scriptedClient{})

	names, err := e.Expand(context.Background(), "composite differentiation", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Derivative", "Chain Rule"}, names)
	require.Len(t, strict.prompts, 1)
	assert.Contains(t, strict.prompts[0], "composite differentiation")
}

func TestGradeGrounding(t *testing.T) {
	strict := &scriptedClient{response: `FOUND: ["Real.exp"]`}
	e := newTestEngine(t, strict, &scriptedClient{})

	candidates := []Candidate{
		{Identifier: "Real.exp", Description: "the exponential"},
		{Identifier: "Real.log"},
	}
	j, err := e.GradeGrounding(context.Background(), "exponential", candidates, "")
	require.NoError(t, err)
	assert.True(t, j.Found)

	prompt := strict.prompts[0]
	assert.Contains(t, prompt, "Real.exp: the exponential")
	assert.Contains(t, prompt, "Real.log: (No description)")
}

func TestSynthesizeUsesCreativeClient(t *testing.T) {
	strict := &scriptedClient{response: "strict should not answer this"}
	creative := &scriptedClient{response: "```lean\ndef answer := 42\n```"}
	e := newTestEngine(t, strict, creative)

	code, err := e.Synthesize(context.Background(), "the answer", "-- [Dep] context", "")
	require.NoError(t, err)
	assert.Equal(t, "def answer := 42", code)
	assert.Len(t, creative.prompts, 1)
	assert.Empty(t, strict.prompts)
}

func TestRepairTrimsDiagnostic(t *testing.T) {
	strict := &scriptedClient{response: "```lean\ndef fixed := 1\n```"}
	e := newTestEngine(t, strict, &scriptedClient{})

	longTail := strings.Repeat("x", 1000)
	diag := "Temp.lean:1:1: error: " + longTail
	_, err := e.Repair(context.Background(), "target", "", "def broken := ?", diag)
	require.NoError(t, err)

	prompt := strict.prompts[0]
	assert.NotContains(t, prompt, "Temp.lean:1:1:", "diagnostic is cut at the error")
	assert.Contains(t, prompt, "... (truncated)")
}

func TestJudgeConsistencyFenced(t *testing.T) {
	strict := &scriptedClient{response: "```json\n{\"consistency_level\": \"level_2\", \"discrepancies\": [\"phrasing\"]}\n```"}
	e := newTestEngine(t, strict, &scriptedClient{})

	report, err := e.JudgeConsistency(context.Background(), "original", "restated", "")
	require.NoError(t, err)
	assert.Equal(t, LevelAcceptable, report.Level)
	assert.Equal(t, []string{"phrasing"}, report.Discrepancies)
}

func TestMergeDescriptionsOrdersSegments(t *testing.T) {
	strict := &scriptedClient{response: "the merged statement"}
	e := newTestEngine(t, strict, &scriptedClient{})

	merged, err := e.MergeDescriptions(context.Background(), []Segment{
		{Name: "first", Description: "describes first"},
		{Name: "second", Description: "describes second"},
	})
	require.NoError(t, err)
	assert.Equal(t, "the merged statement", merged)

	prompt := strict.prompts[0]
	assert.Less(t, strings.Index(prompt, "first"), strings.Index(prompt, "second"))
}
