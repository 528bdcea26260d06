package reasoning

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"proofforge/internal/logging"
)

//go:embed prompts
var promptFS embed.FS

// Candidate is one reference-library hit offered to the grounding
// reasoner.
type Candidate struct {
	Identifier  string
	Description string
}

// Segment pairs a concept name with its back-translated description.
// Segments are ordered (build order) so merge prompts are deterministic.
type Segment struct {
	Name        string
	Description string
}

// Capability is the typed reasoning surface the pipeline stages consume.
// Implementations must tolerate empty or malformed model output by
// returning safe defaults; only transport-level failures surface as
// errors.
type Capability interface {
	Expand(ctx context.Context, concept, imagePath string) ([]string, error)
	GradeGrounding(ctx context.Context, concept string, candidates []Candidate, imagePath string) (GroundingJudgment, error)
	Synthesize(ctx context.Context, target, dependencyContext, imagePath string) (string, error)
	Repair(ctx context.Context, target, dependencyContext, failedCode, errorMessage string) (string, error)
	BackTranslate(ctx context.Context, name, code, nlContext string) (string, error)
	MergeDescriptions(ctx context.Context, segments []Segment) (string, error)
	JudgeConsistency(ctx context.Context, original, restated, imagePath string) (ConsistencyReport, error)
}

// Engine implements Capability over two LLM clients: a strict
// low-temperature client for judgment calls and a creative client for
// code synthesis.
type Engine struct {
	strict   LLMClient
	creative LLMClient

	expansion   *template.Template
	grounding   *template.Template
	synthesis   *template.Template
	repair      *template.Template
	backTrans   *template.Template
	mergeDesc   *template.Template
	consistency *template.Template
}

// NewEngine creates an engine. The creative client is used only for
// first-attempt synthesis; pass the same client twice to use one
// temperature everywhere.
func NewEngine(strict, creative LLMClient) (*Engine, error) {
	e := &Engine{strict: strict, creative: creative}

	load := func(name string) (*template.Template, error) {
		data, err := promptFS.ReadFile("prompts/" + name)
		if err != nil {
			return nil, fmt.Errorf("missing prompt template %s: %w", name, err)
		}
		return template.New(name).Parse(string(data))
	}

	var err error
	if e.expansion, err = load("expansion.txt"); err != nil {
		return nil, err
	}
	if e.grounding, err = load("grounding.txt"); err != nil {
		return nil, err
	}
	if e.synthesis, err = load("synthesis.txt"); err != nil {
		return nil, err
	}
	if e.repair, err = load("repair.txt"); err != nil {
		return nil, err
	}
	if e.backTrans, err = load("back_translation.txt"); err != nil {
		return nil, err
	}
	if e.mergeDesc, err = load("merge_descriptions.txt"); err != nil {
		return nil, err
	}
	if e.consistency, err = load("consistency_check.txt"); err != nil {
		return nil, err
	}
	return e, nil
}

func render(t *template.Template, data interface{}) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return sb.String(), nil
}

// Expand asks the model to decompose a concept into its direct
// dependencies. Unparseable output yields an empty list.
func (e *Engine) Expand(ctx context.Context, concept, imagePath string) ([]string, error) {
	prompt, err := render(e.expansion, struct{ ConceptName string }{concept})
	if err != nil {
		return nil, err
	}
	response, err := e.strict.CompleteVision(ctx, "", prompt, imagePath)
	if err != nil {
		return nil, err
	}
	names := ParseNameList(response)
	logging.APIDebug("expand %q -> %d concepts", concept, len(names))
	return names, nil
}

// GradeGrounding asks the model whether any search candidate faithfully
// formalizes the concept.
func (e *Engine) GradeGrounding(ctx context.Context, concept string, candidates []Candidate, imagePath string) (GroundingJudgment, error) {
	var sb strings.Builder
	for _, c := range candidates {
		desc := c.Description
		if desc == "" {
			desc = "(No description)"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", c.Identifier, desc)
	}
	candidatesText := sb.String()
	if candidatesText == "" {
		candidatesText = "(no candidates)"
	}

	prompt, err := render(e.grounding, struct {
		ConceptName    string
		CandidatesText string
	}{concept, candidatesText})
	if err != nil {
		return GroundingJudgment{}, err
	}

	response, err := e.strict.CompleteVision(ctx, "", prompt, imagePath)
	if err != nil {
		return GroundingJudgment{}, err
	}
	return ParseGroundingResponse(response), nil
}

// Synthesize asks the creative client for a first-attempt formalization
// of the target concept.
func (e *Engine) Synthesize(ctx context.Context, target, dependencyContext, imagePath string) (string, error) {
	prompt, err := render(e.synthesis, struct {
		DependencyContext string
		TargetName        string
	}{orPlaceholder(dependencyContext, "(no dependencies)"), target})
	if err != nil {
		return "", err
	}
	response, err := e.creative.CompleteVision(ctx, "", prompt, imagePath)
	if err != nil {
		return "", err
	}
	return ExtractCode(response), nil
}

// maxRepairErrorLen bounds how much compiler diagnostic is replayed into
// a repair prompt.
const maxRepairErrorLen = 500

// Repair asks the model to fix a failed attempt given the compiler
// diagnostic. The diagnostic is cut at its first "error:" and truncated.
func (e *Engine) Repair(ctx context.Context, target, dependencyContext, failedCode, errorMessage string) (string, error) {
	if _, after, found := strings.Cut(errorMessage, "error:"); found {
		errorMessage = strings.TrimSpace(after)
	}
	if len(errorMessage) > maxRepairErrorLen {
		errorMessage = errorMessage[:maxRepairErrorLen] + "\n... (truncated)"
	}

	prompt, err := render(e.repair, struct {
		DependencyContext string
		TargetName        string
		FailedCode        string
		ErrorMessage      string
	}{orPlaceholder(dependencyContext, "(no dependencies)"), target, failedCode, errorMessage})
	if err != nil {
		return "", err
	}
	response, err := e.strict.CompleteWithSystem(ctx, "", prompt)
	if err != nil {
		return "", err
	}
	return ExtractCode(response), nil
}

// BackTranslate converts one node's code into natural language, given the
// descriptions of its direct dependencies as context.
func (e *Engine) BackTranslate(ctx context.Context, name, code, nlContext string) (string, error) {
	prompt, err := render(e.backTrans, struct {
		NodeName  string
		CodeChunk string
		NLContext string
	}{name, code, orPlaceholder(nlContext, "(no dependencies)")})
	if err != nil {
		return "", err
	}
	response, err := e.strict.CompleteWithSystem(ctx, "", prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

// MergeDescriptions combines ordered per-node descriptions into one
// restatement of the whole problem.
func (e *Engine) MergeDescriptions(ctx context.Context, segments []Segment) (string, error) {
	var sb strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&sb, "--- segment: %s ---\n%s\n\n", seg.Name, seg.Description)
	}

	prompt, err := render(e.mergeDesc, struct{ SegmentsText string }{sb.String()})
	if err != nil {
		return "", err
	}
	response, err := e.strict.CompleteWithSystem(ctx, "", prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

// JudgeConsistency runs the consistency check between the original
// statement and a restatement. Malformed model output degrades to the
// most severe level.
func (e *Engine) JudgeConsistency(ctx context.Context, original, restated, imagePath string) (ConsistencyReport, error) {
	prompt, err := render(e.consistency, struct {
		OriginalProblem       string
		BackTranslatedProblem string
	}{original, restated})
	if err != nil {
		return ConsistencyReport{}, err
	}

	response, err := e.strict.CompleteVision(ctx, "", prompt, imagePath)
	if err != nil {
		return ConsistencyReport{}, err
	}
	return ParseConsistencyReport(ExtractCode(response)), nil
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
