// Package pipeline wires the stages together: decomposition, synthesis,
// and alignment, plus the artifact writing and batch bookkeeping around
// them. One Runner serves a whole batch; per-problem state lives in the
// graph and caches created for that problem.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"proofforge/internal/alignment"
	"proofforge/internal/compiler"
	"proofforge/internal/decompose"
	"proofforge/internal/graph"
	"proofforge/internal/grounding"
	"proofforge/internal/knowledge"
	"proofforge/internal/logging"
	"proofforge/internal/reasoning"
	"proofforge/internal/synthesis"
)

// Problem statuses.
const (
	StatusCompleted = "completed" // pipeline ran to the end
	StatusFailed    = "failed"    // a node exhausted its budget, document is partial
	StatusError     = "error"     // unexpected failure, including panics
)

// Result is the per-problem record written to the summary stream.
type Result struct {
	Index             int    `json:"index"`
	Question          string `json:"question"`
	Status            string `json:"status"`
	CompilationPassed bool   `json:"compilation_passed"`
	SemanticPassed    bool   `json:"semantic_passed"`
	ConsistencyLevel  string `json:"consistency_level,omitempty"`
	Error             string `json:"error,omitempty"`
	GeneratedCode     string `json:"generated_code,omitempty"`
}

// Runner executes the full pipeline for problems.
type Runner struct {
	reasoner reasoning.Capability
	prober   grounding.Prober
	comp     compiler.Compiler
	store    *knowledge.Store // nil disables persistence
	synthCfg synthesis.Config
	outDir   string
}

// New creates a runner. store may be nil to run without the persistent
// cache.
func New(reasoner reasoning.Capability, prober grounding.Prober, comp compiler.Compiler, store *knowledge.Store, synthCfg synthesis.Config, outDir string) *Runner {
	return &Runner{
		reasoner: reasoner,
		prober:   prober,
		comp:     comp,
		store:    store,
		synthCfg: synthCfg,
		outDir:   outDir,
	}
}

// Solve runs one problem end to end and writes its artifacts. Panics
// anywhere in the stages are converted into an error-status result so a
// batch never dies on one bad problem.
func (r *Runner) Solve(ctx context.Context, index int, question, imagePath string) (result Result) {
	result = Result{Index: index, Question: question, Status: StatusError}
	defer func() {
		if rec := recover(); rec != nil {
			logging.BatchError("problem %d panicked: %v\n%s", index, rec, debug.Stack())
			result.Status = StatusError
			result.Error = fmt.Sprintf("panic: %v", rec)
		}
		r.writeArtifacts(index, result)
	}()

	cache := r.loadCache()

	g, err := decompose.New(r.reasoner, r.prober, cache).Run(ctx, question, imagePath)
	if err != nil {
		result.Error = fmt.Sprintf("decomposition: %v", err)
		return result
	}
	logging.Batch("problem %d: graph has %d nodes", index, g.Len())

	outcome, err := synthesis.New(r.reasoner, r.comp, cache, r.synthCfg).Run(ctx, g, imagePath)
	if err != nil {
		result.Error = fmt.Sprintf("synthesis: %v", err)
		return result
	}
	result.GeneratedCode = outcome.Document
	result.CompilationPassed = !outcome.Failed

	if outcome.Failed {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("synthesis failed at %q", outcome.FailedNode)
		return result
	}

	report, err := r.align(ctx, g, outcome.Synthesized, question, imagePath)
	if err != nil {
		result.Error = fmt.Sprintf("alignment: %v", err)
		return result
	}
	result.SemanticPassed = report.Passed
	result.ConsistencyLevel = report.Level.String()
	result.Status = StatusCompleted
	return result
}

func (r *Runner) align(ctx context.Context, g *graph.Graph, synthesized map[string]string, question, imagePath string) (*alignment.Report, error) {
	var saver alignment.Saver
	if r.store != nil {
		saver = r.store
	}
	return alignment.New(r.reasoner, saver).Validate(ctx, g, synthesized, question, imagePath)
}

// loadCache snapshots the persistent store, degrading to an empty cache
// on any trouble.
func (r *Runner) loadCache() map[string]knowledge.Entry {
	if r.store == nil {
		return nil
	}
	cache, err := r.store.Load()
	if err != nil {
		logging.KnowledgeError("cache load failed, continuing without: %v", err)
		return nil
	}
	return cache
}

// writeArtifacts saves the generated document and the per-problem report.
// Artifact trouble is logged, never fatal.
func (r *Runner) writeArtifacts(index int, result Result) {
	if r.outDir == "" {
		return
	}
	if err := os.MkdirAll(r.outDir, 0755); err != nil {
		logging.BatchError("failed to create output dir: %v", err)
		return
	}

	if result.GeneratedCode != "" {
		leanPath := filepath.Join(r.outDir, fmt.Sprintf("problem_%d.lean", index))
		if err := os.WriteFile(leanPath, []byte(result.GeneratedCode), 0644); err != nil {
			logging.BatchError("failed to write %s: %v", leanPath, err)
		}
	}

	reportPath := filepath.Join(r.outDir, fmt.Sprintf("problem_%d_report.json", index))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logging.BatchError("failed to encode report %d: %v", index, err)
		return
	}
	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		logging.BatchError("failed to write %s: %v", reportPath, err)
	}
}
