package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"proofforge/internal/logging"
)

// Problem is one dataset entry. Image is optional.
type Problem struct {
	Question string `json:"question"`
	Image    string `json:"image,omitempty"`
}

// summaryLine is one record of the incremental batch summary, carrying
// the running success rates so progress can be watched mid-run.
type summaryLine struct {
	Result
	CompileRate  float64 `json:"compile_rate"`
	SemanticRate float64 `json:"semantic_rate"`
}

// LoadProblems reads a JSON-lines dataset: one problem object per line,
// blank lines ignored. Lines that fail to parse are skipped with a
// warning so one bad record never blocks a batch.
func LoadProblems(path string) ([]Problem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	defer f.Close()

	var problems []Problem
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p Problem
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			logging.Get(logging.CategoryBatch).Warn("skipping dataset line %d: %v", lineNo, err)
			continue
		}
		if p.Question == "" {
			logging.Get(logging.CategoryBatch).Warn("skipping dataset line %d: empty question", lineNo)
			continue
		}
		problems = append(problems, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	return problems, nil
}

// RunBatch solves every problem in order, appending one summary line per
// problem as soon as it finishes. A context cancellation stops between
// problems; everything already summarized stays on disk.
func (r *Runner) RunBatch(ctx context.Context, problems []Problem) ([]Result, error) {
	if err := os.MkdirAll(r.outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	summaryPath := filepath.Join(r.outDir, "summary.jsonl")
	summary, err := os.OpenFile(summaryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open summary file: %w", err)
	}
	defer summary.Close()
	enc := json.NewEncoder(summary)

	var (
		results      []Result
		compilePass  int
		semanticPass int
	)
	for i, p := range problems {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("batch interrupted after %d problems: %w", len(results), err)
		}

		logging.Batch("problem %d/%d starting", i+1, len(problems))
		result := r.Solve(ctx, i, p.Question, p.Image)
		results = append(results, result)

		if result.CompilationPassed {
			compilePass++
		}
		if result.SemanticPassed {
			semanticPass++
		}
		done := float64(len(results))
		line := summaryLine{
			Result:       result,
			CompileRate:  float64(compilePass) / done,
			SemanticRate: float64(semanticPass) / done,
		}
		if err := enc.Encode(line); err != nil {
			logging.BatchError("failed to append summary line %d: %v", i, err)
		}

		logging.Batch("problem %d/%d %s (compile %d/%d, semantic %d/%d)",
			i+1, len(problems), result.Status, compilePass, len(results), semanticPass, len(results))
	}

	return results, nil
}
