// Package compiler type-checks candidate Lean code inside a prepared
// sandbox project. Each check writes the code to a uniquely named file
// under the sandbox's src/ directory, runs the toolchain against it, and
// removes the file regardless of outcome, so concurrent checks never
// collide.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"proofforge/internal/logging"
)

// Result reports one compile check.
type Result struct {
	// Accepted is true when the toolchain exited cleanly or produced only
	// warnings. Warnings (sorry usage, deprecations) do not reject code:
	// semantic faithfulness is judged separately.
	Accepted bool
	// Diagnostic carries the trimmed error output when Accepted is false.
	Diagnostic string
}

// Compiler is the verification surface consumed by synthesis.
type Compiler interface {
	Check(ctx context.Context, code string) (Result, error)
}

// Config holds the sandbox location and the per-check time limit.
type Config struct {
	// ProjectDir is the root of a Lean project with the reference library
	// already built, so checks only elaborate the candidate file.
	ProjectDir string
	Timeout    time.Duration
}

// DefaultConfig returns the standard sandbox settings.
func DefaultConfig() Config {
	return Config{
		ProjectDir: "lean_sandbox",
		Timeout:    120 * time.Second,
	}
}

// LakeCompiler runs checks through `lake env lean`.
type LakeCompiler struct {
	cfg Config
}

// NewLakeCompiler creates a compiler bound to the sandbox project.
func NewLakeCompiler(cfg Config) (*LakeCompiler, error) {
	info, err := os.Stat(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox project not found at %s: %w", cfg.ProjectDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox path %s is not a directory", cfg.ProjectDir)
	}
	if err := os.MkdirAll(filepath.Join(cfg.ProjectDir, "src"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox src dir: %w", err)
	}
	return &LakeCompiler{cfg: cfg}, nil
}

// Check writes code to a fresh temp file and type-checks it. A timeout or
// failure to launch the toolchain is reported as a rejection with a
// diagnostic, not an error: the caller's retry budget handles it.
func (c *LakeCompiler) Check(ctx context.Context, code string) (Result, error) {
	timer := logging.StartTimer(logging.CategoryCompiler, "compiler.Check")
	defer timer.Stop()

	fileName := fmt.Sprintf("Temp_%s.lean", strings.ReplaceAll(uuid.New().String(), "-", ""))
	relPath := filepath.Join("src", fileName)
	absPath := filepath.Join(c.cfg.ProjectDir, relPath)

	if err := os.WriteFile(absPath, []byte(code), 0644); err != nil {
		return Result{}, fmt.Errorf("failed to write candidate file: %w", err)
	}
	defer func() {
		if err := os.Remove(absPath); err != nil {
			logging.CompilerDebug("failed to remove %s: %v", absPath, err)
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "lake", "env", "lean", relPath)
	cmd.Dir = c.cfg.ProjectDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	combined := stdout.String() + stderr.String()

	if cctx.Err() == context.DeadlineExceeded {
		logging.CompilerWarn("check timed out after %s", c.cfg.Timeout)
		return Result{Diagnostic: fmt.Sprintf("compilation timed out after %s", c.cfg.Timeout)}, nil
	}
	if err == nil {
		if containsError(combined) {
			return Result{Diagnostic: cleanDiagnostic(combined, fileName)}, nil
		}
		return Result{Accepted: true}, nil
	}

	if _, ok := err.(*exec.ExitError); !ok {
		// Toolchain missing or unstartable. Still a rejection, so the run
		// degrades instead of crashing.
		logging.CompilerError("failed to run lake: %v", err)
		return Result{Diagnostic: fmt.Sprintf("failed to run compiler: %v", err)}, nil
	}

	// Nonzero exit with warnings only (sorry, deprecation notices) still
	// counts as accepted.
	if !containsError(combined) {
		logging.CompilerDebug("accepting warnings-only output")
		return Result{Accepted: true}, nil
	}

	return Result{Diagnostic: cleanDiagnostic(combined, fileName)}, nil
}

func containsError(output string) bool {
	return strings.Contains(output, "error:")
}

// maxRawDiagnosticLines bounds the fallback diagnostic when no line names
// the candidate file.
const maxRawDiagnosticLines = 20

// cleanDiagnostic keeps only the lines that refer to the candidate file,
// dropping noise about the sandbox's own modules. If nothing matches, the
// head of the raw output is returned instead so the repair prompt always
// has something to work with.
func cleanDiagnostic(output, fileName string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, fileName) {
			kept = append(kept, line)
		}
	}
	if len(kept) > 0 {
		return strings.Join(kept, "\n")
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > maxRawDiagnosticLines {
		lines = lines[:maxRawDiagnosticLines]
	}
	return strings.Join(lines, "\n")
}
