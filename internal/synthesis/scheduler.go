// Package synthesis walks the dependency graph bottom-up and produces
// compiled Lean code for every node that needs it. Each node is attacked
// by a pool of racing workers; the first compile-accepted candidate wins
// and the rest stand down at their next attempt boundary.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"proofforge/internal/compiler"
	"proofforge/internal/graph"
	"proofforge/internal/knowledge"
	"proofforge/internal/logging"
	"proofforge/internal/reasoning"
)

// FatalMarkerPrefix opens the comment appended to the document when a
// node exhausts its budget. Its presence in a final document means the
// run was halted partway.
const FatalMarkerPrefix = "-- FATAL:"

// Config tunes the per-node race.
type Config struct {
	// Workers is the number of concurrent attempt chains per node.
	Workers int
	// Attempts is the per-worker budget: one synthesis plus repairs.
	Attempts int
	// BaseImports is the import prelude every document and compile check
	// starts from.
	BaseImports []string
}

// DefaultConfig returns the standard race settings.
func DefaultConfig() Config {
	return Config{
		Workers:  3,
		Attempts: 3,
		BaseImports: []string{
			"import Mathlib.Tactic",
			"import Mathlib.Analysis.Calculus.Deriv.Basic",
			"import Mathlib.Analysis.SpecialFunctions.Trigonometric.Basic",
			"import Mathlib.Analysis.SpecialFunctions.Log.Basic",
			"import Mathlib.Analysis.SpecialFunctions.Exp",
			"import PhysLean",
		},
	}
}

// Outcome is the result of one synthesis pass.
type Outcome struct {
	// Document is the assembled Lean file. When Failed is true it is
	// partial and ends with a fatal marker.
	Document string
	// Synthesized maps normalized node names to their accepted code,
	// including entries spliced in from the persistent cache.
	Synthesized map[string]string
	// Failed is true when some node exhausted its budget and the run was
	// halted.
	Failed bool
	// FailedNode names the halting node when Failed is true.
	FailedNode string
	// RootRejected is true when the root's candidates were discarded by the
	// semantic pre-check rather than by the compiler.
	RootRejected bool
}

// Scheduler runs the synthesis pass. It owns the run cache: workers
// return candidates and only the scheduler writes accepted code, so
// write-once semantics need no locking beyond the race itself.
type Scheduler struct {
	reasoner reasoning.Capability
	comp     compiler.Compiler
	cache    map[string]knowledge.Entry
	cfg      Config
}

// New creates a scheduler. cache is the persistent-store snapshot used to
// splice cache-grounded nodes; nil means empty.
func New(reasoner reasoning.Capability, comp compiler.Compiler, cache map[string]knowledge.Entry, cfg Config) *Scheduler {
	if cache == nil {
		cache = map[string]knowledge.Entry{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Scheduler{reasoner: reasoner, comp: comp, cache: cache, cfg: cfg}
}

// Run processes the graph in build order. Nodes are handled strictly one
// at a time; concurrency exists only inside a node's worker race.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph, imagePath string) (*Outcome, error) {
	timer := logging.StartTimer(logging.CategorySynthesis, "synthesis.Run")
	defer timer.Stop()

	out := &Outcome{Synthesized: make(map[string]string)}
	grounded := make(map[string]bool)
	var spliced []string

	for _, node := range g.BuildOrder() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("synthesis interrupted: %w", err)
		}

		switch node.Status {
		case graph.StatusGrounded:
			if node.Source == graph.SourceCache {
				s.spliceFromCache(node.Key(), out.Synthesized, grounded, &spliced)
			} else {
				grounded[node.Key()] = true
			}
			continue
		case graph.StatusSynthesize:
			// A node spliced from the cache under another parent needs no work.
			if _, done := out.Synthesized[node.Key()]; done {
				continue
			}
		default:
			logging.SynthesisWarn("node %q still unclassified, skipping", node.Name)
			continue
		}

		depCode, missing := s.collectDependencyCode(node, out.Synthesized, grounded)
		if len(missing) > 0 {
			// A prerequisite never got built (its own failure halted nothing
			// because it was skipped too). Building on a hole would produce
			// code that cannot mean what the node means, so skip.
			logging.SynthesisError("skipping %q: missing prerequisites %v", node.Name, missing)
			continue
		}
		depContext := depCode + groundedHints(node, grounded)

		isRoot := node.ID == g.Root.ID
		code, rootRejected := s.race(ctx, node, depContext, imagePath, isRoot)
		if rootRejected {
			out.RootRejected = true
		}
		if code == "" {
			logging.SynthesisError("synthesis failed for %q, halting run", node.Name)
			out.Failed = true
			out.FailedNode = node.Name
			out.Document = s.assemble(g, out.Synthesized, spliced) +
				fmt.Sprintf("\n%s %s synthesis failed.\n", FatalMarkerPrefix, node.Name)
			return out, nil
		}
		out.Synthesized[node.Key()] = code
		logging.Synthesis("node %q synthesized (%d bytes)", node.Name, len(code))
	}

	out.Document = s.assemble(g, out.Synthesized, spliced)
	return out, nil
}

// spliceFromCache copies the entry for key and, recursively, its
// dependencies' entries into the run cache, recording each admitted key
// in order so deps precede their dependents in the final document.
// Dependencies absent from the store are assumed grounded in the
// reference library; that was the only other way they could have been
// omitted when the entry was saved.
func (s *Scheduler) spliceFromCache(key string, synthesized map[string]string, grounded map[string]bool, order *[]string) {
	if _, ok := synthesized[key]; ok {
		return
	}
	if grounded[key] {
		return
	}
	entry, ok := s.cache[key]
	if !ok {
		logging.KnowledgeWarn("cache entry %q missing, treating as reference-grounded", key)
		grounded[key] = true
		return
	}
	// Admit before recursing so a cyclic dep list cannot loop; append to
	// the order after, so this entry lands behind everything it needs.
	synthesized[key] = entry.Code
	for _, dep := range entry.Deps {
		s.spliceFromCache(graph.NormalizeName(dep), synthesized, grounded, order)
	}
	*order = append(*order, key)
	logging.Knowledge("spliced %q from cache", key)
}

// collectDependencyCode walks node's transitive prerequisites and gathers
// the code of every synthesized one, deduplicated, in dependency order.
// A cache-spliced prerequisite contributes its whole stored closure, not
// just its own code: the entries spliced alongside it are not graph nodes
// but the code still references them. Prerequisites that should have code
// but do not are reported as missing.
func (s *Scheduler) collectDependencyCode(node *graph.Node, synthesized map[string]string, grounded map[string]bool) (string, []string) {
	var (
		chunks  []string
		missing []string
		visited = make(map[string]bool)
		chunked = make(map[string]bool)
	)

	addChunk := func(label, code string) {
		chunks = append(chunks, fmt.Sprintf("-- [Dep] %s\n%s", label, code))
	}

	var addSpliced func(key string)
	addSpliced = func(key string) {
		if chunked[key] || grounded[key] {
			return
		}
		code, ok := synthesized[key]
		if !ok {
			return
		}
		chunked[key] = true
		if entry, ok := s.cache[key]; ok {
			for _, dep := range entry.Deps {
				addSpliced(graph.NormalizeName(dep))
			}
		}
		addChunk(key, code)
	}

	var visit func(n *graph.Node)
	visit = func(n *graph.Node) {
		if visited[n.ID] {
			return
		}
		visited[n.ID] = true
		for _, dep := range n.Dependencies {
			visit(dep)
		}
		if n.ID == node.ID {
			return
		}
		key := n.Key()
		if n.Status == graph.StatusGrounded && n.Source == graph.SourceCache {
			addSpliced(key)
			return
		}
		if code, ok := synthesized[key]; ok {
			if !chunked[key] {
				chunked[key] = true
				addChunk(n.Name, code)
			}
			return
		}
		if grounded[key] || n.Status == graph.StatusGrounded {
			return
		}
		missing = append(missing, n.Name)
	}
	visit(node)

	if len(chunks) == 0 {
		return "", missing
	}
	return strings.Join(chunks, "\n\n") + "\n", missing
}

// groundedHints lists the reference-library identifiers available among
// node's transitive prerequisites, as a comment block the model can lean
// on instead of re-deriving library material.
func groundedHints(node *graph.Node, grounded map[string]bool) string {
	seen := make(map[string]bool)
	var ids []string

	var visit func(n *graph.Node)
	visited := make(map[string]bool)
	visit = func(n *graph.Node) {
		if visited[n.ID] {
			return
		}
		visited[n.ID] = true
		if n.ID != node.ID && n.Status == graph.StatusGrounded {
			for _, id := range n.Identifiers {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		for _, dep := range n.Dependencies {
			visit(dep)
		}
	}
	visit(node)

	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	var sb strings.Builder
	sb.WriteString("-- Available library declarations:\n")
	for _, id := range ids {
		fmt.Fprintf(&sb, "--   %s\n", id)
	}
	return sb.String()
}

// race runs the worker pool for one node and returns the first accepted
// candidate, or "" when every worker exhausted its budget. The second
// return is true when a root candidate was rejected by the semantic
// pre-check.
func (s *Scheduler) race(ctx context.Context, node *graph.Node, depContext, imagePath string, isRoot bool) (string, bool) {
	var (
		stop         atomic.Bool
		rootRejected atomic.Bool
		results      = make(chan string, s.cfg.Workers)
		wg           sync.WaitGroup
	)

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if code := s.attemptChain(ctx, node, depContext, imagePath, isRoot, workerID, &stop, &rootRejected); code != "" {
				stop.Store(true)
				results <- code
			}
		}(i)
	}

	wg.Wait()
	close(results)

	// Multiple workers can finish their in-flight attempt after the flag
	// flips; the scheduler admits exactly one and discards the rest.
	winner := <-results
	return winner, rootRejected.Load()
}

// attemptChain is one worker's loop: a fresh synthesis, then repairs fed
// by compiler diagnostics, up to the attempt budget. The stop flag is
// consulted only between attempts; an attempt underway runs to
// completion and its result is simply discarded.
func (s *Scheduler) attemptChain(ctx context.Context, node *graph.Node, depContext, imagePath string, isRoot bool, workerID int, stop, rootRejected *atomic.Bool) string {
	var lastCode, lastDiag string

	for attempt := 0; attempt < s.cfg.Attempts; attempt++ {
		if stop.Load() || ctx.Err() != nil {
			return ""
		}

		var (
			code string
			err  error
		)
		if attempt == 0 {
			code, err = s.reasoner.Synthesize(ctx, node.Name, depContext, imagePath)
		} else {
			code, err = s.reasoner.Repair(ctx, node.Name, depContext, lastCode, lastDiag)
		}
		if err != nil {
			logging.SynthesisWarn("worker %d attempt %d for %q: %v", workerID, attempt, node.Name, err)
			continue
		}
		if strings.TrimSpace(code) == "" {
			logging.SynthesisDebug("worker %d attempt %d for %q: empty candidate", workerID, attempt, node.Name)
			continue
		}

		if isRoot && attempt == 0 {
			// Before spending any compile time on the statement of the problem
			// itself, confirm it still says what the problem says. A drifted
			// root can compile perfectly and prove the wrong thing, so a
			// rejection ends this worker outright.
			if !s.rootFaithful(ctx, node, code, depContext, imagePath) {
				rootRejected.Store(true)
				logging.SynthesisWarn("worker %d: root candidate rejected before compilation", workerID)
				return ""
			}
		}

		checkCode := s.mergeForCheck(depContext, code)
		result, err := s.comp.Check(ctx, checkCode)
		if err != nil {
			logging.SynthesisWarn("worker %d compile check for %q: %v", workerID, node.Name, err)
			continue
		}
		if result.Accepted {
			logging.Synthesis("worker %d won %q on attempt %d", workerID, node.Name, attempt)
			return code
		}

		lastCode, lastDiag = code, result.Diagnostic
		logging.SynthesisDebug("worker %d attempt %d for %q rejected", workerID, attempt, node.Name)
	}
	return ""
}

// rootFaithful back-translates the candidate and judges it against the
// original statement. Only an explicit material inconsistency rejects:
// the pre-check exists to save compile cycles on confirmed drift, so an
// unparseable judgment is no information and the candidate proceeds to
// the compiler.
func (s *Scheduler) rootFaithful(ctx context.Context, node *graph.Node, code, depContext, imagePath string) bool {
	restated, err := s.reasoner.BackTranslate(ctx, node.Name, code, depContext)
	if err != nil {
		logging.SynthesisWarn("root pre-check back-translation failed: %v", err)
		return true
	}
	report, err := s.reasoner.JudgeConsistency(ctx, node.Name, restated, imagePath)
	if err != nil {
		logging.SynthesisWarn("root pre-check judgment failed: %v", err)
		return true
	}
	if report.Malformed {
		logging.SynthesisWarn("root pre-check judgment unparseable, proceeding to compile")
		return true
	}
	return report.Level.Accepted()
}

// mergeForCheck builds the compile unit for one candidate: prelude,
// hoisted imports, dependency code, then the candidate body.
func (s *Scheduler) mergeForCheck(depContext, code string) string {
	imports, bodies := splitImports([]string{depContext, code}, s.cfg.BaseImports)
	return strings.Join(imports, "\n") + "\n\n" + strings.Join(bodies, "\n\n") + "\n"
}

// assemble builds the final document: the import prelude, every import
// hoisted from node code in first-seen order, then the cache-spliced
// blocks (deps-first, as recorded at splice time), then the remaining
// code blocks in build order with the root last.
func (s *Scheduler) assemble(g *graph.Graph, synthesized map[string]string, spliced []string) string {
	var blocks []string
	emitted := make(map[string]bool)

	for _, key := range spliced {
		code, ok := synthesized[key]
		if !ok {
			continue
		}
		emitted[key] = true
		blocks = append(blocks, fmt.Sprintf("-- [Dep] %s\n%s", key, code))
	}

	for _, node := range g.BuildOrder() {
		code, ok := synthesized[node.Key()]
		if !ok || emitted[node.Key()] {
			continue
		}
		label := fmt.Sprintf("-- [Dep] %s", node.Name)
		if node.ID == g.Root.ID {
			label = "-- [Main Problem]"
		}
		blocks = append(blocks, label+"\n"+code)
	}

	imports, bodies := splitImports(blocks, s.cfg.BaseImports)
	return strings.Join(imports, "\n") + "\n\n" + strings.Join(bodies, "\n\n") + "\n"
}

// splitImports hoists import lines out of the given chunks, returning the
// prelude plus extra imports deduplicated in first-seen order, and the
// chunks with their import lines removed.
func splitImports(chunks []string, prelude []string) (imports []string, bodies []string) {
	seen := make(map[string]bool, len(prelude))
	for _, imp := range prelude {
		imp = strings.TrimSpace(imp)
		if imp != "" && !seen[imp] {
			seen[imp] = true
			imports = append(imports, imp)
		}
	}

	for _, chunk := range chunks {
		var kept []string
		for _, line := range strings.Split(chunk, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "import ") {
				if !seen[trimmed] {
					seen[trimmed] = true
					imports = append(imports, trimmed)
				}
				continue
			}
			kept = append(kept, line)
		}
		body := strings.TrimSpace(strings.Join(kept, "\n"))
		if body != "" {
			bodies = append(bodies, body)
		}
	}
	return imports, bodies
}
