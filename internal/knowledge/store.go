// Package knowledge persists verified concept formalizations in SQLite so
// later runs can reuse them without re-validation. Each entry maps a
// normalized concept name to its Lean code and the normalized names of
// its direct dependencies, recomputed from the graph at save time.
package knowledge

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"proofforge/internal/graph"
	"proofforge/internal/logging"
)

// Entry is one persisted formalization.
type Entry struct {
	Code string
	Deps []string
}

// Store is the persistent knowledge cache. Load and Save share one mutex
// so a save can never interleave with a load; Save performs its merge
// read inside its own critical section and never re-enters Load.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "knowledge.Open")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.KnowledgeDebug("failed to set busy_timeout: %v", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS concepts (
			name TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			deps TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create concepts table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Load reads all persisted entries. Rows with empty code or unparseable
// dependency lists are skipped with a warning; a malformed entry never
// fails the whole load.
func (s *Store) Load() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (map[string]Entry, error) {
	rows, err := s.db.Query(`SELECT name, code, deps FROM concepts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query concepts: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]Entry)
	skipped := 0
	for rows.Next() {
		var name, code, depsJSON string
		if err := rows.Scan(&name, &code, &depsJSON); err != nil {
			skipped++
			continue
		}
		if name == "" || code == "" {
			logging.KnowledgeWarn("skipping malformed cache entry %q", name)
			skipped++
			continue
		}
		var deps []string
		if err := json.Unmarshal([]byte(depsJSON), &deps); err != nil {
			logging.KnowledgeWarn("skipping cache entry %q: bad deps list: %v", name, err)
			skipped++
			continue
		}
		entries[graph.NormalizeName(name)] = Entry{Code: code, Deps: deps}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read concepts: %w", err)
	}

	logging.Knowledge("loaded %d cache entries (%d skipped)", len(entries), skipped)
	return entries, nil
}

// Save merges newly verified artifacts into the store. The root node is
// always excluded (a one-off, problem-specific proof, not a reusable
// lemma) and each admitted entry's dependency list is recomputed from the
// graph that produced it, never trusted from a stale copy. The merge runs
// in a single transaction so a crash cannot leave a partial write.
func (s *Store) Save(synthesized map[string]string, g *graph.Graph) error {
	timer := logging.StartTimer(logging.CategoryKnowledge, "knowledge.Save")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	rootKey := g.Root.Key()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO concepts (name, code, deps, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			code = excluded.code,
			deps = excluded.deps,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cache upsert: %w", err)
	}
	defer stmt.Close()

	saved, rootSkipped := 0, 0
	for key, code := range synthesized {
		if key == rootKey {
			rootSkipped++
			continue
		}

		node := g.FindByName(key)
		if node == nil {
			logging.KnowledgeWarn("node %q absent from graph, not persisting", key)
			continue
		}

		deps := make([]string, 0, len(node.Dependencies))
		for _, dep := range node.Dependencies {
			deps = append(deps, dep.Key())
		}
		depsJSON, err := json.Marshal(deps)
		if err != nil {
			return fmt.Errorf("failed to encode deps for %q: %w", key, err)
		}

		if _, err := stmt.Exec(key, code, string(depsJSON)); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", key, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache save: %w", err)
	}

	logging.Knowledge("saved %d entries (%d root skipped)", saved, rootSkipped)
	return nil
}
