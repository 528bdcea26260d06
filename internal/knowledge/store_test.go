package knowledge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofforge/internal/graph"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoad(t *testing.T) {
	store := openTestStore(t)

	g := graph.New("Prove the period of a simple pendulum")
	pendulum := g.AddNode("Simple Pendulum", g.Root)
	g.AddNode("Angular Frequency", pendulum)

	synthesized := map[string]string{
		g.Root.Key():        "theorem period : True := trivial",
		"simple pendulum":   "structure Pendulum where\n  length : ℝ",
		"angular frequency": "def omega (l : ℝ) : ℝ := l",
	}
	require.NoError(t, store.Save(synthesized, g))

	entries, err := store.Load()
	require.NoError(t, err)

	t.Run("root is never persisted", func(t *testing.T) {
		_, ok := entries[g.Root.Key()]
		assert.False(t, ok)
		assert.Len(t, entries, 2)
	})

	t.Run("deps come from the graph", func(t *testing.T) {
		entry, ok := entries["simple pendulum"]
		require.True(t, ok)
		assert.Equal(t, []string{"angular frequency"}, entry.Deps)

		leaf := entries["angular frequency"]
		assert.Empty(t, leaf.Deps)
	})

	t.Run("code round-trips", func(t *testing.T) {
		assert.Equal(t, "def omega (l : ℝ) : ℝ := l", entries["angular frequency"].Code)
	})
}

func TestSaveMerges(t *testing.T) {
	store := openTestStore(t)

	g := graph.New("first problem")
	g.AddNode("concept a", g.Root)
	require.NoError(t, store.Save(map[string]string{"concept a": "def a := 1"}, g))

	g2 := graph.New("second problem")
	g2.AddNode("concept a", g2.Root)
	g2.AddNode("concept b", g2.Root)
	require.NoError(t, store.Save(map[string]string{
		"concept a": "def a := 2",
		"concept b": "def b := 1",
	}, g2))

	entries, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "def a := 2", entries["concept a"].Code, "newer code wins")
	assert.Equal(t, "def b := 1", entries["concept b"].Code)
}

func TestSaveSkipsUnknownNodes(t *testing.T) {
	store := openTestStore(t)

	g := graph.New("problem")
	require.NoError(t, store.Save(map[string]string{"never expanded": "def x := 1"}, g))

	entries, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadSkipsMalformedRows(t *testing.T) {
	store := openTestStore(t)

	g := graph.New("problem")
	g.AddNode("good concept", g.Root)
	require.NoError(t, store.Save(map[string]string{"good concept": "def g := 1"}, g))

	_, err := store.db.Exec(`INSERT INTO concepts (name, code, deps) VALUES ('bad deps', 'def b := 1', 'not json')`)
	require.NoError(t, err)
	_, err = store.db.Exec(`INSERT INTO concepts (name, code, deps) VALUES ('empty code', '', '[]')`)
	require.NoError(t, err)

	entries, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	_, ok := entries["good concept"]
	assert.True(t, ok)
}

func TestLoadEmptyStore(t *testing.T) {
	store := openTestStore(t)
	entries, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
