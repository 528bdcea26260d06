package compiler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLakeCompiler(t *testing.T) {
	t.Run("missing sandbox errors", func(t *testing.T) {
		_, err := NewLakeCompiler(Config{ProjectDir: filepath.Join(t.TempDir(), "absent")})
		assert.Error(t, err)
	})

	t.Run("sandbox path must be a directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		_, err := NewLakeCompiler(Config{ProjectDir: file})
		assert.Error(t, err)
	})

	t.Run("creates src directory", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewLakeCompiler(Config{ProjectDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(filepath.Join(dir, "src"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestContainsError(t *testing.T) {
	assert.True(t, containsError("Temp_ab.lean:3:10: error: unknown identifier 'fo'"))
	assert.False(t, containsError("Temp_ab.lean:1:0: warning: declaration uses 'sorry'"))
	assert.False(t, containsError(""))
}

func TestCleanDiagnostic(t *testing.T) {
	t.Run("keeps only lines for the candidate file", func(t *testing.T) {
		output := strings.Join([]string{
			"info: building sandbox",
			"Temp_abc.lean:3:10: error: unknown identifier 'foo'",
			"Other.lean:1:0: error: unrelated",
			"Temp_abc.lean:5:2: error: type mismatch",
		}, "\n")

		cleaned := cleanDiagnostic(output, "Temp_abc.lean")
		assert.Contains(t, cleaned, "unknown identifier 'foo'")
		assert.Contains(t, cleaned, "type mismatch")
		assert.NotContains(t, cleaned, "unrelated")
		assert.NotContains(t, cleaned, "building sandbox")
	})

	t.Run("falls back to raw head when nothing matches", func(t *testing.T) {
		output := "error: toolchain exploded\nmore detail"
		cleaned := cleanDiagnostic(output, "Temp_abc.lean")
		assert.Equal(t, output, cleaned)
	})

	t.Run("fallback is bounded", func(t *testing.T) {
		lines := make([]string, 100)
		for i := range lines {
			lines[i] = "noise"
		}
		cleaned := cleanDiagnostic(strings.Join(lines, "\n"), "Temp_abc.lean")
		assert.Len(t, strings.Split(cleaned, "\n"), maxRawDiagnosticLines)
	})
}
