package modulespec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "modules.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFileParsesModulesAndDeadlines(t *testing.T) {
	path := writeSpec(t, `{
		"modules": [
			{"name": "fib", "path": "fib.wasm", "port": 10000, "memory_size_bytes": 65536, "relative_deadline_us": 20000}
		]
	}`)

	spec, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, spec.Modules, 1)
	require.Equal(t, "fib", spec.Modules[0].Name)
	require.Equal(t, 20*time.Millisecond, spec.Modules[0].RelativeDeadline)
}

func TestLoadFileRejectsMissingName(t *testing.T) {
	path := writeSpec(t, `{"modules": [{"path": "x.wasm", "memory_size_bytes": 1, "relative_deadline_us": 1}]}`)
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileRejectsNonPositiveMemory(t *testing.T) {
	path := writeSpec(t, `{"modules": [{"name": "x", "memory_size_bytes": 0, "relative_deadline_us": 1}]}`)
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileRejectsMissingDeadline(t *testing.T) {
	path := writeSpec(t, `{"modules": [{"name": "x", "memory_size_bytes": 1}]}`)
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileRejectsUnreadablePath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLookupFindsRegisteredModule(t *testing.T) {
	path := writeSpec(t, `{
		"modules": [
			{"name": "fib", "memory_size_bytes": 1024, "relative_deadline_us": 1000}
		]
	}`)
	spec, err := LoadFile(path)
	require.NoError(t, err)

	m, ok := spec.Lookup("fib")
	require.True(t, ok)
	require.Equal(t, "fib", m.Name)

	_, ok = spec.Lookup("missing")
	require.False(t, ok)
}
