package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// attachTemp attaches a sqlite backend in a temp dir and detaches it on
// cleanup.
func attachTemp(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend()
	require.NoError(t, b.Attach(context.Background(), types.Config{
		Backend: types.BackendSQLite,
		DataDir: t.TempDir(),
	}))
	t.Cleanup(func() { _ = b.Detach() })
	return b
}

func exec(t *testing.T, b *Backend, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := b.Exec(context.Background(), s)
		require.NoError(t, err, s)
	}
}

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}
