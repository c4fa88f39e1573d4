package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/canopy/internal/registry"
	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

type fixture struct {
	backend  *storage.Backend
	registry *registry.Registry
}

func newFixture(t *testing.T, stmts ...string) fixture {
	t.Helper()
	b := storage.NewBackend()
	require.NoError(t, b.Attach(context.Background(), types.Config{
		Backend: types.BackendSQLite,
		DataDir: t.TempDir(),
	}))
	t.Cleanup(func() { _ = b.Detach() })
	for _, s := range stmts {
		_, err := b.Exec(context.Background(), s)
		require.NoError(t, err, s)
	}
	return fixture{backend: b, registry: registry.New(b, nil)}
}

func (f fixture) loader(t *testing.T, s Strategy) Loader {
	t.Helper()
	l, err := New(s, f.backend, f.registry)
	require.NoError(t, err)
	return l
}

func (f fixture) load(t *testing.T, s Strategy, groupID any, raw map[string]any) (*types.RowSet, error) {
	t.Helper()
	l := f.loader(t, s)
	cfg, err := l.Validate(raw)
	require.NoError(t, err)
	return l.Load(context.Background(), groupID, cfg)
}

// column returns every value of col in rs as int64.
func column(t *testing.T, rs *types.RowSet, col string) []int64 {
	t.Helper()
	idx := -1
	for i, c := range rs.Columns {
		if c == col {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0, "column %s in %v", col, rs.Columns)
	out := make([]int64, 0, rs.Len())
	for _, row := range rs.Rows {
		v, ok := storage.AsInt64(row[idx])
		require.True(t, ok)
		out = append(out, v)
	}
	return out
}

// countingStore records storage access without touching a database.
type countingStore struct {
	queries int
	columns int
}

func (s *countingStore) Query(context.Context, string, ...any) (*types.RowSet, error) {
	s.queries++
	return &types.RowSet{}, nil
}

func (s *countingStore) Columns(context.Context, string) ([]string, error) {
	s.columns++
	return nil, nil
}

func (s *countingStore) Dialect() storage.Dialect { return storage.DialectSQLite }

type identityResolver struct{ calls int }

func (r *identityResolver) Resolve(_ context.Context, name string) (string, bool, error) {
	r.calls++
	return name, false, nil
}

// detached returns a loader over a store that records every access.
func detached(t *testing.T, s Strategy) Loader {
	t.Helper()
	l, err := New(s, &countingStore{}, &identityResolver{})
	require.NoError(t, err)
	return l
}
