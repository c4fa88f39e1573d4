package loader

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/canopy/internal/registry"
	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

func TestPostgres_JoinAndNestedSet(t *testing.T) {
	dsn := os.Getenv("CANOPY_TEST_DSN")
	if dsn == "" {
		t.Skip("CANOPY_TEST_DSN not set")
	}
	ctx := context.Background()
	b := storage.NewBackend()
	require.NoError(t, b.Attach(ctx, types.Config{Backend: types.BackendPostgres, DSN: dsn}))
	t.Cleanup(func() { _ = b.Detach() })

	tables := []string{"canopy_t_surveys", "canopy_t_records", "canopy_t_links", "canopy_t_taxa", "canopy_t_occ"}
	drop := func() {
		for _, tbl := range tables {
			_, _ = b.Exec(ctx, "DROP TABLE IF EXISTS "+tbl)
		}
	}
	drop()
	t.Cleanup(drop)

	for _, s := range []string{
		`CREATE TABLE canopy_t_surveys (id BIGINT PRIMARY KEY)`,
		`CREATE TABLE canopy_t_records (id BIGINT PRIMARY KEY)`,
		`CREATE TABLE canopy_t_links (record_id BIGINT, survey_id BIGINT)`,
		`INSERT INTO canopy_t_surveys VALUES (42), (43)`,
		`INSERT INTO canopy_t_records VALUES (1), (2), (3)`,
		`INSERT INTO canopy_t_links VALUES (1, 42), (2, 42), (3, 43)`,
		`CREATE TABLE canopy_t_taxa (id BIGINT PRIMARY KEY, lft BIGINT, rght BIGINT)`,
		`INSERT INTO canopy_t_taxa VALUES (1, 1, 6), (2, 2, 3), (3, 4, 5), (4, 7, 8)`,
		`CREATE TABLE canopy_t_occ (id BIGINT PRIMARY KEY, taxon_id BIGINT)`,
		`INSERT INTO canopy_t_occ VALUES (10, 2), (11, 3), (12, 4)`,
	} {
		_, err := b.Exec(ctx, s)
		require.NoError(t, err, s)
	}
	f := fixture{backend: b, registry: registry.New(b, nil)}

	rs, err := f.load(t, JoinTable, int64(42), map[string]any{
		"reference": "canopy_t_surveys", "dataset": "canopy_t_records", "join_table": "canopy_t_links",
		"keys": map[string]any{"source": "record_id", "reference": "survey_id"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, column(t, rs, "id"))

	rs, err = f.load(t, NestedSet, int64(1), map[string]any{
		"reference": "canopy_t_taxa", "dataset": "canopy_t_occ", "key": "taxon_id",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 11}, column(t, rs, "id"))
}
