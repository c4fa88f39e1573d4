package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

func newMockBackend(t *testing.T, dialect Dialect) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Open(db, dialect), mock
}

func TestPostgres_RebindsPlaceholders(t *testing.T) {
	ctx := context.Background()
	b, mock := newMockBackend(t, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "observations" WHERE "site_id" = $1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "site_id"}).AddRow(int64(1), int64(42)))

	rs, err := b.Query(ctx, `SELECT * FROM "observations" WHERE "site_id" = ?`, int64(42))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "site_id"}, rs.Columns)
	assert.Equal(t, 1, rs.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Columns(t *testing.T) {
	ctx := context.Background()
	b, mock := newMockBackend(t, DialectPostgres)

	mock.ExpectQuery(`information_schema\.columns`).
		WithArgs("taxa").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id").AddRow("parent_id"))

	cols, err := b.Columns(ctx, "taxa")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "parent_id"}, cols)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryError_Wrapping(t *testing.T) {
	ctx := context.Background()
	down := errors.New("connection reset")

	t.Run("query", func(t *testing.T) {
		b, mock := newMockBackend(t, DialectPostgres)
		mock.ExpectQuery(`SELECT`).WillReturnError(down)

		_, err := b.Query(ctx, "SELECT 1")
		var qe *types.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "query", qe.Op)
		assert.ErrorIs(t, err, down)
		assert.ErrorIs(t, err, types.ErrQuery)
	})

	t.Run("columns carries table", func(t *testing.T) {
		b, mock := newMockBackend(t, DialectPostgres)
		mock.ExpectQuery(`information_schema`).WillReturnError(down)

		_, err := b.Columns(ctx, "taxa")
		var qe *types.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "columns", qe.Op)
		assert.Equal(t, "taxa", qe.Table)
	})

	t.Run("exec", func(t *testing.T) {
		b, mock := newMockBackend(t, DialectPostgres)
		mock.ExpectExec(`UPDATE`).WillReturnError(down)

		_, err := b.Exec(ctx, "UPDATE taxa SET lft = ?", 1)
		var qe *types.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "exec", qe.Op)
	})

	t.Run("commit", func(t *testing.T) {
		b, mock := newMockBackend(t, DialectPostgres)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE`).WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit().WillReturnError(down)

		err := b.WithTx(ctx, func(q Querier) error {
			_, err := q.Exec(ctx, "UPDATE taxa SET level = 0")
			return err
		})
		var qe *types.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "commit", qe.Op)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on failure", func(t *testing.T) {
		b, mock := newMockBackend(t, DialectPostgres)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE`).WillReturnError(down)
		mock.ExpectRollback()

		err := b.WithTx(ctx, func(q Querier) error {
			_, err := q.Exec(ctx, "UPDATE taxa SET level = 0")
			return err
		})
		assert.ErrorIs(t, err, down)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "sqlite", DialectSQLite.DriverName())
	assert.Equal(t, "pgx", DialectPostgres.DriverName())
	assert.Equal(t, `ST_Contains(?, "geometry") = 1`, DialectSQLite.SpatialContains(`"geometry"`))
	assert.Equal(t, `ST_Contains(ST_GeomFromEWKT(?), "geometry")`, DialectPostgres.SpatialContains(`"geometry"`))
	assert.Equal(t, `"geometry"`, DialectSQLite.GeometryText(`"geometry"`))
	assert.Equal(t, `ST_AsEWKT("geometry")`, DialectPostgres.GeometryText(`"geometry"`))
	assert.Equal(t, "BIGINT", DialectPostgres.ColumnType(kindInteger))
	assert.Equal(t, "REAL", DialectSQLite.ColumnType(kindReal))
	assert.Equal(t, "TEXT", DialectSQLite.ColumnType(kindText))
}
