package storage

import (
	"fmt"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Dialect captures the SQL differences between supported backends. Queries
// are written with ? placeholders and rebound by the backend.
type Dialect string

const (
	DialectSQLite   Dialect = types.BackendSQLite
	DialectPostgres Dialect = types.BackendPostgres
)

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	default:
		return "sqlite"
	}
}

// ColumnsQuery lists a table's columns in declaration order. The single
// argument is the table name.
func (d Dialect) ColumnsQuery() string {
	switch d {
	case DialectPostgres:
		return `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = ?
ORDER BY ordinal_position`
	default:
		return `SELECT name FROM pragma_table_info(?) ORDER BY cid`
	}
}

// GeometryText renders an expression that yields the geometry of column as
// text or binary accepted back by SpatialContains.
func (d Dialect) GeometryText(column string) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("ST_AsEWKT(%s)", column)
	default:
		return column
	}
}

// SpatialContains renders a predicate true when the geometry bound to the
// next placeholder contains the geometry held in column.
func (d Dialect) SpatialContains(column string) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("ST_Contains(ST_GeomFromEWKT(?), %s)", column)
	default:
		return fmt.Sprintf("ST_Contains(?, %s) = 1", column)
	}
}

// ColumnType maps an inferred JSON value kind to a column type.
func (d Dialect) ColumnType(kind valueKind) string {
	switch kind {
	case kindInteger:
		if d == DialectPostgres {
			return "BIGINT"
		}
		return "INTEGER"
	case kindReal:
		if d == DialectPostgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	default:
		return "TEXT"
	}
}
