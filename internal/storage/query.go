package storage

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Querier is the query surface shared by the backend and its transactions.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*types.RowSet, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Columns(ctx context.Context, table string) ([]string, error)
	Dialect() Dialect
}

var (
	_ Querier = (*Backend)(nil)
	_ Querier = conn{}
)

// conn runs statements against either a *sqlx.DB or a *sqlx.Tx.
type conn struct {
	ext     sqlx.ExtContext
	dialect Dialect
	log     *logrus.Entry
}

func (c conn) Dialect() Dialect { return c.dialect }

func (c conn) Query(ctx context.Context, query string, args ...any) (*types.RowSet, error) {
	query = c.ext.Rebind(query)
	c.trace(query, args)

	rows, err := c.ext.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, &types.QueryError{Op: "query", Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &types.QueryError{Op: "columns", Err: err}
	}
	out := &types.RowSet{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, &types.QueryError{Op: "scan", Err: err}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.QueryError{Op: "query", Err: err}
	}
	return out, nil
}

func (c conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	query = c.ext.Rebind(query)
	c.trace(query, args)

	res, err := c.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &types.QueryError{Op: "exec", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows; the write itself succeeded.
		return 0, nil
	}
	return n, nil
}

func (c conn) Columns(ctx context.Context, table string) ([]string, error) {
	if err := CheckIdent("table", table); err != nil {
		return nil, err
	}
	rs, err := c.Query(ctx, c.dialect.ColumnsQuery(), table)
	if err != nil {
		var qe *types.QueryError
		if errors.As(err, &qe) {
			qe.Op, qe.Table = "columns", table
		}
		return nil, err
	}
	cols := make([]string, 0, rs.Len())
	for _, row := range rs.Rows {
		cols = append(cols, asString(row[0]))
	}
	return cols, nil
}

func (c conn) trace(query string, args []any) {
	if c.log == nil || !c.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	c.log.WithFields(logrus.Fields{"sql": query, "args": args}).Trace("statement")
}

// TableExists reports whether table has at least one column.
func TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	cols, err := q.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}

// HasColumn reports whether column is one of cols.
func HasColumn(cols []string, column string) bool {
	for _, c := range cols {
		if c == column {
			return true
		}
	}
	return false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmtAny(t)
	}
}
