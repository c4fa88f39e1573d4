package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// ImportReport summarizes one JSONL import.
type ImportReport struct {
	Table    string   `json:"table"`
	Columns  []string `json:"columns"`
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Created  bool     `json:"created"`
}

type valueKind int

const (
	kindNull valueKind = iota
	kindInteger
	kindReal
	kindText
)

// readJSONL reads a JSONL file and returns each non-empty, parseable line.
// Malformed lines are skipped and counted.
func readJSONL(path string) ([]json.RawMessage, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var records []json.RawMessage
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, errors.Wrapf(err, "scan %s", path)
	}
	return records, skipped, nil
}

// writeJSONL atomically writes records to path using the temp-file, fsync,
// rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	fail := func(err error, msg string) error {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, msg)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail(err, "write record")
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail(err, "write newline")
		}
	}
	if err := w.Flush(); err != nil {
		return fail(err, "flush buffer")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}

// WriteRowSet writes rs to path as JSONL, one object per row.
func WriteRowSet(path string, rs *types.RowSet) error {
	records := make([]json.RawMessage, 0, rs.Len())
	for _, rec := range rs.Records() {
		b, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrap(err, "marshal row")
		}
		records = append(records, b)
	}
	return writeJSONL(path, records)
}

// ImportJSONL loads the records of a JSONL file into table. The table is
// created when missing, with columns and types inferred from the records;
// when it exists, only its known columns are filled. Lines that are not JSON
// objects are skipped and counted. On sqlite, rows the database rejects
// (constraint violations) are also skipped and counted while the rest commit.
// On postgres a rejected row aborts the transaction and nothing is imported.
// Table creation and inserts share one transaction, so a failed import never
// leaves a half-created table.
func (b *Backend) ImportJSONL(ctx context.Context, table, path string) (ImportReport, error) {
	report := ImportReport{Table: table}
	if err := CheckIdent("table", table); err != nil {
		return report, err
	}

	raw, skipped, err := readJSONL(path)
	if err != nil {
		return report, err
	}
	report.Skipped = skipped

	objs := make([]map[string]any, 0, len(raw))
	for _, rec := range raw {
		dec := json.NewDecoder(bytes.NewReader(rec))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil || obj == nil {
			report.Skipped++
			continue
		}
		objs = append(objs, obj)
	}

	err = b.WithTx(ctx, func(q Querier) error {
		cols, err := q.Columns(ctx, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			cols, err = createInferredTable(ctx, q, table, objs)
			if err != nil {
				return err
			}
			report.Created = true
		}
		report.Columns = cols

		inserted, rejected, err := insertRecords(ctx, q, table, cols, objs)
		if err != nil {
			return err
		}
		report.Inserted = inserted
		report.Skipped += rejected
		return nil
	})
	if err != nil {
		return ImportReport{Table: table}, err
	}

	b.log.WithFields(logrus.Fields{
		"table":    table,
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
		"created":  report.Created,
	}).Info("jsonl imported")
	return report, nil
}

// createInferredTable creates table from the union of record keys. Column
// order is sorted for determinism; types follow the first non-null value.
func createInferredTable(ctx context.Context, q Querier, table string, objs []map[string]any) ([]string, error) {
	kinds := map[string]valueKind{}
	for _, obj := range objs {
		for k, v := range obj {
			if !ValidIdent(k) {
				return nil, types.NewConfigurationError(k, "column name in %s is not a valid identifier", table)
			}
			if kinds[k] == kindNull {
				kinds[k] = inferKind(v)
			} else if kinds[k] == kindInteger && inferKind(v) == kindReal {
				kinds[k] = kindReal
			}
		}
	}
	if len(kinds) == 0 {
		return nil, types.NewConfigurationError("records", "no columns to create %s from", table)
	}

	cols := make([]string, 0, len(kinds))
	for k := range kinds {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = QuoteIdent(c) + " " + q.Dialect().ColumnType(kinds[c])
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(table), strings.Join(defs, ", "))
	if _, err := q.Exec(ctx, stmt); err != nil {
		return nil, err
	}
	return cols, nil
}

func inferKind(v any) valueKind {
	switch t := v.(type) {
	case nil:
		return kindNull
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return kindInteger
		}
		return kindReal
	case bool:
		return kindInteger
	default:
		return kindText
	}
}

// insertRecords inserts records into table. Unknown fields are ignored; only
// the listed columns are extracted.
func insertRecords(ctx context.Context, q Querier, table string, columns []string, objs []map[string]any) (int, int, error) {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdent(c)
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	inserted, rejected := 0, 0
	for _, obj := range objs {
		args := make([]any, len(columns))
		for i, col := range columns {
			args[i] = columnValue(obj[col])
		}
		if _, err := q.Exec(ctx, stmt, args...); err != nil {
			if q.Dialect() == DialectPostgres {
				// A failed statement aborts the whole postgres transaction.
				return inserted, rejected, err
			}
			rejected++
			continue
		}
		inserted++
	}
	return inserted, rejected, nil
}

func columnValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}
