package hierarchy

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Store is the storage surface a rebuild needs: reads, plus one transaction
// for the write-back.
type Store interface {
	storage.Querier
	WithTx(ctx context.Context, fn func(q storage.Querier) error) error
}

// Entities looks up registered entities.
type Entities interface {
	Get(ctx context.Context, name string) (types.EntityMetadata, error)
}

// Rebuilder recomputes nested-set coordinates of reference tables.
type Rebuilder struct {
	store    Store
	entities Entities
	log      *logrus.Entry
}

// NewRebuilder creates a Rebuilder. log may be nil.
func NewRebuilder(store Store, entities Entities, log *logrus.Entry) *Rebuilder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Rebuilder{store: store, entities: entities, log: log.WithField("component", "hierarchy")}
}

// RebuildReport describes one completed rebuild.
type RebuildReport struct {
	BuildID  string    `json:"build_id"`
	Entity   string    `json:"entity"`
	Table    string    `json:"table"`
	Nodes    int       `json:"nodes"`
	Roots    int       `json:"roots"`
	MaxLevel int       `json:"max_level"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Rebuild reads every node of entity's table, numbers the forest in memory
// and writes lft, rght and level back in one transaction. Missing coordinate
// columns are added first. An unregistered entity name is used as the table
// name with default column names.
func (r *Rebuilder) Rebuild(ctx context.Context, entity string, opts Options) (RebuildReport, error) {
	table, fields, err := r.target(ctx, entity)
	if err != nil {
		return RebuildReport{}, err
	}
	if opts.RootSentinel == nil {
		opts.RootSentinel = fields.RootSentinel
	}

	cols, err := r.store.Columns(ctx, table)
	if err != nil {
		return RebuildReport{}, err
	}
	if len(cols) == 0 {
		return RebuildReport{}, &types.NotFoundError{Kind: types.NotFoundTable, Name: table}
	}
	for _, c := range []string{fields.ID, fields.Parent} {
		if !storage.HasColumn(cols, c) {
			return RebuildReport{}, &types.NotFoundError{Kind: types.NotFoundColumn, Name: c, Table: table}
		}
	}
	if fields.Sort != "" && !storage.HasColumn(cols, fields.Sort) {
		return RebuildReport{}, &types.NotFoundError{Kind: types.NotFoundColumn, Name: fields.Sort, Table: table}
	}

	selectCols := []string{storage.QuoteIdent(fields.ID), storage.QuoteIdent(fields.Parent)}
	if fields.Sort != "" {
		selectCols = append(selectCols, storage.QuoteIdent(fields.Sort))
	}
	rs, err := r.store.Query(ctx, fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(selectCols, ", "), storage.QuoteIdent(table)))
	if err != nil {
		return RebuildReport{}, errors.Wrapf(err, "read %s", table)
	}

	candidates, err := FromParentColumn(rs, fields)
	if err != nil {
		return RebuildReport{}, err
	}
	result, err := Build(candidates, opts)
	if err != nil {
		return RebuildReport{}, err
	}

	if err := r.store.WithTx(ctx, func(q storage.Querier) error {
		if err := ensureCoordinateColumns(ctx, q, table, cols, fields); err != nil {
			return err
		}
		return writeCoordinates(ctx, q, table, fields, result.Nodes)
	}); err != nil {
		return RebuildReport{}, err
	}

	report := RebuildReport{
		BuildID:  newBuildID(),
		Entity:   entity,
		Table:    table,
		Nodes:    len(result.Nodes),
		Roots:    result.Roots,
		MaxLevel: result.MaxLevel,
		Warnings: result.Warnings,
	}
	r.logReport(report)
	return report, nil
}

// RebuildFromRanks derives a hierarchy from the rank columns of source and
// stores it in target, replacing target's previous content. target must not
// be the source table or the registry table. target receives
// id, parent_id, rank_name, label and the nested-set columns.
func (r *Rebuilder) RebuildFromRanks(ctx context.Context, source string, ranks []string, target string) (RebuildReport, error) {
	sourceTable, _, err := r.target(ctx, source)
	if err != nil {
		return RebuildReport{}, err
	}
	if err := storage.CheckIdent("target", target); err != nil {
		return RebuildReport{}, err
	}
	switch {
	case strings.EqualFold(target, sourceTable):
		return RebuildReport{}, types.NewConfigurationError("target", "%q is the source table and would be overwritten", target)
	case strings.EqualFold(target, types.RegistryTable):
		return RebuildReport{}, types.NewConfigurationError("target", "%q is reserved for the entity registry", target)
	}
	if len(ranks) == 0 {
		return RebuildReport{}, types.NewConfigurationError("ranks", "at least one rank column is required")
	}
	quoted := make([]string, len(ranks))
	for i, rank := range ranks {
		if err := storage.CheckIdent("ranks", rank); err != nil {
			return RebuildReport{}, err
		}
		quoted[i] = storage.QuoteIdent(rank)
	}

	exists, err := storage.TableExists(ctx, r.store, sourceTable)
	if err != nil {
		return RebuildReport{}, err
	}
	if !exists {
		return RebuildReport{}, &types.NotFoundError{Kind: types.NotFoundTable, Name: sourceTable}
	}

	rs, err := r.store.Query(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s",
		strings.Join(quoted, ", "), storage.QuoteIdent(sourceTable), strings.Join(quoted, ", ")))
	if err != nil {
		return RebuildReport{}, errors.Wrapf(err, "read ranks of %s", sourceTable)
	}
	tree, err := FromRankColumns(rs, ranks)
	if err != nil {
		return RebuildReport{}, err
	}
	result, err := Build(tree.Nodes, Options{})
	if err != nil {
		return RebuildReport{}, err
	}

	t := storage.QuoteIdent(target)
	if err := r.store.WithTx(ctx, func(q storage.Querier) error {
		if _, err := q.Exec(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, "CREATE TABLE "+t+` (
    id INTEGER PRIMARY KEY,
    parent_id INTEGER,
    rank_name TEXT NOT NULL,
    label TEXT NOT NULL,
    lft INTEGER NOT NULL,
    rght INTEGER NOT NULL,
    level INTEGER NOT NULL
)`); err != nil {
			return err
		}
		insert := "INSERT INTO " + t + " (id, parent_id, rank_name, label, lft, rght, level) VALUES (?, ?, ?, ?, ?, ?, ?)"
		for i, n := range result.Nodes {
			var parent any
			if n.ParentID != nil {
				parent = *n.ParentID
			}
			if _, err := q.Exec(ctx, insert, n.ID, parent, tree.Ranks[i], n.Label, n.Left, n.Right, n.Level); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return RebuildReport{}, err
	}

	report := RebuildReport{
		BuildID:  newBuildID(),
		Entity:   source,
		Table:    target,
		Nodes:    len(result.Nodes),
		Roots:    result.Roots,
		MaxLevel: result.MaxLevel,
	}
	r.logReport(report)
	return report, nil
}

// target resolves entity to its table and hierarchy column names.
func (r *Rebuilder) target(ctx context.Context, entity string) (string, Fields, error) {
	if entity == "" {
		return "", Fields{}, types.NewConfigurationError("entity", "must not be empty")
	}
	table := entity
	var fields Fields

	meta, err := r.entities.Get(ctx, entity)
	switch {
	case err == nil:
		table = meta.TableName
		if raw, ok := meta.Config["hierarchy"]; ok {
			if err := decodeFields(raw, &fields); err != nil {
				return "", Fields{}, err
			}
		}
	case errors.Is(err, types.ErrNotFound):
	default:
		return "", Fields{}, err
	}

	if err := storage.CheckIdent("table", table); err != nil {
		return "", Fields{}, err
	}
	fields = fields.withDefaults()
	if err := fields.check(); err != nil {
		return "", Fields{}, err
	}
	return table, fields, nil
}

func decodeFields(raw any, out *Fields) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return errors.Wrap(err, "hierarchy decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return types.NewConfigurationError("hierarchy", "%v", err)
	}
	return nil
}

func ensureCoordinateColumns(ctx context.Context, q storage.Querier, table string, cols []string, f Fields) error {
	for _, c := range []string{f.Left, f.Right, f.Level} {
		if storage.HasColumn(cols, c) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER", storage.QuoteIdent(table), storage.QuoteIdent(c))
		if _, err := q.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func writeCoordinates(ctx context.Context, q storage.Querier, table string, f Fields, nodes []types.HierarchyNode) error {
	stmt := fmt.Sprintf("UPDATE %s SET %s = ?, %s = ?, %s = ? WHERE %s = ?",
		storage.QuoteIdent(table),
		storage.QuoteIdent(f.Left), storage.QuoteIdent(f.Right), storage.QuoteIdent(f.Level),
		storage.QuoteIdent(f.ID))
	for _, n := range nodes {
		if _, err := q.Exec(ctx, stmt, n.Left, n.Right, n.Level, n.ID); err != nil {
			return errors.Wrapf(err, "write node %d", n.ID)
		}
	}
	return nil
}

func (r *Rebuilder) logReport(report RebuildReport) {
	entry := r.log.WithFields(logrus.Fields{
		"build_id":  report.BuildID,
		"entity":    report.Entity,
		"table":     report.Table,
		"nodes":     report.Nodes,
		"roots":     report.Roots,
		"max_level": report.MaxLevel,
	})
	for _, w := range report.Warnings {
		entry.WithFields(logrus.Fields{
			"node_id":        w.NodeID,
			"missing_parent": w.MissingParent,
		}).Warn("orphan node promoted to root")
	}
	entry.Info("hierarchy rebuilt")
}

func newBuildID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
