// Package loader fetches the dataset rows that belong to one group instance.
// Each Strategy knows one way dataset rows are tied to a reference entity;
// all of them validate their configuration before touching storage.
package loader

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/mesh-intelligence/canopy/internal/plugin"
	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Store is the read surface loaders need.
type Store interface {
	Query(ctx context.Context, query string, args ...any) (*types.RowSet, error)
	Columns(ctx context.Context, table string) ([]string, error)
	Dialect() storage.Dialect
}

// Resolver maps logical entity names to physical tables. Unregistered names
// resolve to themselves.
type Resolver interface {
	Resolve(ctx context.Context, name string) (table string, registered bool, err error)
}

// Config is a validated, strategy-specific configuration.
type Config interface {
	Strategy() Strategy
}

// Loader is the contract shared by every strategy.
type Loader interface {
	Strategy() Strategy
	Schema() plugin.Schema
	// Validate checks raw and returns the typed config. It never queries
	// storage.
	Validate(raw map[string]any) (Config, error)
	// Load returns the rows of the configured dataset that belong to groupID.
	Load(ctx context.Context, groupID any, cfg Config) (*types.RowSet, error)
}

// New returns the built-in loader for s.
func New(s Strategy, store Store, resolver Resolver) (Loader, error) {
	b := base{store: store, resolver: resolver}
	switch s {
	case DirectReference:
		return &DirectReferenceLoader{base: b}, nil
	case JoinTable:
		return &JoinTableLoader{base: b}, nil
	case NestedSet:
		return &NestedSetLoader{base: b}, nil
	case Spatial:
		return &SpatialLoader{base: b}, nil
	default:
		return nil, types.NewConfigurationError("loader", "unknown strategy %d", int(s))
	}
}

// RegisterBuiltins registers the four built-in loaders on reg.
func RegisterBuiltins(reg *plugin.Registry, store Store, resolver Resolver) error {
	for _, s := range Strategies() {
		l, err := New(s, store, resolver)
		if err != nil {
			return err
		}
		if err := reg.Register(plugin.Descriptor{
			Name:       s.String(),
			Capability: plugin.CapabilityLoader,
			Schema:     l.Schema(),
			Impl:       l,
		}); err != nil {
			return fmt.Errorf("registering %s: %w", s, err)
		}
	}
	return nil
}

// base holds what every strategy shares.
type base struct {
	store    Store
	resolver Resolver
}

// table resolves a logical name, checks the physical name and returns its
// columns. A table with no columns does not exist.
func (b base) table(ctx context.Context, field, logical string) (string, []string, error) {
	physical, _, err := b.resolver.Resolve(ctx, logical)
	if err != nil {
		return "", nil, err
	}
	if err := storage.CheckIdent(field, physical); err != nil {
		return "", nil, err
	}
	cols, err := b.store.Columns(ctx, physical)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, &types.NotFoundError{Kind: types.NotFoundTable, Name: physical}
	}
	return physical, cols, nil
}

// requireColumns returns a NotFoundError for the first column not in cols.
func requireColumns(table string, cols []string, want ...string) error {
	for _, c := range want {
		if !storage.HasColumn(cols, c) {
			return &types.NotFoundError{Kind: types.NotFoundColumn, Name: c, Table: table}
		}
	}
	return nil
}

// checkGroup rejects a missing group id before any query runs.
func checkGroup(groupID any) error {
	if groupID == nil {
		return types.NewConfigurationError("group_id", "must not be nil")
	}
	return nil
}

// query runs q and tags storage failures with table.
func (b base) query(ctx context.Context, table, q string, args ...any) (*types.RowSet, error) {
	rs, err := b.store.Query(ctx, q, args...)
	if err != nil {
		var qe *types.QueryError
		if errors.As(err, &qe) && qe.Table == "" {
			qe.Table = table
		}
		return nil, err
	}
	return rs, nil
}

// identifiers checks each named identifier value.
func identifiers(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := storage.CheckIdent(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// castConfig asserts cfg to the strategy's own config type.
func castConfig[T Config](s Strategy, cfg Config) (T, error) {
	c, ok := cfg.(T)
	if !ok {
		var zero T
		return zero, types.NewConfigurationError("loader", "%s cannot load with %T", s, cfg)
	}
	return c, nil
}

func emptyRowSet(cols []string) *types.RowSet {
	out := make([]string, len(cols))
	copy(out, cols)
	return &types.RowSet{Columns: out, Rows: [][]any{}}
}
