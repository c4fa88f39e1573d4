// Package registry maps logical entity names to physical tables. Records live
// in one durable table and every call reads storage directly, so edits made
// by another process are visible on the next lookup.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Store is the storage surface the registry needs.
type Store interface {
	Query(ctx context.Context, query string, args ...any) (*types.RowSet, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Registry reads and writes entity metadata.
type Registry struct {
	store Store
	log   *logrus.Entry
}

// New creates a Registry over store. log may be nil.
func New(store Store, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{store: store, log: log.WithField("component", "registry")}
}

const (
	upsertEntity = `INSERT INTO ` + types.RegistryTable + ` (name, kind, table_name, config) VALUES (?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET kind = excluded.kind, table_name = excluded.table_name, config = excluded.config`
	selectEntity = `SELECT name, kind, table_name, config FROM ` + types.RegistryTable + ` WHERE name = ?`
	selectAll    = `SELECT name, kind, table_name, config FROM ` + types.RegistryTable + ` ORDER BY name`
	selectByKind = `SELECT name, kind, table_name, config FROM ` + types.RegistryTable + ` WHERE kind = ? ORDER BY name`
	deleteEntity = `DELETE FROM ` + types.RegistryTable + ` WHERE name = ?`
)

// Register creates or replaces the record for name.
func (r *Registry) Register(ctx context.Context, name string, kind types.EntityKind, tableName string, config map[string]any) error {
	meta := types.EntityMetadata{Name: name, Kind: kind, TableName: tableName, Config: config}
	if err := meta.Validate(); err != nil {
		return err
	}
	if config == nil {
		config = map[string]any{}
	}
	payload, err := json.Marshal(config)
	if err != nil {
		return types.NewConfigurationError("config", "not serializable: %v", err)
	}

	if _, err := r.store.Exec(ctx, upsertEntity, name, string(kind), tableName, string(payload)); err != nil {
		return errors.Wrapf(err, "register %s", name)
	}
	r.log.WithFields(logrus.Fields{
		"entity": name,
		"kind":   kind,
		"table":  tableName,
	}).Debug("entity registered")
	return nil
}

// Get returns the record for name.
func (r *Registry) Get(ctx context.Context, name string) (types.EntityMetadata, error) {
	if name == "" {
		return types.EntityMetadata{}, types.NewConfigurationError("name", "must not be empty")
	}
	rs, err := r.store.Query(ctx, selectEntity, name)
	if err != nil {
		return types.EntityMetadata{}, errors.Wrapf(err, "get %s", name)
	}
	if rs.Len() == 0 {
		return types.EntityMetadata{}, &types.NotFoundError{Kind: types.NotFoundEntity, Name: name}
	}
	return decodeRow(rs.Rows[0])
}

// List returns every record ordered by name. A nil kind lists all kinds.
func (r *Registry) List(ctx context.Context, kind *types.EntityKind) ([]types.EntityMetadata, error) {
	var (
		rs  *types.RowSet
		err error
	)
	if kind == nil {
		rs, err = r.store.Query(ctx, selectAll)
	} else {
		if !kind.Valid() {
			return nil, types.NewConfigurationError("kind", "unknown entity kind %q", *kind)
		}
		rs, err = r.store.Query(ctx, selectByKind, string(*kind))
	}
	if err != nil {
		return nil, errors.Wrap(err, "list entities")
	}

	out := make([]types.EntityMetadata, 0, rs.Len())
	for _, row := range rs.Rows {
		meta, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// Remove deletes the record for name.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if name == "" {
		return types.NewConfigurationError("name", "must not be empty")
	}
	n, err := r.store.Exec(ctx, deleteEntity, name)
	if err != nil {
		return errors.Wrapf(err, "remove %s", name)
	}
	if n == 0 {
		return &types.NotFoundError{Kind: types.NotFoundEntity, Name: name}
	}
	r.log.WithField("entity", name).Debug("entity removed")
	return nil
}

// Resolve maps a logical name to its physical table. A name with no record
// is returned unchanged with registered false: unregistered names are taken
// to be physical table names already.
func (r *Registry) Resolve(ctx context.Context, name string) (table string, registered bool, err error) {
	meta, err := r.Get(ctx, name)
	switch {
	case err == nil:
		return meta.TableName, true, nil
	case errors.Is(err, types.ErrNotFound):
		r.log.WithField("entity", name).Debug("unregistered entity, using name as table")
		return name, false, nil
	default:
		return "", false, err
	}
}

// decodeRow turns a registry row into EntityMetadata, guarding against
// records edited outside the registry.
func decodeRow(row []any) (types.EntityMetadata, error) {
	name := storage.AsString(row[0])
	kind := types.EntityKind(storage.AsString(row[1]))
	if !kind.Valid() {
		return types.EntityMetadata{}, &types.CorruptStateError{
			Entity: name,
			Field:  "kind",
			Err:    fmt.Errorf("unrecognized kind %q", kind),
		}
	}

	raw := storage.AsString(row[3])
	if raw == "" {
		raw = "{}"
	}
	config, err := decodeConfig(raw)
	if err != nil {
		return types.EntityMetadata{}, &types.CorruptStateError{Entity: name, Field: "config", Err: err}
	}
	if config == nil {
		return types.EntityMetadata{}, &types.CorruptStateError{
			Entity: name,
			Field:  "config",
			Err:    fmt.Errorf("config is not a JSON object"),
		}
	}

	return types.EntityMetadata{
		Name:      name,
		Kind:      kind,
		TableName: storage.AsString(row[2]),
		Config:    config,
	}, nil
}

// decodeConfig parses a stored config object. Integral numbers come back as
// int and the rest as float64, matching what YAML and viper produce; lists
// come back as []any and objects as map[string]any.
func decodeConfig(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var config map[string]any
	if err := dec.Decode(&config); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after config object")
	}
	for k, v := range config {
		config[k] = normalizeNumbers(v)
	}
	return config, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(t.String(), 10, 0); err == nil {
			return int(n)
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}
