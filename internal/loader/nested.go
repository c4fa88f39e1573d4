package loader

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/mesh-intelligence/canopy/internal/plugin"
	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// NestedSetConfig configures a loader that returns the rows of a node and
// all of its descendants using nested-set coordinates on the reference.
type NestedSetConfig struct {
	Reference    string `mapstructure:"reference"`
	Dataset      string `mapstructure:"dataset"`
	Key          string `mapstructure:"key"`
	ReferenceKey string `mapstructure:"reference_key"`
	LeftField    string `mapstructure:"left_field"`
	RightField   string `mapstructure:"right_field"`
}

func (NestedSetConfig) Strategy() Strategy { return NestedSet }

func (c *NestedSetConfig) Validate() error {
	if c.LeftField == c.RightField {
		return types.NewConfigurationError("right_field", "must differ from left_field (%q)", c.LeftField)
	}
	return identifiers(
		"key", c.Key,
		"reference_key", c.ReferenceKey,
		"left_field", c.LeftField,
		"right_field", c.RightField,
	)
}

// NestedSetLoader reads the target node's interval, then every dataset row
// attached to a node inside it.
type NestedSetLoader struct {
	base
}

func (l *NestedSetLoader) Strategy() Strategy { return NestedSet }

func (l *NestedSetLoader) Schema() plugin.Schema {
	return plugin.Schema{Fields: []plugin.Field{
		{Name: "reference", Type: plugin.TypeString, Required: true},
		{Name: "dataset", Type: plugin.TypeString, Required: true},
		{Name: "key", Type: plugin.TypeString, Required: true, Doc: "foreign key column on the dataset"},
		{Name: "reference_key", Type: plugin.TypeString, Doc: "default id"},
		{Name: "left_field", Type: plugin.TypeString, Doc: "default lft"},
		{Name: "right_field", Type: plugin.TypeString, Doc: "default rght"},
	}}
}

func (l *NestedSetLoader) Validate(raw map[string]any) (Config, error) {
	cfg := NestedSetConfig{
		ReferenceKey: types.DefaultIDField,
		LeftField:    types.DefaultLeftField,
		RightField:   types.DefaultRightField,
	}
	if err := plugin.ValidateInto(l.Schema(), raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load returns an empty row set carrying the dataset's columns when the
// target node does not exist.
func (l *NestedSetLoader) Load(ctx context.Context, groupID any, cfg Config) (*types.RowSet, error) {
	c, err := castConfig[NestedSetConfig](NestedSet, cfg)
	if err != nil {
		return nil, err
	}
	if err := checkGroup(groupID); err != nil {
		return nil, err
	}

	ref, refCols, err := l.table(ctx, "reference", c.Reference)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(ref, refCols, c.ReferenceKey, c.LeftField, c.RightField); err != nil {
		return nil, err
	}
	ds, dsCols, err := l.table(ctx, "dataset", c.Dataset)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(ds, dsCols, c.Key); err != nil {
		return nil, err
	}

	interval, err := l.query(ctx, ref, fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = ?",
		storage.QuoteIdent(c.LeftField), storage.QuoteIdent(c.RightField),
		storage.QuoteIdent(ref), storage.QuoteIdent(c.ReferenceKey)), groupID)
	if err != nil {
		return nil, err
	}
	if interval.Len() == 0 {
		return emptyRowSet(dsCols), nil
	}
	left, err := coordinate(c, c.LeftField, interval.Rows[0][0], groupID)
	if err != nil {
		return nil, err
	}
	right, err := coordinate(c, c.RightField, interval.Rows[0][1], groupID)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT d.* FROM %s d JOIN %s r ON %s = %s WHERE %s >= ? AND %s <= ?",
		storage.QuoteIdent(ds), storage.QuoteIdent(ref),
		storage.Qualified("d", c.Key), storage.Qualified("r", c.ReferenceKey),
		storage.Qualified("r", c.LeftField), storage.Qualified("r", c.RightField))
	return l.query(ctx, ds, q, left, right)
}

// coordinate reads one nested-set bound of the target node.
func coordinate(c NestedSetConfig, field string, v, groupID any) (int64, error) {
	n, ok := storage.AsInt64(v)
	if !ok {
		return 0, &types.CorruptStateError{
			Entity: c.Reference,
			Field:  field,
			Err:    errors.Errorf("node %v has no usable %s (%v); rebuild the hierarchy", groupID, field, v),
		}
	}
	return n, nil
}
