package loader

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/canopy/internal/plugin"
	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// DirectReferenceConfig configures a loader for datasets that carry a foreign
// key straight to the reference entity.
type DirectReferenceConfig struct {
	Reference    string `mapstructure:"reference"`
	Dataset      string `mapstructure:"dataset"`
	Key          string `mapstructure:"key"`
	ReferenceKey string `mapstructure:"reference_key"`
}

func (DirectReferenceConfig) Strategy() Strategy { return DirectReference }

func (c *DirectReferenceConfig) Validate() error {
	return identifiers("key", c.Key, "reference_key", c.ReferenceKey)
}

// DirectReferenceLoader selects dataset rows whose foreign key equals the
// group id.
type DirectReferenceLoader struct {
	base
}

func (l *DirectReferenceLoader) Strategy() Strategy { return DirectReference }

func (l *DirectReferenceLoader) Schema() plugin.Schema {
	return plugin.Schema{Fields: []plugin.Field{
		{Name: "reference", Type: plugin.TypeString, Required: true, Doc: "reference entity"},
		{Name: "dataset", Type: plugin.TypeString, Required: true, Doc: "dataset entity"},
		{Name: "key", Type: plugin.TypeString, Required: true, Doc: "foreign key column on the dataset"},
		{Name: "reference_key", Type: plugin.TypeString, Doc: "primary key column on the reference, default id"},
	}}
}

func (l *DirectReferenceLoader) Validate(raw map[string]any) (Config, error) {
	cfg := DirectReferenceConfig{ReferenceKey: types.DefaultIDField}
	if err := plugin.ValidateInto(l.Schema(), raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *DirectReferenceLoader) Load(ctx context.Context, groupID any, cfg Config) (*types.RowSet, error) {
	c, err := castConfig[DirectReferenceConfig](DirectReference, cfg)
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
	if err := requireColumns(ref, refCols, c.ReferenceKey); err != nil {
		return nil, err
	}
	ds, dsCols, err := l.table(ctx, "dataset", c.Dataset)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(ds, dsCols, c.Key); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", storage.QuoteIdent(ds), storage.QuoteIdent(c.Key))
	return l.query(ctx, ds, q, groupID)
}
