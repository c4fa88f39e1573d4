package loader

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/canopy/internal/plugin"
	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// JoinKeys names the two key columns of a join table.
type JoinKeys struct {
	Source    string `mapstructure:"source"`
	Reference string `mapstructure:"reference"`
}

// JoinTableConfig configures a loader for datasets linked to the reference
// entity through a third table.
type JoinTableConfig struct {
	Reference  string   `mapstructure:"reference"`
	Dataset    string   `mapstructure:"dataset"`
	JoinTable  string   `mapstructure:"join_table"`
	Keys       JoinKeys `mapstructure:"keys"`
	DatasetKey string   `mapstructure:"dataset_key"`
}

func (JoinTableConfig) Strategy() Strategy { return JoinTable }

func (c *JoinTableConfig) Validate() error {
	if c.Keys.Source == c.Keys.Reference {
		return types.NewConfigurationError("keys.reference", "must differ from keys.source (%q)", c.Keys.Source)
	}
	return identifiers(
		"keys.source", c.Keys.Source,
		"keys.reference", c.Keys.Reference,
		"dataset_key", c.DatasetKey,
	)
}

// JoinTableLoader joins the dataset to the link table and keeps the rows
// whose reference-side key equals the group id.
type JoinTableLoader struct {
	base
}

func (l *JoinTableLoader) Strategy() Strategy { return JoinTable }

func (l *JoinTableLoader) Schema() plugin.Schema {
	return plugin.Schema{Fields: []plugin.Field{
		{Name: "reference", Type: plugin.TypeString, Required: true},
		{Name: "dataset", Type: plugin.TypeString, Required: true},
		{Name: "join_table", Type: plugin.TypeString, Required: true},
		{Name: "keys", Type: plugin.TypeMap, Required: true},
		{Name: "keys.source", Type: plugin.TypeString, Required: true, Doc: "join column matching the dataset key"},
		{Name: "keys.reference", Type: plugin.TypeString, Required: true, Doc: "join column matching the group id"},
		{Name: "dataset_key", Type: plugin.TypeString, Doc: "dataset column matched by keys.source, default id"},
	}}
}

func (l *JoinTableLoader) Validate(raw map[string]any) (Config, error) {
	cfg := JoinTableConfig{DatasetKey: types.DefaultIDField}
	if err := plugin.ValidateInto(l.Schema(), raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *JoinTableLoader) Load(ctx context.Context, groupID any, cfg Config) (*types.RowSet, error) {
	c, err := castConfig[JoinTableConfig](JoinTable, cfg)
	if err != nil {
		return nil, err
	}
	if err := checkGroup(groupID); err != nil {
		return nil, err
	}

	if _, _, err := l.table(ctx, "reference", c.Reference); err != nil {
		return nil, err
	}
	ds, dsCols, err := l.table(ctx, "dataset", c.Dataset)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(ds, dsCols, c.DatasetKey); err != nil {
		return nil, err
	}
	jt, jtCols, err := l.table(ctx, "join_table", c.JoinTable)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(jt, jtCols, c.Keys.Source, c.Keys.Reference); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT d.* FROM %s d JOIN %s j ON %s = %s WHERE %s = ?",
		storage.QuoteIdent(ds), storage.QuoteIdent(jt),
		storage.Qualified("d", c.DatasetKey), storage.Qualified("j", c.Keys.Source),
		storage.Qualified("j", c.Keys.Reference))
	return l.query(ctx, ds, q, groupID)
}
