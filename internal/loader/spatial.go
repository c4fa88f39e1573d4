package loader

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/canopy/internal/plugin"
	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// SpatialConfig configures a loader that returns dataset rows whose geometry
// lies inside the reference node's geometry.
type SpatialConfig struct {
	Reference         string `mapstructure:"reference"`
	Dataset           string `mapstructure:"dataset"`
	ReferenceKey      string `mapstructure:"reference_key"`
	ReferenceGeometry string `mapstructure:"reference_geometry"`
	DatasetGeometry   string `mapstructure:"dataset_geometry"`
}

func (SpatialConfig) Strategy() Strategy { return Spatial }

func (c *SpatialConfig) Validate() error {
	return identifiers(
		"reference_key", c.ReferenceKey,
		"reference_geometry", c.ReferenceGeometry,
		"dataset_geometry", c.DatasetGeometry,
	)
}

// SpatialLoader delegates containment to the backend's spatial predicate.
type SpatialLoader struct {
	base
}

func (l *SpatialLoader) Strategy() Strategy { return Spatial }

func (l *SpatialLoader) Schema() plugin.Schema {
	return plugin.Schema{Fields: []plugin.Field{
		{Name: "reference", Type: plugin.TypeString, Required: true},
		{Name: "dataset", Type: plugin.TypeString, Required: true},
		{Name: "reference_key", Type: plugin.TypeString, Doc: "default id"},
		{Name: "reference_geometry", Type: plugin.TypeString, Doc: "default geometry"},
		{Name: "dataset_geometry", Type: plugin.TypeString, Doc: "default geometry"},
	}}
}

func (l *SpatialLoader) Validate(raw map[string]any) (Config, error) {
	cfg := SpatialConfig{
		ReferenceKey:      types.DefaultIDField,
		ReferenceGeometry: types.DefaultGeomField,
		DatasetGeometry:   types.DefaultGeomField,
	}
	if err := plugin.ValidateInto(l.Schema(), raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load returns an empty row set carrying the dataset's columns when the
// target node does not exist or has no geometry.
func (l *SpatialLoader) Load(ctx context.Context, groupID any, cfg Config) (*types.RowSet, error) {
	c, err := castConfig[SpatialConfig](Spatial, cfg)
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
	if err := requireColumns(ref, refCols, c.ReferenceKey, c.ReferenceGeometry); err != nil {
		return nil, err
	}
	ds, dsCols, err := l.table(ctx, "dataset", c.Dataset)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(ds, dsCols, c.DatasetGeometry); err != nil {
		return nil, err
	}

	dialect := l.store.Dialect()
	target, err := l.query(ctx, ref, fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		dialect.GeometryText(storage.QuoteIdent(c.ReferenceGeometry)),
		storage.QuoteIdent(ref), storage.QuoteIdent(c.ReferenceKey)), groupID)
	if err != nil {
		return nil, err
	}
	if target.Len() == 0 || target.Rows[0][0] == nil {
		return emptyRowSet(dsCols), nil
	}
	geom := target.Rows[0][0]
	if _, err := storage.ParseGeometry(geom); err != nil {
		return nil, &types.CorruptStateError{Entity: c.Reference, Field: c.ReferenceGeometry, Err: err}
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s",
		storage.QuoteIdent(ds), dialect.SpatialContains(storage.QuoteIdent(c.DatasetGeometry)))
	return l.query(ctx, ds, q, geom)
}
