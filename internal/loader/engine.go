package loader

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/canopy/internal/plugin"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Declaration is the per-dimension loader block of a project configuration:
//
//	groups:
//	  taxonomy:
//	    loader: nested_set
//	    reference: taxonomy
//	    dataset: observations
//	    key: taxon_id
type Declaration struct {
	Loader string         `mapstructure:"loader" yaml:"loader" json:"loader"`
	Params map[string]any `mapstructure:",remain" yaml:",inline" json:"params,omitempty"`
}

// Engine dispatches declarations to loaders registered on a plugin registry.
type Engine struct {
	plugins *plugin.Registry
	metrics *Metrics
	log     *logrus.Entry
}

// NewEngine creates an Engine. metrics and log may be nil.
func NewEngine(plugins *plugin.Registry, metrics *Metrics, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{plugins: plugins, metrics: metrics, log: log.WithField("component", "loader")}
}

// Prepare looks up the declared loader and validates its parameters. It
// never queries storage.
func (e *Engine) Prepare(d Declaration) (Loader, Config, error) {
	if d.Loader == "" {
		return nil, nil, types.NewConfigurationError("loader", "required key is missing")
	}
	desc, err := e.plugins.Lookup(plugin.CapabilityLoader, d.Loader)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil, types.NewConfigurationError("loader", "unknown loader %q, have %v",
				d.Loader, e.plugins.Names(plugin.CapabilityLoader))
		}
		return nil, nil, err
	}
	l, ok := desc.Impl.(Loader)
	if !ok {
		return nil, nil, types.NewConfigurationError("loader", "%q is registered as %T, not a loader", d.Loader, desc.Impl)
	}
	params := d.Params
	if params == nil {
		params = map[string]any{}
	}
	cfg, err := l.Validate(params)
	if err != nil {
		return nil, nil, err
	}
	return l, cfg, nil
}

// Load validates d and returns the rows belonging to groupID.
func (e *Engine) Load(ctx context.Context, groupID any, d Declaration) (*types.RowSet, error) {
	l, cfg, err := e.Prepare(d)
	if err != nil {
		e.metrics.observe(e.label(d.Loader), nil, err)
		return nil, err
	}
	rs, err := l.Load(ctx, groupID, cfg)
	e.metrics.observe(d.Loader, rs, err)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"loader": d.Loader,
		"group":  groupID,
		"rows":   rs.Len(),
	}).Debug("group loaded")
	return rs, nil
}

// label keeps metric cardinality bounded to registered loader names.
func (e *Engine) label(name string) string {
	if _, err := e.plugins.Lookup(plugin.CapabilityLoader, name); err != nil {
		return "unknown"
	}
	return name
}
