// Package cli implements the canopy command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/canopy/internal/config"
	"github.com/mesh-intelligence/canopy/internal/hierarchy"
	"github.com/mesh-intelligence/canopy/internal/loader"
	"github.com/mesh-intelligence/canopy/internal/logging"
	"github.com/mesh-intelligence/canopy/internal/paths"
	"github.com/mesh-intelligence/canopy/internal/plugin"
	"github.com/mesh-intelligence/canopy/internal/registry"
	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// app carries global flags and the state resolved from them.
type app struct {
	configDir string
	dataDir   string
	logLevel  string
	jsonMode  bool

	dirs       paths.Dirs
	file       config.File
	log        *logrus.Logger
	extensions []Extension
}

// Extension registers project-supplied plugins. Extensions run after the
// built-in loaders are registered and before the registry is sealed, so a
// name already bound to a different implementation fails with
// plugin.ConflictError.
type Extension func(reg *plugin.Registry) error

// NewRootCmd creates the top-level "canopy" command with global flags and
// all subcommands registered. extensions are applied to the plugin registry
// of every session the command opens.
func NewRootCmd(extensions ...Extension) *cobra.Command {
	a := &app{extensions: extensions}
	root := &cobra.Command{
		Use:   "canopy",
		Short: "Relate ecological datasets to reference hierarchies",
		Long: "Canopy registers reference and dataset tables, builds nested-set\n" +
			"hierarchies over reference tables and loads the dataset rows that\n" +
			"belong to one group of a configured dimension.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "configuration directory (default: nearest .canopy)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (default: .canopy-db next to the config directory)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level, overrides log_level in canopy.yaml")
	root.PersistentFlags().BoolVar(&a.jsonMode, "json", false, "output as JSON")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newEntityCmd(a))
	root.AddCommand(newImportCmd(a))
	root.AddCommand(newHierarchyCmd(a))
	root.AddCommand(newLoadCmd(a))
	root.AddCommand(newLoadersCmd(a))
	return root
}

// Execute runs the root command with extensions and exits with the matching
// code.
func Execute(extensions ...Extension) {
	root := NewRootCmd(extensions...)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "canopy:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps caller mistakes to 1 and everything else to 2.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, types.ErrConfiguration), errors.Is(err, types.ErrNotFound):
		return exitUserError
	default:
		return exitSysError
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	configDir, err := paths.ResolveConfigDir(a.configDir)
	if err != nil {
		return errors.Wrap(err, "resolve config dir")
	}
	file, err := config.Load(configDir)
	if err != nil {
		return err
	}
	dataDir, err := paths.ResolveDataDir(a.dataDir, file.DataDir, configDir)
	if err != nil {
		return errors.Wrap(err, "resolve data dir")
	}

	level := file.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	log, err := logging.New(level, file.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a.dirs = paths.Dirs{Config: configDir, Data: dataDir}
	a.file = file
	a.log = log
	return nil
}

// session is one attached backend with the services built on it.
type session struct {
	backend   *storage.Backend
	registry  *registry.Registry
	rebuilder *hierarchy.Rebuilder
	engine    *loader.Engine
	plugins   *plugin.Registry
	metrics   *prometheus.Registry
}

// open attaches the configured backend. The caller must call close.
func (a *app) open(ctx context.Context) (*session, error) {
	entry := logrus.NewEntry(a.log)
	cfg := a.file.Storage()
	cfg.DataDir = a.dirs.Data

	backend := storage.NewBackend(storage.WithLogger(entry))
	if err := backend.Attach(ctx, cfg); err != nil {
		return nil, err
	}

	reg := registry.New(backend, entry)
	plugins := plugin.NewRegistry()
	if err := loader.RegisterBuiltins(plugins, backend, reg); err != nil {
		_ = backend.Detach()
		return nil, err
	}
	for _, ext := range a.extensions {
		if err := ext(plugins); err != nil {
			_ = backend.Detach()
			return nil, errors.Wrap(err, "register extension")
		}
	}
	plugins.Seal()

	metrics := prometheus.NewRegistry()
	return &session{
		backend:   backend,
		registry:  reg,
		rebuilder: hierarchy.NewRebuilder(backend, reg, entry),
		engine:    loader.NewEngine(plugins, loader.NewMetrics(metrics), entry),
		plugins:   plugins,
		metrics:   metrics,
	}, nil
}

func (s *session) close() error {
	return s.backend.Detach()
}

// withSession runs fn against an attached session and detaches afterwards.
func (a *app) withSession(cmd *cobra.Command, fn func(s *session) error) (retErr error) {
	s, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	return fn(s)
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
