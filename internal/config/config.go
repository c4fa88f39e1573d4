// Package config reads a project's canopy.yaml.
//
// Values come from, in increasing precedence: built-in defaults, the file,
// and CANOPY_* environment variables (CANOPY_BACKEND, CANOPY_DSN, ...).
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/canopy/internal/loader"
	"github.com/mesh-intelligence/canopy/internal/paths"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Keys of canopy.yaml.
const (
	KeyBackend         = "backend"
	KeyDataDir         = "data_dir"
	KeyDSN             = "dsn"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyStrictHierarchy = "strict_hierarchy"
	KeyGroups          = "groups"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "CANOPY"

// File is the decoded project configuration.
type File struct {
	Backend         string                        `mapstructure:"backend" yaml:"backend"`
	DataDir         string                        `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
	DSN             string                        `mapstructure:"dsn" yaml:"dsn,omitempty"`
	LogLevel        string                        `mapstructure:"log_level" yaml:"log_level,omitempty"`
	LogFormat       string                        `mapstructure:"log_format" yaml:"log_format,omitempty"`
	StrictHierarchy bool                          `mapstructure:"strict_hierarchy" yaml:"strict_hierarchy,omitempty"`
	Groups          map[string]loader.Declaration `mapstructure:"groups" yaml:"groups,omitempty"`
}

// Default returns the configuration written by "canopy init".
func Default() File {
	return File{
		Backend:   types.BackendSQLite,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads canopy.yaml from configDir. A missing file yields the defaults
// plus any environment overrides.
func Load(configDir string) (File, error) {
	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return File{}, errors.Wrap(err, "read config")
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, types.NewConfigurationError("", "decode %s: %v", paths.ConfigFileName, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault(KeyBackend, d.Backend)
	v.SetDefault(KeyDataDir, "")
	v.SetDefault(KeyDSN, "")
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyStrictHierarchy, false)

	v.SetConfigName(strings.TrimSuffix(paths.ConfigFileName, filepath.Ext(paths.ConfigFileName)))
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Validate checks backend settings and that every group names a loader.
func (f File) Validate() error {
	if err := f.Storage().Validate(); err != nil {
		field := KeyBackend
		if errors.Is(err, types.ErrDSNRequired) {
			field = KeyDSN
		}
		return types.NewConfigurationError(field, "%v", err)
	}
	for _, dim := range f.Dimensions() {
		if strings.TrimSpace(f.Groups[dim].Loader) == "" {
			return types.NewConfigurationError(KeyGroups+"."+dim+".loader", "required key is missing")
		}
	}
	return nil
}

// Storage returns the backend settings. DataDir is left as written; callers
// resolve it with paths.ResolveDataDir.
func (f File) Storage() types.Config {
	return types.Config{Backend: f.Backend, DataDir: f.DataDir, DSN: f.DSN}
}

// Dimensions lists the configured group dimensions, sorted.
func (f File) Dimensions() []string {
	out := make([]string, 0, len(f.Groups))
	for dim := range f.Groups {
		out = append(out, dim)
	}
	sort.Strings(out)
	return out
}

// Group returns the loader declaration for dimension.
func (f File) Group(dimension string) (loader.Declaration, error) {
	d, ok := f.Groups[dimension]
	if !ok {
		return loader.Declaration{}, types.NewConfigurationError(KeyGroups+"."+dimension, "no such group dimension (have %v)", f.Dimensions())
	}
	return d, nil
}

// WriteIfMissing writes f as canopy.yaml in configDir unless a file is
// already there. It reports whether it wrote.
func WriteIfMissing(configDir string, f File) (bool, error) {
	path := filepath.Join(configDir, paths.ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrap(err, "stat config file")
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return false, errors.Wrap(err, "create config dir")
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return false, errors.Wrap(err, "marshal config")
	}
	header := "# canopy project configuration\n"
	return true, os.WriteFile(path, append([]byte(header), data...), 0o644)
}
