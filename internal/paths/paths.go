// Package paths locates a project's configuration and data directories.
//
// A project is any directory holding a .canopy configuration directory. The
// nearest one above the working directory wins, the way git finds .git.
package paths

import (
	"os"
	"path/filepath"
)

// Directory names created by "canopy init".
const (
	ConfigDirName  = ".canopy"
	DataDirName    = ".canopy-db"
	ConfigFileName = "canopy.yaml"
)

// Environment overrides.
const (
	EnvConfigDir = "CANOPY_CONFIG_DIR"
	EnvDataDir   = "CANOPY_DATA_DIR"
)

// getwd is replaced in tests.
var getwd = os.Getwd

// Dirs is a resolved pair of project directories.
type Dirs struct {
	Config string
	Data   string
}

// ConfigFile returns the path of canopy.yaml inside the config directory.
func (d Dirs) ConfigFile() string {
	return filepath.Join(d.Config, ConfigFileName)
}

// ProjectRoot returns the nearest directory at or above start that holds a
// .canopy directory. ok is false when there is none.
func ProjectRoot(start string) (root string, ok bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		if fi, err := os.Stat(filepath.Join(dir, ConfigDirName)); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ResolveConfigDir applies: flag > CANOPY_CONFIG_DIR > nearest project >
// $(CWD)/.canopy.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := getwd()
	if err != nil {
		return "", err
	}
	if root, ok := ProjectRoot(cwd); ok {
		return filepath.Join(root, ConfigDirName), nil
	}
	return filepath.Join(cwd, ConfigDirName), nil
}

// ResolveDataDir applies: flag > data_dir from canopy.yaml > CANOPY_DATA_DIR >
// a .canopy-db sibling of the config directory. A relative data_dir in the
// config file is taken relative to the project root.
func ResolveDataDir(flag, configValue, configDir string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	root := filepath.Dir(configDir)
	if configValue != "" {
		if filepath.IsAbs(configValue) {
			return filepath.Clean(configValue), nil
		}
		return filepath.Abs(filepath.Join(root, configValue))
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	return filepath.Abs(filepath.Join(root, DataDirName))
}

// Resolve resolves both directories.
func Resolve(configFlag, dataFlag, configValue string) (Dirs, error) {
	cfg, err := ResolveConfigDir(configFlag)
	if err != nil {
		return Dirs{}, err
	}
	data, err := ResolveDataDir(dataFlag, configValue, cfg)
	if err != nil {
		return Dirs{}, err
	}
	return Dirs{Config: cfg, Data: data}, nil
}
