package config

import (
	"os"
	"path/filepath"
	"strings"
)

const configFileName = "flacm.yaml"
const configDirName = "flacm"

// ConfigLevel represents the precedence level of a configuration file.
type ConfigLevel string

const (
	LevelSystem ConfigLevel = "system"
	LevelUser   ConfigLevel = "user"
	LevelFlag   ConfigLevel = "flag"
)

// ConfigLayerInfo describes a discovered config file and its load status.
type ConfigLayerInfo struct {
	Err    error // non-nil if the file exists but failed to load
	Path   string
	Level  ConfigLevel
	Loaded bool
}

// DiscoverOptions controls how config paths are discovered.
type DiscoverOptions struct {
	// FlagPath is the --config path; empty means none.
	FlagPath string

	// SystemConfigPath overrides the default system config path.
	// Empty means use the default. Set to a nonexistent path to skip.
	SystemConfigPath string

	// UserConfigPath overrides the default user config path.
	// Empty means use the default. Set to a nonexistent path to skip.
	UserConfigPath string

	// Overrides are dotted keys applied above every other layer.
	Overrides map[string]any
}

// DiscoverPaths returns the ordered list of config file paths to check,
// from lowest precedence (system) to highest (--config).
// Paths are deduplicated by resolved absolute path.
func DiscoverPaths(opts DiscoverOptions) []ConfigLayerInfo {
	var layers []ConfigLayerInfo
	seen := make(map[string]bool)

	addLayer := func(level ConfigLevel, path string) {
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		layers = append(layers, ConfigLayerInfo{Path: path, Level: level})
	}

	sysPath := opts.SystemConfigPath
	if sysPath == "" {
		sysPath = filepath.Join("/etc", configDirName, configFileName)
	}
	addLayer(LevelSystem, sysPath)

	userPath := opts.UserConfigPath
	if userPath == "" {
		userPath = defaultUserConfigPath()
	}
	addLayer(LevelUser, userPath)

	addLayer(LevelFlag, opts.FlagPath)

	return layers
}

// defaultUserConfigPath returns the platform-standard user config path.
func defaultUserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configDirName, configFileName)
}

// envKey maps FLACM_DAEMON__INTERVAL onto daemon.interval.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
