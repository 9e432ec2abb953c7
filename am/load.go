package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"github.com/teranos/qntx-task/errors"
)

// EnvPrefix prefixes every environment override (QNTX_TASK_DATABASE_PATH, ...)
const EnvPrefix = "QNTX_TASK"

// File names searched for configuration
const (
	SystemConfigPath  = "/etc/qntx-task/config.toml"
	UserConfigFile    = "task.toml"
	ProjectConfigFile = "task.toml"
)

var (
	loadMu        sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper

	// ConfigSources records which file supplied each key during the last load.
	// Keys absent from the map came from defaults (or the environment).
	ConfigSources = map[string]SourceInfo{}
)

// Load reads the qntx-task configuration using Viper
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	config, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	loadMu.Lock()
	defer loadMu.Unlock()
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path, on top of defaults
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config from %s", configPath)
	}
	return config, nil
}

// Reset clears the cached configuration (useful for testing and reloads)
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
	viperInstance = nil
	ConfigSources = map[string]SourceInfo{}
}

// initViper initializes Viper with configuration sources and defaults.
// Callers hold loadMu.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindEnvVars(v)

	SetDefaults(v)

	// system -> user -> project -> env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// UserConfigPath returns ~/.qntx/task.toml, or "" when there is no home directory
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".qntx", UserConfigFile)
}

// findProjectConfig walks up from the working directory looking for task.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// ConfigPaths returns the candidate config files in precedence order (lowest first)
func ConfigPaths() []ConfigPath {
	paths := []ConfigPath{{Path: SystemConfigPath, Source: SourceSystem}}
	if user := UserConfigPath(); user != "" {
		paths = append(paths, ConfigPath{Path: user, Source: SourceUser})
	}
	if project := findProjectConfig(); project != "" && (len(paths) < 2 || project != paths[1].Path) {
		paths = append(paths, ConfigPath{Path: project, Source: SourceProject})
	}
	return paths
}

// ConfigPath pairs a config file with its source category
type ConfigPath struct {
	Path   string
	Source ConfigSource
}

// mergeConfigFiles merges configuration files in precedence order and records
// the file that supplied each key.
// Precedence (lowest to highest): system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	sources := map[string]SourceInfo{}

	for _, cp := range ConfigPaths() {
		if _, err := os.Stat(cp.Path); err != nil {
			continue
		}

		fileViper := viper.New()
		fileViper.SetConfigFile(cp.Path)
		fileViper.SetConfigType("toml")
		if err := fileViper.ReadInConfig(); err != nil {
			continue
		}

		// MergeConfigMap keeps files below env vars in viper's precedence
		if err := v.MergeConfigMap(fileViper.AllSettings()); err != nil {
			continue
		}
		for _, key := range fileViper.AllKeys() {
			sources[key] = SourceInfo{Source: cp.Source, Path: cp.Path}
		}
	}

	ConfigSources = sources
}
