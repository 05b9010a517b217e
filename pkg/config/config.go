package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = "regctx"
	configDirHidden string = ".regctx"
	configFile      string = "config.yml"
)

// DefaultDynamicSizeCache is the number of resolved dynamic register sizes
// a register context remembers between invalidations.
const DefaultDynamicSizeCache = 64

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// TableDirectories lists directories containing YAML register table
	// definitions, loaded in addition to the built in architectures.
	TableDirectories []string `yaml:"table-directories"`

	// DefaultArch is the architecture used by commands when --arch is not
	// specified.
	DefaultArch string `yaml:"default-arch,omitempty"`

	// LogOutput is the default value of --log-output.
	LogOutput string `yaml:"log-output,omitempty"`

	// Color controls colorized register dumps: "auto", "always" or "never".
	Color string `yaml:"color,omitempty"`

	// DynamicSizeCache is the number of entries of the per-context cache of
	// resolved dynamic register sizes.
	DynamicSizeCache *int `yaml:"dynamic-size-cache,omitempty"`
}

// GetDynamicSizeCache returns the configured size of the dynamic register
// size cache.
func (c *Config) GetDynamicSizeCache() int {
	if c == nil || c.DynamicSizeCache == nil || *c.DynamicSizeCache <= 0 {
		return DefaultDynamicSizeCache
	}
	return *c.DynamicSizeCache
}

// GetDefaultArch returns the configured default architecture.
func (c *Config) GetDefaultArch() string {
	if c == nil || c.DefaultArch == "" {
		return "amd64"
	}
	return c.DefaultArch
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes a configuration file.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	switch c.Color {
	case "", "auto", "always", "never":
	default:
		return &Config{}, fmt.Errorf("invalid color setting %q", c.Color)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for regctx.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Directories containing additional YAML register table definitions.
table-directories: []

# Architecture used when --arch is not specified.
# default-arch: amd64

# Default value of --log-output.
# log-output: regctx,dynsize

# Colorize register dumps: auto, always or never.
# color: auto

# Number of resolved dynamic register sizes each register context remembers.
# dynamic-size-cache: 64
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	return filepath.Join(userHomeDir, configDirHidden, file), nil
}
