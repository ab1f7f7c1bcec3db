// Package config loads the user configuration file of the debugger.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = "feltdbg"
	legacyConfigDir string = ".feltdbg"
	configFile      string = "config.yml"
)

const (
	defaultSourceListLineCount = 5
	defaultMaxHistory          = 500
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Number of lines above and below the current line printed by the
	// list command.
	SourceListLineCount *int `yaml:"source-list-line-count,omitempty"`

	// Source list line-number color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	SourceListLineColor int `yaml:"source-list-line-color"`

	// Color of the prompt, one of the fatih/color attribute names
	// (red, green, yellow, blue, magenta, cyan, white).
	PromptColor string `yaml:"prompt-color"`

	// Maximum number of commands kept in the history file.
	MaxHistory *int `yaml:"max-history,omitempty"`

	// Directories searched for link libraries, before the working
	// directory.
	SearchPath []string `yaml:"search-path"`

	// If ShowLocationExpr is true the vars command also prints where each
	// variable is stored.
	ShowLocationExpr bool `yaml:"show-location-expr"`
}

// GetSourceListLineCount returns the number of lines the list command
// prints around the current line.
func (c *Config) GetSourceListLineCount() int {
	n := defaultSourceListLineCount
	if c.SourceListLineCount != nil && *c.SourceListLineCount > 0 {
		n = *c.SourceListLineCount
	}
	return n
}

// GetMaxHistory returns the maximum number of history entries.
func (c *Config) GetMaxHistory() int {
	if c.MaxHistory != nil && *c.MaxHistory >= 0 {
		return *c.MaxHistory
	}
	return defaultMaxHistory
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

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}
	return Parse(data)
}

// Parse decodes a configuration file.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
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
	if _, err := f.WriteString(defaultConfig); err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

const defaultConfig = `# Configuration file for the feltdbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line and set your preferred ANSI foreground color
# for source line numbers in the (list) command (if unset, default is 34,
# dark blue) See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# source-list-line-color: 34

# Number of lines printed above and below the current line by (list).
# source-list-line-count: 5

# Prompt color: red, green, yellow, blue, magenta, cyan or white.
# prompt-color: cyan

# Maximum number of commands remembered in the history file.
# max-history: 500

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Directories searched for link libraries given with -l.
search-path:
  # - /usr/local/lib/masm

# Uncomment the following line to make (vars) also print where each variable is stored.
# show-location-expr: true
`

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $XDG_CONFIG_HOME/feltdbg is used when XDG_CONFIG_HOME is set, or when
// ~/.feltdbg does not exist and ~/.config does.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	legacy := filepath.Join(userHomeDir, legacyConfigDir)
	if _, err := os.Stat(legacy); err != nil {
		if fi, err := os.Stat(filepath.Join(userHomeDir, ".config")); err == nil && fi.IsDir() {
			return filepath.Join(userHomeDir, ".config", configDir, file), nil
		}
	}
	return filepath.Join(legacy, file), nil
}
