// Package config holds host configuration: where files live, which address
// the bridge listens on and how tracing is set up. User preferences live in
// the settings store instead.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/paths"
	"github.com/zjrosen/codexgui/internal/tracing"
)

// DefaultListen is the bridge address used when none is configured.
const DefaultListen = "127.0.0.1:7311"

// Config is the host configuration loaded by viper.
type Config struct {
	SettingsPath string `mapstructure:"settings_path"`
	Listen       string `mapstructure:"listen"`
	// CodexPath overrides bundled binary resolution.
	CodexPath string `mapstructure:"codex_path"`
	// CodexBinDir holds the bundled codex-<triple> binaries. Empty means
	// the directory of the running executable.
	CodexBinDir string `mapstructure:"codex_bin_dir"`
	// HistoryPath is the command history database. Empty disables history.
	HistoryPath string         `mapstructure:"history_path"`
	Debug       bool           `mapstructure:"debug"`
	LogPath     string         `mapstructure:"log_path"`
	Tracing     tracing.Config `mapstructure:"tracing"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = filepath.Join(paths.ConfigDir(), "traces", "traces.jsonl")
	return Config{
		SettingsPath: paths.SettingsFile(),
		Listen:       DefaultListen,
		HistoryPath:  paths.HistoryFile(),
		LogPath:      paths.LogFile(),
		Tracing:      tc,
	}
}

// Normalize expands ~ in every path.
func (c Config) Normalize() Config {
	c.SettingsPath = paths.Expand(c.SettingsPath)
	c.CodexPath = paths.Expand(c.CodexPath)
	c.CodexBinDir = paths.Expand(c.CodexBinDir)
	c.HistoryPath = paths.Expand(c.HistoryPath)
	c.LogPath = paths.Expand(c.LogPath)
	c.Tracing.FilePath = paths.Expand(c.Tracing.FilePath)
	return c
}

// Validate checks values that would otherwise fail late.
func Validate(c Config) error {
	var errs []error
	if c.SettingsPath == "" {
		errs = append(errs, errors.New("settings_path is required"))
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen %q: %w", c.Listen, err))
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			errs = append(errs, fmt.Errorf("tracing.exporter %q is not one of none, file, stdout, otlp", c.Tracing.Exporter))
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("tracing.sample_rate %v must be between 0 and 1", c.Tracing.SampleRate))
		}
	}
	return errors.Join(errs...)
}

// DefaultConfigTemplate returns the commented config written on first run.
func DefaultConfigTemplate() string {
	return `# codexgui host configuration
#
# User preferences (theme, codex model, terminal shell, ...) are not kept
# here. They live in the settings file below and can be changed with
# 'codexgui settings set <key> <value>'.

# Settings file. The extension picks the format: .json, .yaml or .toml
# settings_path: ~/.config/codexgui/settings.json

# Address the UI bridge listens on
listen: 127.0.0.1:7311

# Path to the codex binary. Leave unset to use the bundled binary for
# this platform.
# codex_path: /usr/local/bin/codex

# Terminal command history database. Set to "" to disable.
# history_path: ~/.local/share/codexgui/history.db

# Debug logging (also: --debug or CODEXGUI_DEBUG=1)
debug: false
# log_path: ~/.local/state/codexgui/debug.log

# Distributed tracing of subprocess runs
tracing:
  enabled: false
  exporter: file        # none, file, stdout, otlp
  # file_path: ~/.config/codexgui/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig writes the default template to configPath, creating
// its directory.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
