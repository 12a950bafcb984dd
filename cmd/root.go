package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/codexgui/internal/app"
	"github.com/zjrosen/codexgui/internal/codex"
	"github.com/zjrosen/codexgui/internal/config"
	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/paths"
	"github.com/zjrosen/codexgui/internal/runner"
	"github.com/zjrosen/codexgui/internal/settings"
)

func init() {
	// Query the terminal background before any Bubble Tea program starts so
	// the OSC 11 reply does not race the input loop.
	_ = lipgloss.HasDarkBackground()
}

var (
	version    = "dev"
	cfgFile    string
	cfg        config.Config
	configErr  error
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "codexgui",
	Short: "Desktop shell host for the codex assistant",
	Long: `codexgui hosts the settings store, file browser, editor buffers, terminal
and codex assistant behind a local WebSocket bridge for the UI.

Run without a subcommand to serve the bridge until interrupted.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
	RunE:              runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/codexgui/config.yaml)")
	rootCmd.PersistentFlags().StringP("settings", "s", "",
		"settings file (.json, .yaml or .toml)")
	rootCmd.PersistentFlags().Bool("debug", false,
		"write debug logs")
	rootCmd.PersistentFlags().String("log-path", "",
		"debug log file")
	rootCmd.PersistentFlags().String("codex-path", "",
		"codex binary to use instead of the bundled one")
	rootCmd.PersistentFlags().String("history", "",
		"command history database")

	_ = viper.BindPFlag("settings_path", rootCmd.PersistentFlags().Lookup("settings"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_path", rootCmd.PersistentFlags().Lookup("log-path"))
	_ = viper.BindPFlag("codex_path", rootCmd.PersistentFlags().Lookup("codex-path"))
	_ = viper.BindPFlag("history_path", rootCmd.PersistentFlags().Lookup("history"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("settings_path", defaults.SettingsPath)
	viper.SetDefault("listen", defaults.Listen)
	viper.SetDefault("history_path", defaults.HistoryPath)
	viper.SetDefault("debug", defaults.Debug)
	viper.SetDefault("log_path", defaults.LogPath)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	viper.SetEnvPrefix("CODEXGUI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	configErr = nil
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(paths.ConfigDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// First run: leave a commented template behind and carry on
			// with defaults if that fails.
			if writeErr := config.WriteDefaultConfig(paths.ConfigFile()); writeErr == nil {
				viper.SetConfigFile(paths.ConfigFile())
				_ = viper.ReadInConfig()
			}
		} else {
			configErr = err
		}
	}

	cfg = config.Config{}
	if err := viper.Unmarshal(&cfg); err != nil && configErr == nil {
		configErr = err
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if configErr != nil {
		return fmt.Errorf("reading config: %w", configErr)
	}
	cfg = cfg.Normalize()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Debug {
		cleanup, err := log.Init(cfg.LogPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
		log.Info(log.CatConfig, "codexgui starting", "command", cmd.CommandPath(), "version", version,
			"config", viper.ConfigFileUsed(), "logPath", cfg.LogPath)
	}
	return nil
}

func teardown(*cobra.Command, []string) {
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
}

// appConfig maps host configuration onto the host's options.
func appConfig(c config.Config) app.Config {
	return app.Config{
		SettingsPath: c.SettingsPath,
		HistoryPath:  c.HistoryPath,
		ListenAddr:   c.Listen,
		Codex:        codex.Config{Path: c.CodexPath, BinDir: c.CodexBinDir},
		Tracing:      c.Tracing,
	}
}

// openSettings loads the configured settings file. A corrupt file is
// reported and the defaults are used, as the host does.
func openSettings(cmd *cobra.Command, opts ...settings.Option) *settings.Store {
	store := settings.New(cfg.SettingsPath, opts...)
	if err := store.Load(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return store
}

// newRunner returns a runner using the shell from settings.
func newRunner(store settings.Reader) *runner.Runner {
	r := runner.New()
	if v, ok := store.Get(settings.KeyTerminalShell); ok {
		if shell, ok := v.AsString(); ok {
			r.SetShell(shell)
		}
	}
	return r
}

// exitError carries a child process exit code out through cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// Execute runs the root command. Errors are printed here, except a child's
// exit status, which the child already explained on its own stderr.
func Execute() error {
	err := rootCmd.Execute()
	var ee *exitError
	if err != nil && !errors.As(err, &ee) {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
