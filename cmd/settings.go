package cmd

import (
	"encoding/json"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/zjrosen/codexgui/internal/notify"
	"github.com/zjrosen/codexgui/internal/settings"
	"github.com/zjrosen/codexgui/internal/ui/settingsview"
	"github.com/zjrosen/codexgui/internal/watcher"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and change user settings",
	Long: `Read and change the user settings file. Keys are dotted paths into the
settings document, for example codex.model or fileExplorer.sortBy.

A running host picks up changes made here through its file watcher.

Example:
  codexgui settings get                    # whole document
  codexgui settings get codex.model
  codexgui settings set theme light
  codexgui settings set fontSize 16
  codexgui settings reset codex            # restore a subtree
  codexgui settings watch                  # live view`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print a setting as JSON, or the whole document",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Long: `Change a setting and save the file.

The value is read as JSON when it parses (true, 14, "x", {"a":1});
anything else is taken as a plain string.`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Restore a setting, or every setting, to its default",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsReset,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), cfg.SettingsPath)
		return nil
	},
}

var settingsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the settings and follow changes live",
	Args:  cobra.NoArgs,
	RunE:  runSettingsWatch,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd, settingsResetCmd, settingsPathCmd, settingsWatchCmd)
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	store := openSettings(cmd)

	key := ""
	if len(args) == 1 {
		key = args[0]
	}
	v, ok := store.Get(key)
	if !ok {
		return fmt.Errorf("setting %q is not set", key)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	store := openSettings(cmd)
	if err := store.Set(args[0], settings.ParseValue(args[1])); err != nil {
		return err
	}
	v, _ := store.Get(args[0])
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], v)
	return nil
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	store := openSettings(cmd)

	key := ""
	if len(args) == 1 {
		key = args[0]
	}
	changed, err := store.Reset(key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case key == "":
		fmt.Fprintln(out, "all settings reset to defaults")
	case !changed:
		fmt.Fprintf(out, "%s has no default; left unchanged\n", key)
	default:
		v, _ := store.Get(key)
		fmt.Fprintf(out, "%s = %s\n", key, v)
	}
	return nil
}

func runSettingsWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	n := notify.New()
	defer n.Close()
	store := openSettings(cmd, settings.WithPublisher(n))

	if err := n.Watch(ctx, store, watcher.DefaultConfig(store.Path())); err != nil {
		return fmt.Errorf("watching settings: %w", err)
	}

	model := settingsview.New(ctx, store, n.Broker())
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}
