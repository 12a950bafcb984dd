// Package paths resolves where codexgui keeps its files.
//
// Locations follow the XDG base directory layout on Linux and the platform
// conventions elsewhere:
//   - settings:  $XDG_CONFIG_HOME/codexgui/settings.json
//   - config:    $XDG_CONFIG_HOME/codexgui/config.yaml (host flags, not user settings)
//   - history:   $XDG_DATA_HOME/codexgui/history.db
//   - log:       $XDG_STATE_HOME/codexgui/debug.log
//
// Nothing here creates directories; the owners of each file do.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// AppName is the directory name used under each base directory.
const AppName = "codexgui"

// ConfigDir returns the directory holding settings and host config.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// SettingsFile returns the default settings file path.
func SettingsFile() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

// ConfigFile returns the default host config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// HistoryFile returns the default command history database path.
func HistoryFile() string {
	return filepath.Join(xdg.DataHome, AppName, "history.db")
}

// LogFile returns the default debug log path.
func LogFile() string {
	return filepath.Join(xdg.StateHome, AppName, "debug.log")
}

// Expand replaces a leading ~ with the user's home directory and cleans
// the result. Other paths are only cleaned.
func Expand(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			home = xdg.Home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path)
}
