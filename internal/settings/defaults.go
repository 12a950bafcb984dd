package settings

import "runtime"

// Well-known keys read by other components.
const (
	KeyTheme              = "theme"
	KeyFontSize           = "fontSize"
	KeyCodexModel         = "codex.model"
	KeyCodexSandbox       = "codex.sandbox"
	KeyCodexApproval      = "codex.approval"
	KeyCodexWorkingDir    = "codex.workingDirectory"
	KeyTerminalShell      = "terminal.shell"
	KeyExplorerShowHidden = "fileExplorer.showHiddenFiles"
	KeyExplorerSortBy     = "fileExplorer.sortBy"
	KeyExplorerSortOrder  = "fileExplorer.sortOrder"
)

// Defaults returns the default document for the running platform.
func Defaults() Value {
	return DefaultsFor(runtime.GOOS)
}

// DefaultsFor returns the default document with platform-dependent values
// (terminal.shell) resolved for goos.
func DefaultsFor(goos string) Value {
	shell := "/bin/bash"
	if goos == "windows" {
		shell = "cmd.exe"
	}

	return Mapping(map[string]Value{
		"theme":           String("dark"),
		"fontSize":        Int(14),
		"fontFamily":      String("Monaco, Menlo, monospace"),
		"sidebarWidth":    Int(250),
		"terminalHeight":  Int(300),
		"showSidebar":     Bool(true),
		"showTerminal":    Bool(true),
		"autoSave":        Bool(true),
		"tabSize":         Int(2),
		"wordWrap":        Bool(true),
		"showLineNumbers": Bool(true),
		"showMinimap":     Bool(false),
		"codex": Mapping(map[string]Value{
			"model":            String("o1-mini"),
			"sandbox":          String("workspace-write"),
			"approval":         String("untrusted"),
			"autoApply":        Bool(false),
			"workingDirectory": Null(),
		}),
		"terminal": Mapping(map[string]Value{
			"shell":       String(shell),
			"cursorStyle": String("block"),
			"cursorBlink": Bool(true),
			"scrollback":  Int(1000),
		}),
		"fileExplorer": Mapping(map[string]Value{
			"showHiddenFiles": Bool(false),
			"sortBy":          String("name"),
			"sortOrder":       String("asc"),
		}),
	})
}

// Enumerations restricts string settings to a fixed set of values.
var Enumerations = map[string][]string{
	"theme":                {"dark", "light"},
	KeyCodexModel:          {"o1-mini", "o1-preview", "gpt-4o"},
	KeyCodexSandbox:        {"read-only", "workspace-write", "danger-full-access"},
	KeyCodexApproval:       {"untrusted", "on-failure", "on-request", "never"},
	"terminal.cursorStyle": {"block", "underline", "bar"},
	KeyExplorerSortBy:      {"name", "size", "modified"},
	KeyExplorerSortOrder:   {"asc", "desc"},
}
