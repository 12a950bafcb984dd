package codex

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/zjrosen/codexgui/internal/log"
)

// ErrUnsupportedPlatform means no bundled binary variant exists for the
// running OS and architecture.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var triples = map[string]map[string]string{
	"linux":   {"amd64": "x86_64-unknown-linux-musl", "arm64": "aarch64-unknown-linux-musl"},
	"android": {"amd64": "x86_64-unknown-linux-musl", "arm64": "aarch64-unknown-linux-musl"},
	"darwin":  {"amd64": "x86_64-apple-darwin", "arm64": "aarch64-apple-darwin"},
	"windows": {"amd64": "x86_64-pc-windows-msvc.exe", "arm64": "aarch64-pc-windows-msvc.exe"},
}

// TargetTriple returns the suffix of the bundled binary for goos/goarch.
func TargetTriple(goos, goarch string) (string, error) {
	triple, ok := triples[goos][goarch]
	if !ok {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedPlatform, goos, goarch)
	}
	return triple, nil
}

// BundledPath returns where the bundled binary for goos/goarch lives in binDir.
func BundledPath(binDir, goos, goarch string) (string, error) {
	triple, err := TargetTriple(goos, goarch)
	if err != nil {
		return "", err
	}
	return filepath.Join(binDir, "codex-"+triple), nil
}

// DefaultBinDir is codex-cli/bin next to the running executable.
func DefaultBinDir() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Join("codex-cli", "bin")
	}
	return filepath.Join(filepath.Dir(exe), "codex-cli", "bin")
}

// resolvePath picks the binary to run: an explicit path, else the bundled
// variant when present, else "codex" from PATH. When nothing is found the
// bundled path is returned so the first run reports a spawn failure naming it.
func resolvePath(cfg Config) (string, error) {
	if cfg.Path != "" {
		return cfg.Path, nil
	}

	bundled, err := BundledPath(cfg.BinDir, cfg.GOOS, cfg.GOARCH)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(bundled); err == nil {
		log.Debug(log.CatCodex, "Using bundled codex binary", "path", bundled)
		return bundled, nil
	}
	if path, err := exec.LookPath("codex"); err == nil {
		log.Debug(log.CatCodex, "Using codex from PATH", "path", path)
		return path, nil
	}
	log.Warn(log.CatCodex, "No codex binary found", "bundled", bundled)
	return bundled, nil
}
