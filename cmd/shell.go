//go:build !windows

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/settings"
	"github.com/zjrosen/codexgui/internal/terminal"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open the configured terminal shell in a pseudo-terminal",
	Long: `Start terminal.shell in a pseudo-terminal, the same way the UI's terminal
panel does, and attach this terminal to it until the shell exits.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)

	shellCmd.Flags().String("dir", "", "starting directory (default: current directory)")
}

func runShell(cmd *cobra.Command, _ []string) error {
	store := openSettings(cmd)
	shell := "/bin/sh"
	if v, ok := store.Get(settings.KeyTerminalShell); ok {
		if s, ok := v.AsString(); ok && s != "" {
			shell = s
		}
	}
	dir, _ := cmd.Flags().GetString("dir")

	stdin := int(os.Stdin.Fd()) // #nosec G115 -- file descriptors fit in int
	size := terminal.DefaultSize
	if cols, rows, err := term.GetSize(stdin); err == nil {
		size = terminal.Size{Rows: uint16(rows), Cols: uint16(cols)} // #nosec G115 -- terminal sizes fit in uint16
	}

	p, err := terminal.StartPTY(cmd.Context(), shell, dir, size)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if term.IsTerminal(stdin) {
		state, err := term.MakeRaw(stdin)
		if err != nil {
			return fmt.Errorf("setting raw mode: %w", err)
		}
		defer func() { _ = term.Restore(stdin, state) }()

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				if cols, rows, err := term.GetSize(stdin); err == nil {
					_ = p.Resize(terminal.Size{Rows: uint16(rows), Cols: uint16(cols)}) // #nosec G115
				}
			}
		}()
	}

	go func() {
		if _, err := io.Copy(p, os.Stdin); err != nil {
			log.Debug(log.CatTerminal, "Stopped forwarding stdin", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	for chunk := range p.Output() {
		_, _ = out.Write(chunk)
	}

	code, err := p.Wait()
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}
