package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/codexgui/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a command the way the host does and stream its output",
	Long: `Run a command through the process runner, streaming stdout and stderr,
and exit with the command's exit code.

With --shell the arguments are joined into one line for the configured
terminal.shell.

Example:
  codexgui run -- git status
  codexgui run --shell -- 'ls | wc -l'
  codexgui run --dir /tmp -- pwd`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("shell", false, "run through the configured shell")
	runCmd.Flags().String("dir", "", "working directory")
	runCmd.Flags().StringToString("env", nil, "extra environment (KEY=VALUE)")
}

func runRun(cmd *cobra.Command, args []string) error {
	useShell, _ := cmd.Flags().GetBool("shell")
	dir, _ := cmd.Flags().GetString("dir")
	env, _ := cmd.Flags().GetStringToString("env")

	r := newRunner(openSettings(cmd))

	var req runner.Request
	if useShell {
		req = r.ShellRequest(strings.Join(args, " "))
	} else {
		req = runner.Request{Path: args[0], Args: args[1:]}
	}
	req.Dir = dir
	req.Env = env

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	req.OnStdout = func(b []byte) { _, _ = stdout.Write(b) }
	req.OnStderr = func(b []byte) { _, _ = stderr.Write(b) }

	_, err := r.Run(cmd.Context(), req)
	var failed *runner.CommandFailed
	switch {
	case err == nil:
		return nil
	case errors.As(err, &failed):
		if failed.Signal != "" {
			fmt.Fprintf(stderr, "%s: %s\n", req.Path, failed.Signal)
			return &exitError{code: 1}
		}
		return &exitError{code: failed.Code()}
	default:
		return err
	}
}
