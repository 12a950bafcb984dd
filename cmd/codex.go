package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/codexgui/internal/codex"
)

var codexCmd = &cobra.Command{
	Use:   "codex",
	Short: "Drive the codex assistant",
	Long: `Run codex assistant commands with the model, sandbox, approval and working
directory taken from settings unless overridden by flags.

Example:
  codexgui codex status
  codexgui codex chat "explain main.go"
  codexgui codex exec --full-auto "add tests for the parser"
  codexgui codex raw -- exec --json "list files"`,
}

func init() {
	rootCmd.AddCommand(codexCmd)

	simple := map[string]func(*codex.Client, context.Context, codex.Options) codex.Response{
		"login":  (*codex.Client).Login,
		"logout": (*codex.Client).Logout,
		"status": (*codex.Client).Status,
		"apply":  (*codex.Client).Apply,
	}
	short := map[string]string{
		"login":  "Log in to codex",
		"logout": "Log out of codex",
		"status": "Show login status",
		"apply":  "Apply the latest diff produced by codex",
	}
	for _, name := range []string{"login", "logout", "status", "apply"} {
		op := simple[name]
		codexCmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: short[name],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCodex(cmd, func(c *codex.Client, opts codex.Options) codex.Response {
					return op(c, cmd.Context(), opts)
				})
			},
		})
	}

	codexCmd.AddCommand(&cobra.Command{
		Use:   "chat <message...>",
		Short: "Send a message to codex",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := strings.Join(args, " ")
			return runCodex(cmd, func(c *codex.Client, opts codex.Options) codex.Response {
				return c.Chat(cmd.Context(), msg, opts)
			})
		},
	})
	codexCmd.AddCommand(&cobra.Command{
		Use:   "exec <task...>",
		Short: "Run codex non-interactively on a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			return runCodex(cmd, func(c *codex.Client, opts codex.Options) codex.Response {
				return c.Exec(cmd.Context(), task, opts)
			})
		},
	})
	codexCmd.AddCommand(&cobra.Command{
		Use:   "raw -- <args...>",
		Short: "Pass a command line to codex unchanged",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := strings.Join(quoteAll(args), " ")
			return runCodex(cmd, func(c *codex.Client, opts codex.Options) codex.Response {
				return c.RunLine(cmd.Context(), line, opts)
			})
		},
	})

	codexCmd.PersistentFlags().StringP("model", "m", "", "model (default: codex.model setting)")
	codexCmd.PersistentFlags().String("sandbox", "", "sandbox mode (default: codex.sandbox setting)")
	codexCmd.PersistentFlags().StringP("approval", "a", "", "approval policy (default: codex.approval setting)")
	codexCmd.PersistentFlags().StringP("cwd", "C", "", "working directory (default: codex.workingDirectory setting)")
	codexCmd.PersistentFlags().Bool("full-auto", false, "let codex run without asking")
}

// runCodex builds a client from settings and flags, runs op and prints
// its output. A failed response exits 1.
func runCodex(cmd *cobra.Command, op func(*codex.Client, codex.Options) codex.Response) error {
	store := openSettings(cmd)
	client, err := codex.New(newRunner(store), codex.Config{Path: cfg.CodexPath, BinDir: cfg.CodexBinDir})
	if err != nil {
		return err
	}

	opts := codex.DefaultOptions(store)
	flags := cmd.Flags()
	if v, _ := flags.GetString("model"); v != "" {
		opts.Model = v
	}
	if v, _ := flags.GetString("sandbox"); v != "" {
		opts.Sandbox = v
	}
	if v, _ := flags.GetString("approval"); v != "" {
		opts.Approval = v
	}
	if v, _ := flags.GetString("cwd"); v != "" {
		opts.WorkingDir = v
	}
	opts.FullAuto, _ = flags.GetBool("full-auto")

	out := cmd.OutOrStdout()
	opts.OnOutput = func(b []byte) { _, _ = out.Write(b) }

	resp := op(client, opts)
	if !resp.Success {
		fmt.Fprintln(cmd.ErrOrStderr(), resp.Error)
		return &exitError{code: 1}
	}
	return nil
}

// quoteAll single-quotes args that need it so RunLine splits them back
// into the same words.
func quoteAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a != "" && !strings.ContainsAny(a, " \t\n'\"\\$`*?[]{}()<>|&;#~") {
			out[i] = a
			continue
		}
		out[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return out
}
