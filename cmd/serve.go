package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/codexgui/internal/app"
	"github.com/zjrosen/codexgui/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the UI bridge until interrupted",
	Long: `Start the host: load settings, watch the settings file for external edits,
check the codex binary and serve the JSON-RPC bridge over WebSocket.

Example:
  codexgui serve                          # listen on 127.0.0.1:7311
  codexgui serve --listen 127.0.0.1:9000  # another port
  CODEXGUI_LISTEN=127.0.0.1:0 codexgui    # any free port`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringP("listen", "l", "", "bridge address (overrides config)")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, appConfig(cfg), cmd.OutOrStdout())
}

// serve runs the host until ctx is done. The first line written to out
// carries the bridge URL.
func serve(ctx context.Context, c app.Config, out io.Writer) error {
	host, err := app.New(c)
	if err != nil {
		return fmt.Errorf("creating host: %w", err)
	}
	if err := host.Start(ctx); err != nil {
		_ = host.Close()
		return fmt.Errorf("starting host: %w", err)
	}

	fmt.Fprintf(out, "codexgui listening on ws://%s/\n", host.Server.Addr())
	fmt.Fprintf(out, "settings: %s\n", host.Store.Path())
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "config:   %s\n", used)
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	<-ctx.Done()
	fmt.Fprintln(out, "\nShutting down...")

	if err := host.Close(); err != nil {
		log.ErrorErr(log.CatBridge, "Error during shutdown", err)
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
