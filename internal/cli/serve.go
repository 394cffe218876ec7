package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbakri/corvo/internal/config"
	"github.com/mbakri/corvo/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep MCP sessions warm and expose metrics",
	Long: `Hold connections to the configured MCP servers open, reload them when
the server manifest changes, and serve Prometheus metrics when the
metrics endpoint is enabled.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	reload := make(chan struct{}, 1)
	watcher, err := config.NewManifestWatcher(app.cfg.ServersPath, app.log.GetZerolog(), func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	})
	if err != nil {
		app.log.Warn().Err(err).Msg("manifest watcher unavailable, reload on change disabled")
	} else {
		defer watcher.Stop()
	}

	var metricsSrv *http.Server
	if app.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		metricsSrv = &http.Server{Addr: app.cfg.Metrics.Addr, Handler: mux}
		go func() {
			app.log.Info().Str("addr", app.cfg.Metrics.Addr).Msg("metrics endpoint listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "corvo serving %d MCP sessions (ctrl-c to stop)\n", len(app.sessions))

	for {
		select {
		case <-ctx.Done():
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = metricsSrv.Shutdown(shutdownCtx)
				cancel()
			}
			return nil
		case <-reload:
			app.log.Info().Msg("server manifest changed, reconnecting")
			if err := app.reconnectServers(ctx); err != nil {
				app.log.Error().Err(err).Msg("manifest reload failed")
			}
		}
	}
}
