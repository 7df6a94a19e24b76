package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/processengine"
	httpAdapter "github.com/aretw0/processengine/pkg/adapters/http"
	"github.com/aretw0/processengine/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// shutdownTimeout is how long outstanding requests get on shutdown.
const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger API",
	Long: `Recovers the suspended process instances of every model, then serves the JSON
trigger API (start instances, finish user tasks, send messages and signals)
and Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m, err := metrics.New(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		eng, cfg, release, err := setup(ctx, cmd, processengine.WithLifecycleHooks(m.Hooks()))
		if err != nil {
			return err
		}
		defer release()
		if addr == "" {
			addr = cfg.Server.Address
		}

		if err := eng.Recover(ctx); err != nil {
			return err
		}

		srv := &http.Server{
			Addr: addr,
			Handler: httpAdapter.NewHandler(eng,
				httpAdapter.WithLogger(slog.Default()),
				httpAdapter.WithMetricsHandler(promhttp.Handler()),
			),
		}

		serverErrors := make(chan error, 1)
		go func() {
			slog.Info("serving process engine", "addr", srv.Addr, "models", cfg.Models, "store", cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			slog.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
				return srv.Close()
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides server.address)")
}
