// Package main serves a remote calculation node. Engines connect over
// websocket at /jobs and send calculation jobs, which run against the
// shared computation cache.
package main

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
	"go.uber.org/zap"

	"risk-view-engine/internal/app"
	"risk-view-engine/internal/config"
	"risk-view-engine/internal/logging"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/transport"
)

// options holds the command flags.
type options struct {
	ConfigPath   string
	LogLevel     string
	ListenAddr   string
	NodeID       string
	Workers      int
	LoadFixtures bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "calcnode",
		Short: "Serve a remote calculation node",
		Long: `Serve a remote calculation node.

The node resolves targets against the configured sources, reads and writes
values through the shared cache (redis in a multi-process deployment) and
keeps its own function statistics.

Example:
  calcnode -c calcnode.yaml --listen :8090 --node-id calc-a`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML configuration")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "override logging.level")
	cmd.Flags().StringVar(&opts.ListenAddr, "listen", "", "override calc_node.listen_addr")
	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "override calc_node.node_id")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "override calc_node.workers")
	cmd.Flags().BoolVar(&opts.LoadFixtures, "fixtures", false, "seed demo securities and portfolio into memory sources")
	return cmd
}

func serve(cmd *cobra.Command, opts *options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("node_id", cfg.CalcNode.NodeID))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cache.SharedBackend != "redis" {
		logger.Warn("shared cache is process-local; values are not visible to the dispatching engine")
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	if opts.LoadFixtures {
		if err := stores.LoadFixtures(ctx); err != nil {
			return err
		}
	}

	components, err := app.NewComponents(cfg, stores, cfg.CalcNode.NodeID, logger)
	if err != nil {
		return err
	}
	if _, err := components.Persister.Restore(ctx); err != nil {
		logger.Warn("statistics restore failed", zap.Error(err))
	}
	persisterDone := make(chan struct{})
	go func() {
		defer close(persisterDone)
		components.Persister.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.Handle("/jobs", transport.NewServer(components.Node, cfg.CalcNode.Workers, logger))
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.CalcNode.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("calculation node listening",
			zap.String("addr", cfg.CalcNode.ListenAddr),
			zap.Int("workers", cfg.CalcNode.Workers),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			<-persisterDone
			return fmt.Errorf("serve %s: %w", cfg.CalcNode.ListenAddr, err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	stop()
	<-persisterDone
	return nil
}

func applyOverrides(cfg *config.Config, opts *options) {
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.ListenAddr != "" {
		cfg.CalcNode.ListenAddr = opts.ListenAddr
	}
	if opts.NodeID != "" {
		cfg.CalcNode.NodeID = opts.NodeID
	}
	if opts.Workers > 0 {
		cfg.CalcNode.Workers = opts.Workers
	}
}
