// Package main runs view computation cycles: it resolves the configured
// value requirements, executes their dependency graphs over local and
// remote calculation nodes, and reports the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"risk-view-engine/internal/app"
	"risk-view-engine/internal/calc"
	"risk-view-engine/internal/config"
	"risk-view-engine/internal/cycle"
	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/fixtures"
	"risk-view-engine/internal/graph"
	"risk-view-engine/internal/logging"
	"risk-view-engine/internal/storage/migrations"
	pgstore "risk-view-engine/internal/storage/postgres"
	"risk-view-engine/internal/transport"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "engine",
		Short:         "View computation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML configuration")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// load reads the configuration and builds the logger.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// runOptions holds flags for the run command.
type runOptions struct {
	*rootOptions
	Interval     time.Duration
	Once         bool
	LoadFixtures bool
	MetricsAddr  string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run computation cycles",
		Long: `Run computation cycles over the configured calculation configurations.

Without configurations in the file, the demo portfolio requirements are
computed. With --once, or a zero cycle.interval, a single cycle runs and
the command exits with a non-zero status if the cycle did not complete.

Example:
  engine run --once --fixtures
  engine run -c engine.yaml --interval 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "override cycle.interval")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single cycle and exit")
	cmd.Flags().BoolVar(&opts.LoadFixtures, "fixtures", true, "seed demo securities, portfolio and prices")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "override metrics_addr")
	return cmd
}

func runEngine(cmd *cobra.Command, opts *runOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cmd.Flags().Changed("interval") {
		cfg.Cycle.Interval = opts.Interval
	}
	if opts.Once {
		cfg.Cycle.Interval = 0
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	components, err := app.NewComponents(cfg, stores, "engine-local", logger)
	if err != nil {
		return err
	}

	if n, err := components.Persister.Restore(ctx); err != nil {
		logger.Warn("statistics restore failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("statistics restored", zap.Int("records", n))
	}
	persisterDone := make(chan struct{})
	go func() {
		defer close(persisterDone)
		components.Persister.Run(ctx)
	}()
	defer func() {
		stop()
		<-persisterDone
	}()

	invokers, closeInvokers, err := buildInvokers(ctx, cfg, components, logger)
	if err != nil {
		return err
	}
	defer closeInvokers()

	executors, err := buildExecutors(cfg, invokers, components, logger)
	if err != nil {
		return err
	}

	// Remote nodes keep their own caches; the local node shares ours.
	var releasers []cycle.CycleReleaser
	for _, inv := range invokers {
		if rel, ok := inv.(cycle.CycleReleaser); ok {
			releasers = append(releasers, rel)
		}
	}

	configurations, err := cycle.ConfigurationsFromConfig(cfg.Cycle.Configurations)
	if err != nil {
		return err
	}
	if len(configurations) == 0 {
		logger.Info("no configurations in file, computing the demo requirements")
		configurations = []cycle.Configuration{{Name: fixtures.Configuration, Requirements: fixtures.Requirements()}}
	}

	runner, err := cycle.New(cycle.Options{
		Builder:        graph.NewBuilder(components.Functions, components.Resolver, []string{domain.ValueMarketPrice}, logger),
		Resolver:       components.Resolver,
		MarketData:     stores.MarketData,
		Caches:         components.Caches,
		Executors:      executors,
		Structure:      components.Structure,
		JobResults:     stores.JobResults,
		Listeners: []cycle.ResultListener{
			resultLogger(logger),
			cycle.ListenerFunc(func(context.Context, *cycle.RunResult) { components.TargetCache.Purge() }),
		},
		Configurations: configurations,
		Releasers:      releasers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	srv := startHTTPServer(cfg.MetricsAddr, logger)
	defer shutdownHTTPServer(srv, logger)

	if cfg.Cycle.Interval <= 0 {
		result, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		if result.Status != cycle.StatusCompleted {
			return fmt.Errorf("cycle %s finished %s", result.CycleID, result.Status)
		}
		return nil
	}

	logger.Info("running cycles", zap.Duration("interval", cfg.Cycle.Interval))
	if err := runner.RunEvery(ctx, cfg.Cycle.Interval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildInvokers creates the local invoker (when local workers are
// configured) and one remote invoker per configured node.
func buildInvokers(ctx context.Context, cfg *config.Config, c *app.Components, logger *zap.Logger) ([]transport.Invoker, func(), error) {
	var (
		invokers []transport.Invoker
		remotes  []*transport.RemoteInvoker
	)
	closeAll := func() {
		for _, r := range remotes {
			_ = r.Close()
		}
	}

	if cfg.Executor.LocalWorkers > 0 {
		invokers = append(invokers, transport.NewLocalInvoker("local", c.Node, cfg.Executor.LocalWorkers))
	}

	for _, endpoint := range cfg.Executor.RemoteNodes {
		rc := transport.DefaultRemoteConfig()
		r, err := transport.NewRemoteInvoker(ctx, endpoint, &rc, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect calculation node %s: %w", endpoint, err)
		}
		remotes = append(remotes, r)
		invokers = append(invokers, r)
	}

	if len(cfg.Executor.RemoteNodes) > 0 && cfg.Cache.SharedBackend != "redis" {
		logger.Warn("remote calculation nodes configured without a redis shared cache; they cannot see each other's values")
	}
	return invokers, closeAll, nil
}

func buildExecutors(cfg *config.Config, invokers []transport.Invoker, c *app.Components, logger *zap.Logger) (calc.ExecutorFactory, error) {
	if len(invokers) == 0 {
		return nil, errors.New("no calculation capacity configured")
	}
	opts := calc.Options{
		MaxJobItems:    cfg.Executor.MaxJobItems,
		AbandonTimeout: cfg.Executor.AbandonTimeout,
		Costs:          c.Statistics,
		Logger:         logger,
	}
	if cfg.Executor.Mode == "single" {
		if len(invokers) > 1 {
			logger.Warn("single-node executor uses only the first invoker", zap.String("invoker", invokers[0].Name()))
		}
		return calc.NewSingleNodeExecutorFactory(invokers[0], opts), nil
	}
	return calc.NewMultiNodeExecutorFactory(invokers, opts), nil
}

// resultLogger logs a line per terminal output that did not produce a value.
func resultLogger(logger *zap.Logger) cycle.ResultListener {
	return cycle.ListenerFunc(func(_ context.Context, result *cycle.RunResult) {
		for _, cr := range result.Configurations {
			for _, r := range cr.Results {
				if r.Status == cycle.ResultValue {
					logger.Info("value",
						zap.String("configuration", cr.Name),
						zap.String("requirement", r.Requirement.String()),
						zap.Any("value", r.Value),
					)
					continue
				}
				logger.Warn("no value",
					zap.String("configuration", cr.Name),
					zap.String("requirement", r.Requirement.String()),
					zap.String("status", string(r.Status)),
					zap.String("failed_node", r.FailedNode),
					zap.String("error", r.Error),
				)
			}
		}
	})
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL and ClickHouse schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			if cfg.Storage.PostgresDSN == "" && cfg.Storage.ClickhouseDSN == "" {
				return errors.New("no postgres_dsn or clickhouse_dsn configured")
			}
			if cfg.Storage.PostgresDSN != "" {
				pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
				if err != nil {
					return err
				}
				applied, err := migrations.RunPostgresMigrations(ctx, pool, logger)
				pool.Close()
				if err != nil {
					return err
				}
				logger.Info("postgres migrated", zap.Strings("applied", applied))
			}
			if cfg.Storage.ClickhouseDSN != "" {
				conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN, logger)
				if err != nil {
					return err
				}
				_ = conn.Close()
				logger.Info("clickhouse migrated")
			}
			return nil
		},
	}
}
