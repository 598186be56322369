package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fieldflow/config"
	"fieldflow/db"
	"fieldflow/logging"
)

var Version = "dev"

type rootOptions struct {
	configPath string
	tenantID   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "renewctl",
		Short:         "Operate the service agreement renewal engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&opts.tenantID, "tenant", "t", "", "restrict renewal to one tenant id")

	rootCmd.AddCommand(runCmd(opts))
	rootCmd.AddCommand(scheduleCmd(opts))
	rootCmd.AddCommand(relayCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))
	return rootCmd
}

// env is the wiring shared by every subcommand.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func (e *env) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
	_ = e.logger.Sync()
}

func bootstrap(ctx context.Context, opts *rootOptions) (*env, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.tenantID != "" {
		cfg.Renewal.TenantID = opts.tenantID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "renewctl")
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}
