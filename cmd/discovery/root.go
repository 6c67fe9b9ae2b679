package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"squeeze-discovery/internal/config"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/observability"
)

const serviceName = "squeeze-discovery"

// runtime is the state shared by every subcommand once the root pre-run
// has loaded configuration.
type runtime struct {
	configPath string
	useMemory  bool

	cfg      *config.Config
	logger   *zap.Logger
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "discovery",
		Short:         "Squeeze and momentum discovery pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return rt.close(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", os.Getenv("DISCOVERY_CONFIG"), "YAML configuration file")
	root.PersistentFlags().BoolVar(&rt.useMemory, "use-memory", false, "Use in-memory storage instead of PostgreSQL and ClickHouse")

	root.AddCommand(
		newServeCmd(rt),
		newScanCmd(rt),
		newIngestCmd(rt),
		newLabelCmd(rt),
		newMigrateCmd(rt),
	)
	return root
}

func (rt *runtime) init() error {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	rt.cfg = cfg
	rt.logger = logger.With(zap.String("service", serviceName))

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracing(serviceName, os.Stderr)
		if err != nil {
			rt.logger.Error("init tracing", zap.Error(err))
			return err
		}
		rt.shutdown = shutdown
	}
	return nil
}

func (rt *runtime) close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	if rt.shutdown != nil {
		err = rt.shutdown(ctx)
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
	return err
}

// fail logs err and returns it so RunE can surface a non-zero exit.
func (rt *runtime) fail(msg string, err error) error {
	rt.logger.Error(msg, zap.Error(err))
	return fmt.Errorf("%s: %w", msg, err)
}
