package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/app"
	"github.com/JakeFAU/domain-sentinel/internal/config"
	"github.com/JakeFAU/domain-sentinel/internal/logging"
	"github.com/JakeFAU/domain-sentinel/internal/telemetry"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey      appKeyType = "app"
	shutdownKey appKeyType = "telemetry-shutdown"
)

// newApp is the application factory. Tests replace it to avoid real backends.
var newApp = app.New

type rootOptions struct {
	configFile string
	variant    string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Watches domains for browser warnings and keeps token prices fresh.",
		Long: `sentinel syncs the managed domain list from the admin API, fans domains
and tokens out over the message bus in fixed-size batches, and runs the
workers that check each domain for browser warning pages and refresh
token prices.`,
		SilenceUsage: true,

		// Loads configuration and builds the App before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			if flag := cmd.Flags().Lookup("variant"); flag != nil && flag.Changed {
				cfg.Browser.Variant = opts.variant
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Service.Name)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := logging.WithLogger(cmd.Context(), logger)
			shutdown, err := telemetry.Init(ctx, telemetry.Config{
				ServiceName: cfg.Service.Name,
				Role:        cmd.Name(),
				SampleRatio: cfg.Telemetry.SampleRatio,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			ctx = context.WithValue(ctx, shutdownKey, shutdown)

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(ctx, appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
			if shutdown, ok := cmd.Context().Value(shutdownKey).(func(context.Context) error); ok {
				if err := shutdown(context.WithoutCancel(cmd.Context())); err != nil {
					zap.L().Warn("telemetry shutdown", zap.Error(err))
				}
			}
			_ = zap.L().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML); SENTINEL_* env vars override it")

	cmd.AddCommand(
		newSchedulerCmd(),
		newWarningWorkerCmd(opts),
		newPriceWorkerCmd(),
		newAllCmd(opts),
		newMigrateCmd(),
	)
	return cmd
}

func appFrom(cmd *cobra.Command) (*app.App, error) {
	a, ok := cmd.Context().Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return a, nil
}

// Execute runs the root command until it finishes or the process is signaled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
