package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/domain-sentinel/internal/api"
	"github.com/JakeFAU/domain-sentinel/internal/app"
	"github.com/JakeFAU/domain-sentinel/internal/scheduler"
)

// role is one long-running loop of a process. It returns nil on ctx cancel.
type role func(ctx context.Context) error

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the domain sync and the domain and token dispatchers on their intervals.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			r, err := schedulerRole(a)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a, "scheduler", "", r)
		},
	}
}

func newWarningWorkerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warning-worker",
		Short: "Consume domain batches and record browser warnings for one browser variant.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			r, release, err := warningRole(a)
			if err != nil {
				return err
			}
			defer release()
			return serve(cmd.Context(), a, "warning-worker", a.Config().Browser.Variant, r)
		},
	}
	cmd.Flags().StringVar(&opts.variant, "variant", "", "browser variant (overrides browser.variant)")
	return cmd
}

func newPriceWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price-worker",
		Short: "Consume token batches and refresh token prices.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			r, err := priceRole(a)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a, "price-worker", "", r)
		},
	}
}

func newAllCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run the scheduler and both workers in one process.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			sched, err := schedulerRole(a)
			if err != nil {
				return err
			}
			warnings, release, err := warningRole(a)
			if err != nil {
				return err
			}
			defer release()
			prices, err := priceRole(a)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a, a.Config().Service.Name, a.Config().Browser.Variant, sched, warnings, prices)
		},
	}
	cmd.Flags().StringVar(&opts.variant, "variant", "", "browser variant (overrides browser.variant)")
	return cmd
}

func schedulerRole(a *app.App) (role, error) {
	jobs, err := a.SchedulerJobs()
	if err != nil {
		return nil, err
	}
	s, err := scheduler.New(jobs, nil, a.Logger())
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		s.Run(ctx)
		return nil
	}, nil
}

func warningRole(a *app.App) (role, func(), error) {
	checker, release, err := a.WarningChecker()
	if err != nil {
		return nil, nil, err
	}
	w, err := a.WarningWorker(checker)
	if err != nil {
		release()
		return nil, nil, err
	}
	cfg := a.Config()
	group := cfg.WarningGroup(cfg.Browser.Variant)
	return func(ctx context.Context) error {
		return a.Bus().Subscribe(ctx, cfg.Topics.DomainBatches, group, w.HandleBatch)
	}, release, nil
}

func priceRole(a *app.App) (role, error) {
	w, err := a.PriceWorker()
	if err != nil {
		return nil, err
	}
	cfg := a.Config()
	return func(ctx context.Context) error {
		return a.Bus().Subscribe(ctx, cfg.Topics.TokenBatches, cfg.Groups.Price, w.HandleBatch)
	}, nil
}

// serve runs the health server next to roles. The first role to fail stops
// the others.
func serve(ctx context.Context, a *app.App, service, variant string, roles ...role) error {
	cfg := a.Config()
	logger := a.Logger().With(zap.String("role", service))
	g, ctx := errgroup.WithContext(ctx)

	srv := a.Server(service, variant)
	g.Go(func() error {
		return api.ListenAndServe(ctx, a.Addr(), srv.Handler(), cfg.Server.ShutdownTimeout, logger)
	})
	for _, r := range roles {
		g.Go(func() error {
			if err := r(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	logger.Info("started")
	err := g.Wait()
	logger.Info("stopped", zap.Error(err))
	return err
}
