// Package app builds the long-lived services of a sentinel process from
// configuration and hands out the components each command runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/api"
	"github.com/JakeFAU/domain-sentinel/internal/browser"
	"github.com/JakeFAU/domain-sentinel/internal/bus/memory"
	"github.com/JakeFAU/domain-sentinel/internal/bus/pubsub"
	"github.com/JakeFAU/domain-sentinel/internal/bus/redisstream"
	"github.com/JakeFAU/domain-sentinel/internal/clock/system"
	"github.com/JakeFAU/domain-sentinel/internal/config"
	"github.com/JakeFAU/domain-sentinel/internal/dispatcher"
	"github.com/JakeFAU/domain-sentinel/internal/httpfetch"
	"github.com/JakeFAU/domain-sentinel/internal/id/uuid"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
	"github.com/JakeFAU/domain-sentinel/internal/pricing"
	"github.com/JakeFAU/domain-sentinel/internal/ratelimit"
	"github.com/JakeFAU/domain-sentinel/internal/retry"
	"github.com/JakeFAU/domain-sentinel/internal/scheduler"
	"github.com/JakeFAU/domain-sentinel/internal/source"
	"github.com/JakeFAU/domain-sentinel/internal/storage/gcs"
	"github.com/JakeFAU/domain-sentinel/internal/storage/local"
	memstore "github.com/JakeFAU/domain-sentinel/internal/storage/memory"
	"github.com/JakeFAU/domain-sentinel/internal/storage/postgres"
	"github.com/JakeFAU/domain-sentinel/internal/syncer"
	"github.com/JakeFAU/domain-sentinel/internal/worker"
)

// Stores groups the four record stores behind their pipeline interfaces.
type Stores struct {
	Domains  pipeline.DomainStore
	Tokens   pipeline.TokenStore
	Feed     pipeline.FeedStore
	Warnings pipeline.WarningFeedStore
}

// App holds the shared services of one process. It is created once per
// command and closed when the command returns.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	clock   pipeline.Clock
	idGen   pipeline.IDGenerator
	bus     pipeline.Bus
	stores  Stores
	pg      *postgres.Stores
	archive pipeline.BlobStore
	http    *httpfetch.Client
	checks  map[string]api.ReadinessCheck
	closers []func()
}

// New initializes storage, the bus, and the outbound HTTP client. It fails
// fast when a configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		idGen:  uuid.New(),
		checks: make(map[string]api.ReadinessCheck),
	}
	if err := a.initStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initBus(ctx); err != nil {
		a.Close()
		return nil, err
	}
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.HTTP.RPS,
		Burst: cfg.HTTP.Burst,
		Hosts: cfg.HTTP.HostRPS,
	})
	a.http = httpfetch.New(httpfetch.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.HTTP.Timeout,
		MaxBodySize: cfg.HTTP.MaxBodySize,
	}, limiter)

	logger.Info("application services initialized",
		zap.String("bus", cfg.Bus.Driver),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("archive", cfg.Storage.Archive.Driver),
	)
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "postgres":
		stores, err := postgres.Open(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
			Tables: postgres.Tables{
				Domains:     a.cfg.DB.Tables.Domains,
				Tokens:      a.cfg.DB.Tables.Tokens,
				Feed:        a.cfg.DB.Tables.Feed,
				WarningFeed: a.cfg.DB.Tables.WarningFeed,
			},
		})
		if err != nil {
			return fmt.Errorf("init postgres stores: %w", err)
		}
		a.pg = stores
		a.closers = append(a.closers, stores.Close)
		a.checks["postgres"] = stores.Ping
		if a.cfg.DB.AutoMigrate {
			if _, err := stores.Migrate(ctx, a.logger); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
		}
		a.stores = Stores{Domains: stores.Domains, Tokens: stores.Tokens, Feed: stores.Feed, Warnings: stores.Warnings}
	case "memory":
		tokens := memstore.NewTokenStore()
		a.stores = Stores{
			Domains:  memstore.NewDomainStore(),
			Tokens:   tokens,
			Feed:     memstore.NewFeedStore(tokens),
			Warnings: memstore.NewWarningFeedStore(),
		}
	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	archive := a.cfg.Storage.Archive
	switch archive.Driver {
	case "none", "":
	case "memory":
		a.archive = memstore.NewBlobStore()
	case "local":
		store, err := local.New(local.Config{BaseDir: archive.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = store
	case "gcs":
		store, err := gcs.New(ctx, gcs.Config{Bucket: archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("close gcs archive", zap.Error(err))
			}
		})
		a.archive = store
	default:
		return fmt.Errorf("unknown archive driver %q", archive.Driver)
	}
	return nil
}

func (a *App) initBus(ctx context.Context) error {
	switch a.cfg.Bus.Driver {
	case "memory":
		a.bus = memory.New(memory.Config{MaxDeliveries: a.cfg.Bus.MaxDeliveries}, a.logger)
	case "pubsub":
		b, err := pubsub.New(ctx, pubsub.Config{
			ProjectID:      a.cfg.Bus.PubSub.ProjectID,
			CreateMissing:  a.cfg.Bus.PubSub.CreateMissing,
			MaxOutstanding: a.cfg.Bus.PubSub.MaxOutstanding,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("init pubsub bus: %w", err)
		}
		a.bus = b
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Bus.Redis.Addr,
			Password: a.cfg.Bus.Redis.Password,
			DB:       a.cfg.Bus.Redis.DB,
		})
		a.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		a.bus = redisstream.New(rdb,
			redisstream.WithKeyPrefix(a.cfg.Bus.Redis.KeyPrefix),
			redisstream.WithClaimIdle(a.cfg.Bus.Redis.ClaimIdle),
			redisstream.WithMaxDeliveries(int64(a.cfg.Bus.MaxDeliveries)),
			redisstream.WithLogger(a.logger),
		)
	default:
		return fmt.Errorf("unknown bus driver %q", a.cfg.Bus.Driver)
	}
	a.closers = append(a.closers, func() {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn("close bus", zap.Error(err))
		}
	})
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Bus returns the configured bus.
func (a *App) Bus() pipeline.Bus { return a.bus }

// Stores returns the record stores.
func (a *App) Stores() Stores { return a.stores }

// Resiliencer builds the source sync component.
func (a *App) Resiliencer() (*syncer.Resiliencer, error) {
	client, err := source.New(source.Config{
		Endpoint: a.cfg.Source.Endpoint,
		APIKey:   a.cfg.Source.APIKey,
	}, a.http, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init source client: %w", err)
	}
	return syncer.New(client, a.stores.Domains, a.archive, a.clock, syncer.Config{
		FailureThreshold: a.cfg.Scheduler.FailureThreshold,
		ArchivePrefix:    a.cfg.Storage.Archive.Prefix,
	}, a.logger)
}

// SchedulerJobs builds the sync, domain dispatch, and token dispatch jobs.
func (a *App) SchedulerJobs() ([]scheduler.Job, error) {
	sc := a.cfg.Scheduler
	resiliencer, err := a.Resiliencer()
	if err != nil {
		return nil, err
	}
	domains, err := dispatcher.NewDomainDispatcher(a.stores.Domains, a.bus, a.idGen, a.clock,
		dispatcher.Config{Topic: a.cfg.Topics.DomainBatches, BatchSize: sc.DomainBatchSize}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init domain dispatcher: %w", err)
	}
	tokens, err := dispatcher.NewTokenDispatcher(a.stores.Tokens, a.bus, a.idGen, a.clock,
		dispatcher.Config{Topic: a.cfg.Topics.TokenBatches, BatchSize: sc.TokenBatchSize}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init token dispatcher: %w", err)
	}
	return []scheduler.Job{
		{
			Name:          "domain-sync",
			Interval:      sc.SyncInterval,
			RunOnStart:    sc.RunOnStart,
			MaxConcurrent: sc.MaxConcurrent,
			Task: func(ctx context.Context) error {
				resiliencer.Sync(ctx)
				return nil
			},
		},
		{
			Name:          "domain-dispatch",
			Interval:      sc.DomainDispatchInterval,
			RunOnStart:    sc.RunOnStart,
			MaxConcurrent: sc.MaxConcurrent,
			Task:          discardCount(domains.Dispatch),
		},
		{
			Name:          "token-dispatch",
			Interval:      sc.TokenDispatchInterval,
			RunOnStart:    sc.RunOnStart,
			MaxConcurrent: sc.MaxConcurrent,
			Task:          discardCount(tokens.Dispatch),
		},
	}, nil
}

func discardCount(dispatch func(context.Context) (int, error)) scheduler.Task {
	return func(ctx context.Context) error {
		_, err := dispatch(ctx)
		return err
	}
}

// WarningChecker builds the configured browser checker. The returned func
// releases browser resources.
func (a *App) WarningChecker() (pipeline.WarningChecker, func(), error) {
	variant, err := browser.LookupVariant(a.cfg.Browser.Variant)
	if err != nil {
		return nil, nil, err
	}
	switch a.cfg.Browser.Driver {
	case "http":
		checker, err := browser.NewHTTPChecker(a.http, variant, "")
		if err != nil {
			return nil, nil, err
		}
		return checker, func() {}, nil
	case "chromedp":
		checker, err := browser.NewChromedp(browser.ChromedpConfig{
			Variant:           variant,
			NavigationTimeout: a.cfg.Browser.NavigationTimeout,
			MaxParallel:       a.cfg.Browser.MaxParallel,
			ExecPath:          a.cfg.Browser.ExecPath,
		}, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init chromedp: %w", err)
		}
		return checker, checker.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown browser driver %q", a.cfg.Browser.Driver)
	}
}

// WarningWorker builds a warning worker around checker.
func (a *App) WarningWorker(checker pipeline.WarningChecker) (*worker.WarningWorker, error) {
	policy := retry.New(retry.Config{MaxAttempts: a.cfg.Retry.MaxAttempts, Unit: a.cfg.Retry.Unit}, a.logger)
	return worker.NewWarningWorker(checker, a.stores.Warnings, a.bus, policy, a.clock, worker.WarningConfig{
		Variant:    a.cfg.Browser.Variant,
		BatchTopic: a.cfg.Topics.DomainBatches,
		EventTopic: a.cfg.Topics.DomainWarnings,
	}, a.logger)
}

// PriceFetcher builds the configured price provider.
func (a *App) PriceFetcher() (pipeline.PriceFetcher, error) {
	pc := a.cfg.Price
	switch pc.Provider {
	case "simulated":
		return pricing.NewSimulated(pricing.SimulatedConfig{
			Min:         pc.Simulated.Min,
			Max:         pc.Simulated.Max,
			Places:      pc.Simulated.Places,
			FailureRate: pc.Simulated.FailureRate,
			Seed:        pc.Simulated.Seed,
		}), nil
	case "http":
		header := http.Header{}
		for k, v := range pc.Headers {
			header.Set(k, v)
		}
		return pricing.NewHTTPProvider(pricing.HTTPConfig{
			URLTemplate: pc.URLTemplate,
			PricePath:   pc.PricePath,
			Header:      header,
		}, a.http)
	default:
		return nil, fmt.Errorf("unknown price provider %q", pc.Provider)
	}
}

// PriceWorker builds the price worker.
func (a *App) PriceWorker() (*worker.PriceWorker, error) {
	fetcher, err := a.PriceFetcher()
	if err != nil {
		return nil, err
	}
	return worker.NewPriceWorker(fetcher, a.stores.Feed, a.bus, a.idGen, a.clock, worker.PriceConfig{
		BatchTopic:   a.cfg.Topics.TokenBatches,
		EventTopic:   a.cfg.Topics.TokenPriceUpdates,
		FetchTimeout: a.cfg.Price.FetchTimeout,
	}, a.logger)
}

// Server builds the health server for service.
func (a *App) Server(service, browserVariant string) *api.Server {
	return api.NewServer(api.Options{
		Service:        service,
		BrowserVariant: browserVariant,
		Checks:         a.checks,
	}, a.clock, a.logger)
}

// Addr returns the listen address of the health server.
func (a *App) Addr() string {
	return ":" + strconv.Itoa(a.cfg.Server.Port)
}

// ErrNotPostgres is returned by Migrate when storage is not Postgres.
var ErrNotPostgres = errors.New("storage.driver is not postgres")

// Migrate applies pending schema migrations and returns their versions.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	if a.pg == nil {
		return nil, ErrNotPostgres
	}
	return a.pg.Migrate(ctx, a.logger)
}

// Close releases every service in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
