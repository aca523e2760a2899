package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

const defaultNavigationTimeout = 30 * time.Second

// signalsScript collects Signals inside the rendered page.
const signalsScript = `(() => ({
  markers: document.querySelector('.interstitial-wrapper') !== null ||
           document.querySelector('.icon-generic') !== null,
  title: document.title || '',
  body: (document.body && document.body.textContent) || ''
}))()`

// ChromedpConfig controls the headless browser.
type ChromedpConfig struct {
	Variant           Variant
	NavigationTimeout time.Duration
	// MaxParallel bounds concurrent tabs; 0 means unbounded.
	MaxParallel int
	ExecPath    string
	Scheme      string
}

// ChromedpChecker renders https://<domain> in headless Chrome.
type ChromedpChecker struct {
	cfg         ChromedpConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

var _ pipeline.WarningChecker = (*ChromedpChecker)(nil)

// NewChromedp starts an allocator. Chrome itself launches on first use.
func NewChromedp(cfg ChromedpConfig, logger *zap.Logger) (*ChromedpChecker, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.Variant.Name == "" {
		return nil, errors.New("browser variant is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(int(cfg.Variant.Width), int(cfg.Variant.Height)),
		chromedp.UserAgent(cfg.Variant.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromedpChecker{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("browser.chromedp").With(zap.String("variant", cfg.Variant.Name)),
	}, nil
}

// Close shuts the browser down.
func (c *ChromedpChecker) Close() {
	c.allocCancel()
}

// Check navigates to the domain and applies Detect to the rendered page.
func (c *ChromedpChecker) Check(ctx context.Context, domainName string) (bool, error) {
	if err := c.acquire(ctx); err != nil {
		return false, err
	}
	defer c.release()

	tabCtx, tabCancel := chromedp.NewContext(c.allocator)
	defer tabCancel()
	// Tie the tab to the caller's context as well as the navigation timeout.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, c.cfg.NavigationTimeout)
	defer cancel()

	var signals Signals
	target := c.cfg.Scheme + "://" + domainName
	err := chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetUserAgentOverride(c.cfg.Variant.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
			return nil
		}),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(signalsScript, &signals),
	)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", domainName, err)
	}
	hasWarning := Detect(signals)
	c.logger.Debug("domain checked", zap.String("domain", domainName), zap.Bool("has_warning", hasWarning))
	return hasWarning, nil
}

func (c *ChromedpChecker) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (c *ChromedpChecker) release() {
	if c.limiter == nil {
		return
	}
	<-c.limiter
}
