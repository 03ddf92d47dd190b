// File: internal/browser/chromedp.go
// Description: Chrome DevTools Protocol driver backing the Driver abstraction.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// chromedpDriver launches Chrome processes through chromedp.
type chromedpDriver struct {
	logger *zap.Logger
}

// NewChromedpDriver returns the production Driver implementation.
func NewChromedpDriver(logger *zap.Logger) Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &chromedpDriver{logger: logger.Named("chromedp_driver")}
}

func (d *chromedpDriver) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight))
	}
	for _, arg := range opts.Args {
		allocOpts = append(allocOpts, chromedp.Flag(arg, true))
	}

	// The allocator chain is rooted in Background so the instance outlives
	// the launch call; lifetime is owned by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Materialize the process now so launch failures surface here.
	if err := runWithCaller(ctx, browserCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	d.logger.Debug("Browser instance launched", zap.Bool("headless", opts.Headless))
	return &chromedpInstance{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type chromedpInstance struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

func (c *chromedpInstance) NewTab(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)
	if err := runWithCaller(ctx, tabCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	return &chromedpPage{tabCtx: tabCtx, tabCancel: tabCancel}, nil
}

func (c *chromedpInstance) Close() error {
	c.closeOnce.Do(func() {
		c.browserCancel()
		c.allocCancel()
	})
	return nil
}

type chromedpPage struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	closeOnce sync.Once
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return runWithCaller(ctx, p.tabCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var url string
	err := runWithCaller(ctx, p.tabCtx, chromedp.Location(&url))
	return url, err
}

func (p *chromedpPage) Title(ctx context.Context) (string, error) {
	var title string
	err := runWithCaller(ctx, p.tabCtx, chromedp.Title(&title))
	return title, err
}

func (p *chromedpPage) HTML(ctx context.Context) (string, error) {
	var html string
	err := runWithCaller(ctx, p.tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	return runWithCaller(ctx, p.tabCtx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromedpPage) Fill(ctx context.Context, selector, value string) error {
	return runWithCaller(ctx, p.tabCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (p *chromedpPage) Evaluate(ctx context.Context, expression string, out any) error {
	return runWithCaller(ctx, p.tabCtx, chromedp.Evaluate(expression, out))
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := runWithCaller(ctx, p.tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			Do(ctx)
		return err
	}))
	return buf, err
}

func (p *chromedpPage) Close() error {
	p.closeOnce.Do(p.tabCancel)
	return nil
}

// runWithCaller executes actions on the tab's own context chain while still
// honoring the caller's cancellation and deadline.
func runWithCaller(callerCtx, tabCtx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(callerCtx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if callerCtx.Err() != nil {
			return callerCtx.Err()
		}
		return err
	}
	return nil
}
