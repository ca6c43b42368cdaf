package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/pacing"
)

// BrowserConfig configures the rendering strategy.
type BrowserConfig struct {
	Headless bool          `yaml:"headless"`
	ExecPath string        `yaml:"exec_path"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultBrowserConfig returns a headless browser with a 60 second attempt
// timeout.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless: true,
		Timeout:  60 * time.Second,
	}
}

// BrowserStrategy renders pages in a headless Chrome so that JavaScript gates
// run. One browser process is kept per identity and every fetch opens its own
// tab. The browser is launched lazily on the first fetch.
type BrowserStrategy struct {
	cfg      BrowserConfig
	detector Detector

	mu            sync.Mutex
	identity      pacing.Identity
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowserStrategy creates the rendering strategy. No browser is started
// until the first Fetch.
func NewBrowserStrategy(cfg BrowserConfig, detector Detector) *BrowserStrategy {
	return &BrowserStrategy{cfg: cfg, detector: detector}
}

func (b *BrowserStrategy) Name() article.StrategyName {
	return article.StrategyBrowser
}

// Timeout is the per-attempt timeout of a render.
func (b *BrowserStrategy) Timeout() time.Duration {
	return b.cfg.Timeout
}

// Rotate closes the browser of the previous identity. The next fetch launches
// a new one under id.
func (b *BrowserStrategy) Rotate(_ context.Context, id pacing.Identity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	b.identity = id
	return nil
}

// Close shuts the browser down.
func (b *BrowserStrategy) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	return nil
}

func (b *BrowserStrategy) closeLocked() {
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.browserCtx = nil
}

func (b *BrowserStrategy) allocatorOptions(id pacing.Identity) []chromedp.ExecAllocatorOption {
	width, height := id.WindowWidth, id.WindowHeight
	if width == 0 || height == 0 {
		width, height = 1366, 900
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(width, height),
	)
	if id.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(id.UserAgent))
	}
	if lang := id.AcceptLanguage; lang != "" {
		opts = append(opts, chromedp.Flag("lang", strings.SplitN(lang, ",", 2)[0]))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	return opts
}

// browser returns the browser context for id, launching it if needed. The
// browser outlives ctx but its launch is abandoned when ctx is done.
func (b *BrowserStrategy) browser(ctx context.Context, id pacing.Identity) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil && b.identity.Generation == id.Generation {
		return b.browserCtx, nil
	}
	b.closeLocked()

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions(id)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run on a fresh context starts the browser process
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	launched := stop()
	if err != nil || !launched {
		browserCancel()
		allocCancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	b.identity = id
	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	return browserCtx, nil
}

// Fetch renders url in a new tab and returns the page markup.
func (b *BrowserStrategy) Fetch(ctx context.Context, url string, id pacing.Identity) Outcome {
	name := b.Name()

	browserCtx, err := b.browser(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return b.classifyError(ctx, err)
		}
		return Fatal(name, 0, err.Error())
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	// The tab lives under the browser, not the caller, so tie it to the
	// caller's cancellation and deadline explicitly
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	if err != nil {
		return b.classifyError(ctx, err)
	}

	var title, html string
	err = chromedp.Run(tabCtx,
		chromedp.WaitReady("body"),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return b.classifyError(ctx, err)
	}

	status := 0
	if resp != nil {
		status = int(resp.Status)
	}
	return b.classifyPage(status, title, html)
}

func (b *BrowserStrategy) classifyError(ctx context.Context, err error) Outcome {
	name := b.Name()
	if ctx.Err() == context.Canceled {
		return Fatal(name, 0, "cancelled")
	}

	msg := err.Error()
	switch {
	case ctx.Err() == context.DeadlineExceeded, strings.Contains(msg, "deadline exceeded"):
		return Transient(name, 0, "timeout")
	case strings.Contains(msg, "ERR_NAME_NOT_RESOLVED"),
		strings.Contains(msg, "ERR_INVALID_URL"),
		strings.Contains(msg, "ERR_UNKNOWN_URL_SCHEME"):
		return Fatal(name, 0, msg)
	default:
		return Transient(name, 0, fmt.Sprintf("render failed: %s", msg))
	}
}

// classifyPage turns a rendered page into an outcome.
func (b *BrowserStrategy) classifyPage(status int, title, html string) Outcome {
	name := b.Name()

	switch {
	case b.detector.IsChallengeStatus(status):
		return Challenge(name, status, fmt.Sprintf("challenge status %d", status))
	case b.detector.ChallengeMarker([]byte(html)) != "":
		return Challenge(name, status, fmt.Sprintf("challenge page: %q", b.detector.ChallengeMarker([]byte(html))))
	case b.detector.IsErrorTitle(title):
		return Transient(name, status, fmt.Sprintf("error page: %q", title))
	case status >= 500:
		return Transient(name, status, fmt.Sprintf("HTTP %d", status))
	case status >= 400:
		return Fatal(name, status, fmt.Sprintf("HTTP %d", status))
	}

	return Raw(name, status, []byte(html))
}

var _ pacing.Rotator = (*BrowserStrategy)(nil)
