package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pevans/papercrawl"
	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/clock"
	"github.com/pevans/papercrawl/config"
	"github.com/pevans/papercrawl/extract"
	"github.com/pevans/papercrawl/fetch"
	"github.com/pevans/papercrawl/index"
	"github.com/pevans/papercrawl/ledger"
	"github.com/pevans/papercrawl/pacing"
	"github.com/pevans/papercrawl/store"
	"github.com/pevans/papercrawl/validity"
)

// openStore opens the completion store with the configured validity rules.
func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	return store.New(cfg.StoreDir, validity.New(cfg.Validity), logger)
}

// openLedger opens the run ledger, or returns nil when it is disabled.
func openLedger(cfg *config.Config) (*ledger.Ledger, error) {
	if cfg.Ledger.Driver == "" {
		return nil, nil
	}
	l, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return l, nil
}

// fetcher bundles the strategy chain with the resources it must release.
type fetcher struct {
	*fetch.Chain
	browser *fetch.BrowserStrategy
}

func (f *fetcher) Close() error {
	return f.browser.Close()
}

// newFetcher builds the pacing controller and the strategy chain. Both
// strategies are registered for identity rotation even when only one is
// selected.
func newFetcher(cfg *config.Config, logger *slog.Logger) (*fetcher, error) {
	clk := clock.Real{}
	controller := pacing.NewController(cfg.Pacing, clk, clock.NewRand(), logger)

	httpStrategy := fetch.NewHTTPStrategy(cfg.Detector)
	browserStrategy := fetch.NewBrowserStrategy(cfg.Browser, cfg.Detector)
	controller.Register(httpStrategy)
	controller.Register(browserStrategy)

	strategies, err := fetch.Select(cfg.Fetch.Strategies, httpStrategy, browserStrategy)
	if err != nil {
		return nil, err
	}

	chain := fetch.NewChain(cfg.Fetch, controller, clk, logger, strategies...)
	return &fetcher{Chain: chain, browser: browserStrategy}, nil
}

// collectItems gathers the work items of dates in date order, downloading
// missing index files first when download is set. With a feed URL the
// feed replaces the index files.
func collectItems(ctx context.Context, cfg *config.Config, f index.Fetcher, dates []string, download bool, logger *slog.Logger) ([]article.WorkItem, error) {
	if cfg.FeedURL != "" {
		result, err := index.NewFeedReader(cfg.Origin).FetchItems(ctx, cfg.FeedURL)
		if err != nil {
			return nil, err
		}
		if result.Skipped > 0 {
			logger.Warn("skipped feed entries", slog.Int("skipped", result.Skipped))
		}
		return result.Items, nil
	}

	reader := index.NewDirReader(cfg.IndexDir, logger)
	if len(dates) == 0 {
		all, err := reader.Dates()
		if err != nil {
			return nil, err
		}
		dates = all
	}

	var items []article.WorkItem
	for _, date := range dates {
		if download {
			if _, err := reader.Download(ctx, f, cfg.Origin, date); err != nil {
				return nil, err
			}
		}
		dateItems, err := reader.ListPendingWork(ctx, date)
		if err != nil {
			return nil, err
		}
		items = append(items, dateItems...)
	}
	return items, nil
}

// newAcquirer wires the orchestrator.
func newAcquirer(cfg *config.Config, f papercrawl.Fetcher, s *store.Store, l *ledger.Ledger, confirmer papercrawl.Confirmer, logger *slog.Logger) *papercrawl.Acquirer {
	deps := papercrawl.Deps{
		Fetcher:    f,
		Extractor:  extract.New(cfg.Extract),
		Classifier: validity.New(cfg.Validity),
		Store:      s,
		Confirmer:  confirmer,
		Clock:      clock.Real{},
		Logger:     logger,
	}
	if l != nil {
		deps.Recorder = l
	}
	return papercrawl.NewAcquirer(cfg.RunConfig(), deps)
}
