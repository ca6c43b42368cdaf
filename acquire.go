// Package papercrawl acquires newspaper articles listed in a daily index:
// it fetches each article page under adaptive pacing, extracts and
// validates its content, and stores the result so that later runs only
// fetch what is still missing or invalid.
package papercrawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/clock"
	"github.com/pevans/papercrawl/fetch"
	"github.com/pevans/papercrawl/ledger"
	"github.com/pevans/papercrawl/store"
	"github.com/pevans/papercrawl/validity"
)

// Fetcher retrieves page markup, escalating through strategies as needed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetch.Outcome
}

// Extractor resolves article content from page markup.
type Extractor interface {
	Extract(markup []byte, pageURL string) (article.Content, error)
}

// Classifier decides whether extracted content is usable.
type Classifier interface {
	Classify(article.Content) validity.Verdict
}

// SkipChecker reports whether an item already has a valid stored record.
type SkipChecker interface {
	ShouldSkip(key article.Key) (bool, error)
}

// Store persists records with monotonic improvement.
type Store interface {
	SkipChecker
	Save(key article.Key, record article.Record) (store.SaveResult, error)
}

// Recorder keeps a ledger of runs and item outcomes.
type Recorder interface {
	StartRun(ctx context.Context, startedAt time.Time) (*ledger.Run, error)
	RecordItem(ctx context.Context, a ledger.Attempt) error
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status string, counts ledger.Counts) error
}

// Config holds the orchestrator settings.
type Config struct {
	// Base URL that article references are resolved against
	Origin string `yaml:"-"`

	// Consecutive exhausted items that trip the breaker; zero disables it
	BreakerThreshold int `yaml:"breaker_threshold"`

	// "pause" sleeps BreakerPause and continues; "stop" ends the run
	BreakerMode  string        `yaml:"breaker_mode"`
	BreakerPause time.Duration `yaml:"breaker_pause"`

	// Runs with more pending items than this need confirmation; zero
	// disables the gate
	ConfirmAbove int `yaml:"confirm_above"`
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		BreakerThreshold: 3,
		BreakerMode:      "pause",
		BreakerPause:     5 * time.Minute,
		ConfirmAbove:     10,
	}
}

// Validate checks the breaker settings.
func (c Config) Validate() error {
	if c.BreakerThreshold < 0 || c.ConfirmAbove < 0 {
		return fmt.Errorf("breaker_threshold and confirm_above must not be negative")
	}
	switch c.BreakerMode {
	case "", "pause", "stop":
	default:
		return fmt.Errorf("unknown breaker_mode %q", c.BreakerMode)
	}
	return nil
}

// Deps are the collaborators of an Acquirer. Recorder, Breaker, Confirmer
// and OnItem are optional.
type Deps struct {
	Fetcher    Fetcher
	Extractor  Extractor
	Classifier Classifier
	Store      Store

	Recorder  Recorder
	Breaker   Breaker
	Confirmer Confirmer

	Clock  clock.Clock
	Logger *slog.Logger

	// Called after every processed item
	OnItem func(ItemResult)
}

// ItemResult is the outcome of one work item.
type ItemResult struct {
	Item     article.WorkItem
	URL      string
	State    State
	Path     []State
	Strategy article.StrategyName
	Attempts int
	Reason   string

	// Set when the record was classified invalid
	Signature validity.Signature

	// The invalid record was discarded in favour of a stored valid one
	KeptExisting bool

	// The item was interrupted by cancellation and is not counted
	Cancelled bool
}

// Summary counts the results of a run.
type Summary struct {
	RunID     string        `json:"run_id,omitempty"`
	Total     int           `json:"total"`
	Skipped   int           `json:"skipped"`
	Succeeded int           `json:"succeeded"`
	Exhausted int           `json:"exhausted"`
	Pauses    int           `json:"pauses"`
	Cancelled bool          `json:"cancelled"`
	Stopped   bool          `json:"stopped"`
	Duration  time.Duration `json:"duration"`
}

// Processed returns the number of items that reached a final state.
func (s Summary) Processed() int {
	return s.Skipped + s.Succeeded + s.Exhausted
}

// SuccessRate is the fraction of fetched items that succeeded.
func (s Summary) SuccessRate() float64 {
	fetched := s.Succeeded + s.Exhausted
	if fetched == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(fetched)
}

func (s *Summary) add(r ItemResult) {
	switch r.State {
	case StateSkipped:
		s.Skipped++
	case StateSucceeded:
		s.Succeeded++
	case StateExhausted:
		s.Exhausted++
	}
}

func (s Summary) counts() ledger.Counts {
	return ledger.Counts{
		Total:     s.Total,
		Skipped:   s.Skipped,
		Succeeded: s.Succeeded,
		Exhausted: s.Exhausted,
	}
}

// Acquirer drives work items through fetch, extraction, validation and
// storage, one at a time and in the order given.
type Acquirer struct {
	cfg    Config
	deps   Deps
	clock  clock.Clock
	logger *slog.Logger
}

// NewAcquirer creates an Acquirer. When no Breaker is given one is built
// from cfg.BreakerMode.
func NewAcquirer(cfg Config, deps Deps) *Acquirer {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "acquire")

	if deps.Breaker == nil {
		if cfg.BreakerMode == "stop" {
			deps.Breaker = StopBreaker{}
		} else {
			deps.Breaker = CooldownBreaker{Pause: cfg.BreakerPause, Clock: deps.Clock, Logger: logger}
		}
	}

	return &Acquirer{
		cfg:    cfg,
		deps:   deps,
		clock:  deps.Clock,
		logger: logger,
	}
}

// Process takes one item from pending to a final state. Failures are
// reported in the result; Process never returns an error.
func (a *Acquirer) Process(ctx context.Context, item article.WorkItem) ItemResult {
	m := newMachine()
	res := ItemResult{Item: item}
	finish := func(state State, reason string) ItemResult {
		if err := m.to(state); err != nil {
			a.logger.Error("state machine violation", slog.String("item", item.ID()), slog.Any("error", err))
		}
		res.State = m.current()
		res.Path = m.path
		res.Reason = reason
		return res
	}

	if err := item.Validate(); err != nil {
		return finish(StateExhausted, err.Error())
	}
	res.URL = article.BuildURL(a.cfg.Origin, item)
	key := item.Key()

	skip, err := a.deps.Store.ShouldSkip(key)
	if err != nil {
		a.logger.Warn("failed to check stored record", slog.String("item", item.ID()), slog.Any("error", err))
	}
	if skip {
		return finish(StateSkipped, "valid record already stored")
	}

	_ = m.to(StateFetching)

	out := a.deps.Fetcher.Fetch(ctx, res.URL)
	res.Strategy = out.Strategy
	res.Attempts = out.Attempts
	if ctx.Err() != nil {
		res.Cancelled = true
		return finish(StateExhausted, "cancelled")
	}
	if !out.OK() {
		return finish(StateExhausted, fmt.Sprintf("fetch failed: %s", out.Reason))
	}

	content, err := a.deps.Extractor.Extract(out.Body, res.URL)
	if err != nil {
		return finish(StateExhausted, fmt.Sprintf("extraction failed: %v", err))
	}

	verdict := a.deps.Classifier.Classify(content)

	record := article.Record{
		Metadata:  metadataJSON(item),
		Content:   content,
		CrawlTime: a.clock.Now().UTC(),
		SourceURL: res.URL,
		Strategy:  out.Strategy,
	}

	// Invalid records are saved too; the store keeps a valid one if present
	saved, err := a.deps.Store.Save(key, record)
	if err != nil {
		return finish(StateExhausted, fmt.Sprintf("persistence failed: %v", err))
	}
	res.KeptExisting = saved == store.KeptExisting

	if !verdict.Valid {
		res.Signature = verdict.Signature
		return finish(StateExhausted, fmt.Sprintf("invalid content: %s", verdict.Detail))
	}
	return finish(StateSucceeded, "")
}

func metadataJSON(item article.WorkItem) json.RawMessage {
	if len(item.RawMetadata) > 0 {
		return item.RawMetadata
	}
	data, err := json.Marshal(item.Metadata)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// Pending returns the items that have no valid stored record, in order.
func Pending(s SkipChecker, items []article.WorkItem) ([]article.WorkItem, error) {
	var pending []article.WorkItem
	for _, item := range items {
		skip, err := s.ShouldSkip(item.Key())
		if err != nil && !errors.Is(err, store.ErrInvalidKey) {
			return nil, err
		}
		if !skip {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

// Run processes items strictly in order. It stops early when ctx is
// cancelled (returning ctx.Err()), when the breaker ends the run, or when
// the operator declines a large run (ErrNotConfirmed). The summary is valid
// in every case.
func (a *Acquirer) Run(ctx context.Context, items []article.WorkItem) (Summary, error) {
	start := a.clock.Now()
	summary := Summary{Total: len(items)}

	if err := a.confirm(ctx, items); err != nil {
		return summary, err
	}

	runID := a.startRun(ctx, start)
	if runID != uuid.Nil {
		summary.RunID = runID.String()
	}

	a.logger.Info("run starting", slog.Int("items", len(items)), slog.String("run_id", summary.RunID))

	var runErr error
	streak := 0

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		res := a.Process(ctx, item)
		if res.Cancelled {
			runErr = ctx.Err()
			break
		}

		summary.add(res)
		a.report(ctx, runID, res)

		switch res.State {
		case StateSucceeded:
			streak = 0
		case StateExhausted:
			streak++
		}

		if a.cfg.BreakerThreshold > 0 && streak >= a.cfg.BreakerThreshold {
			summary.Pauses++
			err := a.deps.Breaker.Trip(ctx, streak)
			streak = 0
			if err != nil {
				if ctx.Err() == nil {
					summary.Stopped = true
				}
				runErr = err
				break
			}
		}
	}

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	summary.Cancelled = ctx.Err() != nil
	summary.Duration = a.clock.Now().Sub(start)

	a.finishRun(runID, summary)

	a.logger.Info("run finished",
		slog.Int("total", summary.Total),
		slog.Int("skipped", summary.Skipped),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("exhausted", summary.Exhausted),
		slog.Int("pauses", summary.Pauses),
		slog.Bool("cancelled", summary.Cancelled),
		slog.Bool("stopped", summary.Stopped),
		slog.Duration("duration", summary.Duration),
	)

	return summary, runErr
}

func (a *Acquirer) confirm(ctx context.Context, items []article.WorkItem) error {
	if a.deps.Confirmer == nil || a.cfg.ConfirmAbove <= 0 || len(items) <= a.cfg.ConfirmAbove {
		return nil
	}

	pending, err := Pending(a.deps.Store, items)
	if err != nil {
		return fmt.Errorf("failed to count pending items: %w", err)
	}
	if len(pending) <= a.cfg.ConfirmAbove {
		return nil
	}

	ok, err := a.deps.Confirmer.Confirm(ctx, len(pending))
	if err != nil {
		return fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

func (a *Acquirer) startRun(ctx context.Context, start time.Time) uuid.UUID {
	if a.deps.Recorder == nil {
		return uuid.Nil
	}
	run, err := a.deps.Recorder.StartRun(ctx, start)
	if err != nil {
		a.logger.Warn("failed to record run start", slog.Any("error", err))
		return uuid.Nil
	}
	return run.RunID
}

func (a *Acquirer) report(ctx context.Context, runID uuid.UUID, res ItemResult) {
	level := slog.LevelInfo
	if res.State == StateSkipped {
		level = slog.LevelDebug
	}
	a.logger.Log(ctx, level, "item "+string(res.State),
		slog.String("item", res.Item.ID()),
		slog.String("strategy", string(res.Strategy)),
		slog.Int("attempts", res.Attempts),
		slog.String("reason", res.Reason),
	)

	if a.deps.OnItem != nil {
		a.deps.OnItem(res)
	}

	if a.deps.Recorder == nil || runID == uuid.Nil {
		return
	}
	err := a.deps.Recorder.RecordItem(ctx, ledger.Attempt{
		RunID:      runID,
		Date:       res.Item.Date,
		Page:       res.Item.Page,
		Ref:        res.Item.Ref,
		State:      string(res.State),
		Strategy:   string(res.Strategy),
		Attempts:   res.Attempts,
		Reason:     res.Reason,
		RecordedAt: a.clock.Now(),
	})
	if err != nil {
		a.logger.Warn("failed to record item", slog.String("item", res.Item.ID()), slog.Any("error", err))
	}
}

func (a *Acquirer) finishRun(runID uuid.UUID, summary Summary) {
	if a.deps.Recorder == nil || runID == uuid.Nil {
		return
	}

	status := ledger.StatusCompleted
	switch {
	case summary.Cancelled:
		status = ledger.StatusCancelled
	case summary.Stopped:
		status = ledger.StatusStopped
	}

	// The run context may already be cancelled; the ledger entry must still
	// be closed
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.deps.Recorder.FinishRun(ctx, runID, a.clock.Now(), status, summary.counts()); err != nil {
		a.logger.Warn("failed to record run finish", slog.Any("error", err))
	}
}
