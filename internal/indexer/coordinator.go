package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/metrics"
)

var (
	// ErrAlreadyRunning is returned by Start while another run is in progress.
	ErrAlreadyRunning = errors.New("indexing already running")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("coordinator closed")
)

const (
	stateIdle int32 = iota
	stateRunning
)

// Run results reported to metrics.
const (
	runResultCompleted   = "completed"
	runResultInterrupted = "interrupted"
)

const interruptedMessage = "indexing interrupted"

// Crawler crawls one site record to completion.
type Crawler interface {
	Crawl(ctx context.Context, site crawler.SiteRecord) crawler.CrawlOutcome
}

// Config controls Coordinator behavior.
type Config struct {
	// NotifyTopic receives a SiteEvent after each site is finalized. Empty
	// disables notifications.
	NotifyTopic string
}

// SiteEvent is published when a site reaches a terminal status.
type SiteEvent struct {
	RunID         string             `json:"run_id"`
	SiteID        string             `json:"site_id"`
	URL           string             `json:"url"`
	Name          string             `json:"name"`
	Status        crawler.SiteStatus `json:"status"`
	StatusTime    time.Time          `json:"status_time"`
	LastError     string             `json:"last_error,omitempty"`
	CrawlState    crawler.CrawlState `json:"crawl_state"`
	Pages         int                `json:"pages"`
	FetchFailures int                `json:"fetch_failures"`
}

// SiteEventType is the wire event type of SiteEvent notifications.
const SiteEventType = "site.status"

// EventType names the event on the wire.
func (SiteEvent) EventType() string { return SiteEventType }

// SiteResult is what one site's processing produced within a run.
type SiteResult struct {
	Seed    crawler.Seed
	SiteID  string
	Status  crawler.SiteStatus
	Outcome crawler.CrawlOutcome
	Err     error
}

// Coordinator owns the single-run guard and the per-site pipeline.
type Coordinator struct {
	seeds     crawler.SeedSource
	sites     crawler.SiteStore
	pages     crawler.PageStore
	crawler   Crawler
	publisher crawler.Publisher
	clock     crawler.Clock
	ids       crawler.IDGenerator
	cfg       Config
	logger    *zap.Logger

	state   atomic.Int32
	current atomic.Pointer[Run]
	closed  atomic.Bool

	baseCtx context.Context
	stop    context.CancelFunc
}

// New constructs a Coordinator. publisher may be nil.
func New(
	seeds crawler.SeedSource,
	sites crawler.SiteStore,
	pages crawler.PageStore,
	siteCrawler Crawler,
	publisher crawler.Publisher,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Runs outlive the request that triggered them; only Close stops them.
	baseCtx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		seeds:     seeds,
		sites:     sites,
		pages:     pages,
		crawler:   siteCrawler,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// Start begins a full run in the background and returns immediately. It
// returns ErrAlreadyRunning when a run is in progress.
func (c *Coordinator) Start() (*Run, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !c.state.CompareAndSwap(stateIdle, stateRunning) {
		c.logger.Info("indexing already running; start rejected")
		return nil, ErrAlreadyRunning
	}

	runID, err := c.ids.NewID()
	if err != nil {
		c.state.Store(stateIdle)
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	run := newRun(runID, c.clock.Now(), cancel)
	c.current.Store(run)

	go c.execute(ctx, run)
	return run, nil
}

// RunOnce starts a run and blocks until it finishes or ctx ends.
func (c *Coordinator) RunOnce(ctx context.Context) (*Run, error) {
	run, err := c.Start()
	if err != nil {
		return nil, err
	}
	if err := run.Wait(ctx); err != nil {
		return run, err
	}
	return run, nil
}

// Running reports whether a run is in progress.
func (c *Coordinator) Running() bool {
	return c.state.Load() == stateRunning
}

// Current returns the most recent run, or nil if none has started.
func (c *Coordinator) Current() *Run {
	return c.current.Load()
}

// Close cancels any in-flight run and waits for it to wind down. Intended for
// process shutdown only.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closed.Store(true)
	c.stop()
	run := c.current.Load()
	if run == nil {
		return nil
	}
	if err := run.Wait(ctx); err != nil {
		return fmt.Errorf("wait for run %s: %w", run.ID, err)
	}
	return nil
}

func (c *Coordinator) execute(ctx context.Context, run *Run) {
	logger := c.logger.With(zap.String("run_id", run.ID))
	metrics.SetRunActive(true)
	result := runResultCompleted
	defer func() {
		if r := recover(); r != nil {
			logger.Error("indexing run panicked", zap.Any("panic", r))
		}
		run.cancel()
		metrics.SetRunActive(false)
		metrics.ObserveRun(result)
		// Release the guard before signalling completion so a waiter can start
		// the next run immediately.
		c.state.Store(stateIdle)
		run.finish(c.clock.Now())
	}()

	seeds := c.seeds.Seeds()
	logger.Info("indexing run started", zap.Int("sites", len(seeds)))
	for _, seed := range seeds {
		if ctx.Err() != nil {
			result = runResultInterrupted
			logger.Warn("indexing run interrupted", zap.Error(ctx.Err()))
			break
		}
		res := c.processSite(ctx, run.ID, seed)
		run.record(res)
	}
	logger.Info("indexing run finished", zap.String("result", result))
}

func (c *Coordinator) processSite(ctx context.Context, runID string, seed crawler.Seed) (result SiteResult) {
	logger := c.logger.With(zap.String("run_id", runID), zap.String("site_url", seed.URL))
	result = SiteResult{Seed: seed}
	var site crawler.SiteRecord
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("indexing %s panicked: %v", seed.URL, r)
			logger.Error("site indexing panicked", zap.Any("panic", r))
			if site.ID != "" {
				result.Status = c.markFailed(ctx, site, result.Err.Error(), logger)
			}
		}
	}()

	if err := c.purge(ctx, seed.URL, logger); err != nil {
		result.Err = err
		logger.Error("purge previous site data failed; skipping site", zap.Error(err))
		return result
	}

	site, err := c.create(ctx, seed)
	if err != nil {
		result.Err = err
		logger.Error("create site record failed; skipping site", zap.Error(err))
		return result
	}
	result.SiteID = site.ID
	logger.Info("site indexing started", zap.String("site_id", site.ID))

	outcome := c.crawler.Crawl(ctx, site)
	result.Outcome = outcome

	final, err := c.finalize(ctx, site, outcome)
	result.Status = final.Status
	if err != nil {
		result.Err = err
		logger.Error("finalize site record failed", zap.String("site_id", site.ID), zap.Error(err))
		return result
	}
	metrics.ObserveSite(string(final.Status))
	logger.Info("site indexing finished",
		zap.String("site_id", site.ID),
		zap.String("status", string(final.Status)),
		zap.String("crawl_state", string(outcome.State)),
		zap.Int("pages", outcome.PagesRecorded),
		zap.Int("fetch_failures", outcome.FetchFailures),
		zap.Duration("duration", outcome.Duration),
	)
	c.notify(ctx, runID, final, outcome, logger)
	return result
}

// purge removes any prior record for url along with its pages.
func (c *Coordinator) purge(ctx context.Context, url string, logger *zap.Logger) error {
	existing, found, err := c.sites.FindByURL(ctx, url)
	if err != nil {
		return fmt.Errorf("find site %s: %w", url, err)
	}
	if !found {
		return nil
	}
	deleted, err := c.pages.DeleteAllForSite(ctx, existing.ID)
	if err != nil {
		return fmt.Errorf("delete pages for site %s: %w", existing.ID, err)
	}
	if err := c.sites.Delete(ctx, existing); err != nil {
		return fmt.Errorf("delete site %s: %w", existing.ID, err)
	}
	logger.Info("purged previous site data",
		zap.String("site_id", existing.ID),
		zap.Int64("pages_deleted", deleted),
	)
	return nil
}

func (c *Coordinator) create(ctx context.Context, seed crawler.Seed) (crawler.SiteRecord, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return crawler.SiteRecord{}, fmt.Errorf("generate site id: %w", err)
	}
	site, err := c.sites.Save(ctx, crawler.SiteRecord{
		ID:         id,
		URL:        seed.URL,
		Name:       seed.Name,
		Status:     crawler.SiteStatusIndexing,
		StatusTime: c.clock.Now(),
	})
	if err != nil {
		return crawler.SiteRecord{}, fmt.Errorf("save site %s: %w", seed.URL, err)
	}
	return site, nil
}

func (c *Coordinator) finalize(
	ctx context.Context,
	site crawler.SiteRecord,
	outcome crawler.CrawlOutcome,
) (crawler.SiteRecord, error) {
	site.Status, site.LastError = FinalStatus(outcome)
	site.StatusTime = c.clock.Now()
	// A stopped run still records its terminal status.
	saved, err := c.sites.Save(context.WithoutCancel(ctx), site)
	if err != nil {
		return site, fmt.Errorf("save site %s: %w", site.ID, err)
	}
	return saved, nil
}

func (c *Coordinator) markFailed(
	ctx context.Context,
	site crawler.SiteRecord,
	reason string,
	logger *zap.Logger,
) crawler.SiteStatus {
	site.Status = crawler.SiteStatusFailed
	site.LastError = reason
	site.StatusTime = c.clock.Now()
	if _, err := c.sites.Save(context.WithoutCancel(ctx), site); err != nil {
		logger.Error("mark site failed", zap.String("site_id", site.ID), zap.Error(err))
		return crawler.SiteStatusIndexing
	}
	metrics.ObserveSite(string(site.Status))
	return site.Status
}

// FinalStatus maps a crawl outcome to the terminal site status and error text.
// A deadline is a normal end. A site is FAILED when the run was stopped or
// when nothing was recorded and at least one fetch failed.
func FinalStatus(outcome crawler.CrawlOutcome) (crawler.SiteStatus, string) {
	switch {
	case outcome.State == crawler.StateStopped:
		return crawler.SiteStatusFailed, interruptedMessage
	case outcome.PagesRecorded == 0 && outcome.FetchFailures > 0:
		msg := "no pages could be fetched"
		if outcome.LastError != nil {
			msg = outcome.LastError.Error()
		}
		return crawler.SiteStatusFailed, msg
	default:
		return crawler.SiteStatusIndexed, ""
	}
}

func (c *Coordinator) notify(
	ctx context.Context,
	runID string,
	site crawler.SiteRecord,
	outcome crawler.CrawlOutcome,
	logger *zap.Logger,
) {
	if c.publisher == nil || c.cfg.NotifyTopic == "" {
		return
	}
	event := SiteEvent{
		RunID:         runID,
		SiteID:        site.ID,
		URL:           site.URL,
		Name:          site.Name,
		Status:        site.Status,
		StatusTime:    site.StatusTime,
		LastError:     site.LastError,
		CrawlState:    outcome.State,
		Pages:         outcome.PagesRecorded,
		FetchFailures: outcome.FetchFailures,
	}
	msgID, err := c.publisher.Publish(context.WithoutCancel(ctx), c.cfg.NotifyTopic, event)
	if err != nil {
		logger.Warn("publish site event failed", zap.String("site_id", site.ID), zap.Error(err))
		return
	}
	logger.Debug("published site event", zap.String("site_id", site.ID), zap.String("message_id", msgID))
}

// Run is a handle on one indexing pass.
type Run struct {
	ID        string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	results    []SiteResult
	finishedAt time.Time
}

func newRun(id string, startedAt time.Time, cancel context.CancelFunc) *Run {
	return &Run{
		ID:        id,
		StartedAt: startedAt,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for run: %w", ctx.Err())
	}
}

// Results returns a copy of the per-site results recorded so far.
func (r *Run) Results() []SiteResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SiteResult(nil), r.results...)
}

// FinishedAt returns when the run ended, or the zero time while it is running.
func (r *Run) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

func (r *Run) record(res SiteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *Run) finish(at time.Time) {
	r.mu.Lock()
	r.finishedAt = at
	r.mu.Unlock()
	close(r.done)
}
