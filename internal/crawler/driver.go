package crawler

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/metrics"
)

// Default pacing for a site crawl.
const (
	DefaultDelay    = 500 * time.Millisecond
	DefaultDeadline = time.Hour
)

// CrawlState is the driver state a crawl ended in.
type CrawlState string

// Driver states. A finished crawl is Draining, TimedOut or Stopped.
const (
	StateRunning  CrawlState = "running"
	StateDraining CrawlState = "draining"
	StateTimedOut CrawlState = "timed_out"
	StateStopped  CrawlState = "stopped"
)

// DriverConfig controls pacing and the per-site wall-clock bound.
type DriverConfig struct {
	Delay    time.Duration
	Deadline time.Duration
}

// CrawlOutcome summarises one site crawl.
type CrawlOutcome struct {
	State         CrawlState
	PagesRecorded int
	FetchFailures int
	SaveFailures  int
	// Pending counts frontier entries abandoned by a timeout or stop.
	Pending   int
	LastError error
	Duration  time.Duration
}

// Driver runs the fetch/extract/enqueue loop for one site at a time.
type Driver struct {
	fetcher   Fetcher
	extractor LinkExtractor
	sink      PageSink
	cfg       DriverConfig
	pauser    pauser
	logger    *zap.Logger
}

// NewDriver constructs a Driver. Zero config values fall back to the defaults.
func NewDriver(
	fetcher Fetcher,
	extractor LinkExtractor,
	sink PageSink,
	cfg DriverConfig,
	logger *zap.Logger,
) *Driver {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if extractor == nil {
		extractor = NewHrefExtractor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		fetcher:   fetcher,
		extractor: extractor,
		sink:      sink,
		cfg:       cfg,
		pauser:    timerPauser{},
		logger:    logger,
	}
}

// Crawl traverses site breadth-first from its base URL until the frontier
// drains, the deadline passes, or ctx is canceled. Pages already emitted are
// kept in every case.
func (d *Driver) Crawl(ctx context.Context, site SiteRecord) CrawlOutcome {
	start := time.Now()
	crawlCtx, cancel := context.WithTimeout(ctx, d.cfg.Deadline)
	defer cancel()

	logger := d.logger.With(zap.String("site_id", site.ID), zap.String("site_url", site.URL))
	frontier := NewFrontier()
	frontier.Offer(site.URL)
	outcome := CrawlOutcome{State: StateRunning}

	for cycle := 0; ; cycle++ {
		if crawlCtx.Err() != nil {
			d.halt(ctx, frontier, &outcome, logger)
			break
		}
		url, ok := frontier.Next()
		if !ok {
			outcome.State = StateDraining
			logger.Info("crawl drained", zap.Int("pages", outcome.PagesRecorded))
			break
		}
		if cycle > 0 && !d.pauser.Pause(crawlCtx, d.cfg.Delay) {
			// The URL was taken but not fetched; count it as abandoned.
			outcome.Pending++
			d.halt(ctx, frontier, &outcome, logger)
			break
		}
		d.visit(crawlCtx, site, url, frontier, &outcome, logger)
	}
	outcome.Duration = time.Since(start)
	return outcome
}

func (d *Driver) halt(parent context.Context, frontier *Frontier, outcome *CrawlOutcome, logger *zap.Logger) {
	outcome.Pending += frontier.Len()
	if parent.Err() != nil {
		outcome.State = StateStopped
		outcome.LastError = parent.Err()
		logger.Warn("crawl stopped", zap.Int("pending", outcome.Pending), zap.Error(parent.Err()))
		return
	}
	outcome.State = StateTimedOut
	logger.Warn("crawl deadline exceeded; abandoning frontier",
		zap.Duration("deadline", d.cfg.Deadline),
		zap.Int("pending", outcome.Pending),
		zap.Int("pages", outcome.PagesRecorded),
	)
}

func (d *Driver) visit(
	ctx context.Context,
	site SiteRecord,
	url string,
	frontier *Frontier,
	outcome *CrawlOutcome,
	logger *zap.Logger,
) {
	resp, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrFetchFailed) {
			// Interrupted mid-fetch; the loop reports the deadline or stop.
			outcome.Pending++
			return
		}
		outcome.FetchFailures++
		outcome.LastError = err
		metrics.ObserveFetchFailure(site.URL)
		logger.Error("page fetch failed", zap.String("url", url), zap.Error(err))
		return
	}

	page := PageRecord{
		SiteID:  site.ID,
		Path:    PagePath(url, site.URL),
		Code:    resp.StatusCode,
		Content: PageText(resp.Body),
	}
	// The page is already fetched; a deadline passing now must not drop it.
	if err := d.sink.SavePage(context.WithoutCancel(ctx), page); err != nil {
		outcome.SaveFailures++
		outcome.LastError = err
		logger.Error("page save failed", zap.String("path", page.Path), zap.Error(err))
	} else {
		outcome.PagesRecorded++
		metrics.ObservePage(site.URL, resp.StatusCode, len(resp.Body))
		logger.Debug("page saved", zap.String("path", page.Path), zap.Int("code", page.Code))
	}

	for _, link := range d.extractor.Extract(page.Content, site.URL) {
		frontier.Offer(link)
	}
}

// PageText decodes a fetched body for storage as text. Invalid UTF-8 becomes
// U+FFFD and NUL bytes are dropped, so binary responses still store.
func PageText(body []byte) string {
	text := strings.ToValidUTF8(string(body), "\uFFFD")
	return strings.ReplaceAll(text, "\x00", "")
}
