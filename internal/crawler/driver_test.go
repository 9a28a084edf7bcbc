package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testBase = "http://s.test"

func TestDriverSinglePageWithoutLinks(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{pages: map[string]fakePage{
		testBase: {code: http.StatusOK, body: `<html><a href="http://other.test/x">away</a></html>`},
	}}
	sink := &recordingSink{}
	d := NewDriver(fetcher, nil, sink, DriverConfig{Delay: time.Millisecond}, zap.NewNop())

	outcome := d.Crawl(context.Background(), SiteRecord{ID: "site-1", URL: testBase})

	require.Equal(t, StateDraining, outcome.State)
	require.Equal(t, 1, outcome.PagesRecorded)
	require.Zero(t, outcome.Pending)
	pages := sink.all()
	require.Len(t, pages, 1)
	require.Equal(t, PageRecord{
		SiteID:  "site-1",
		Path:    "",
		Code:    http.StatusOK,
		Content: `<html><a href="http://other.test/x">away</a></html>`,
	}, pages[0])
}

func TestDriverBreadthFirstWithoutRefetch(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{pages: map[string]fakePage{
		testBase:            {code: 200, body: `<a href="/a"><a href="/b"><a href="/a">`},
		testBase + "/a":     {code: 200, body: `<a href="/a/deep"><a href="/b"><a href="` + testBase + `">`},
		testBase + "/b":     {code: 200, body: `<a href="/a">`},
		testBase + "/a/deep": {code: 200, body: `leaf`},
	}}
	sink := &recordingSink{}
	d := NewDriver(fetcher, nil, sink, DriverConfig{Delay: time.Millisecond}, zap.NewNop())

	outcome := d.Crawl(context.Background(), SiteRecord{ID: "site-bfs", URL: testBase})

	require.Equal(t, StateDraining, outcome.State)
	require.Equal(t, 4, outcome.PagesRecorded)
	require.Equal(t, []string{"", "/a", "/b", "/a/deep"}, sink.paths())
	for url, n := range fetcher.counts() {
		require.Equalf(t, 1, n, "url %s fetched %d times", url, n)
	}
}

func TestDriverRecordsHTTPErrorStatusAsPage(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{pages: map[string]fakePage{
		testBase:           {code: 200, body: `<a href="/gone">`},
		testBase + "/gone": {code: http.StatusNotFound, body: "not here"},
	}}
	sink := &recordingSink{}
	d := NewDriver(fetcher, nil, sink, DriverConfig{Delay: time.Millisecond}, zap.NewNop())

	outcome := d.Crawl(context.Background(), SiteRecord{ID: "s", URL: testBase})

	require.Equal(t, 2, outcome.PagesRecorded)
	require.Zero(t, outcome.FetchFailures)
	require.Equal(t, http.StatusNotFound, sink.all()[1].Code)
}

func TestDriverSkipsFailedFetchAndContinues(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{
		pages: map[string]fakePage{
			testBase:         {code: 200, body: `<a href="/down"><a href="/up">`},
			testBase + "/up": {code: 200, body: "fine"},
		},
		failures: map[string]error{
			testBase + "/down": &FetchError{URL: testBase + "/down", Attempts: 3, Err: errors.New("connection refused")},
		},
	}
	sink := &recordingSink{}
	d := NewDriver(fetcher, nil, sink, DriverConfig{Delay: time.Millisecond}, zap.NewNop())

	outcome := d.Crawl(context.Background(), SiteRecord{ID: "s", URL: testBase})

	require.Equal(t, StateDraining, outcome.State)
	require.Equal(t, 2, outcome.PagesRecorded)
	require.Equal(t, 1, outcome.FetchFailures)
	require.ErrorIs(t, outcome.LastError, ErrFetchFailed)
	require.Equal(t, []string{"", "/up"}, sink.paths())
}

func TestDriverSaveFailureStillFollowsLinks(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{pages: map[string]fakePage{
		testBase:          {code: 200, body: `<a href="/next">`},
		testBase + "/next": {code: 200, body: "end"},
	}}
	sink := &recordingSink{failPaths: map[string]bool{"": true}}
	d := NewDriver(fetcher, nil, sink, DriverConfig{Delay: time.Millisecond}, zap.NewNop())

	outcome := d.Crawl(context.Background(), SiteRecord{ID: "s", URL: testBase})

	require.Equal(t, 1, outcome.PagesRecorded)
	require.Equal(t, 1, outcome.SaveFailures)
	require.Equal(t, []string{"/next"}, sink.paths())
}

func TestDriverRecordsBinaryBodyAsValidText(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{pages: map[string]fakePage{
		testBase:               {code: 200, body: `<a href="/logo.png">`},
		testBase + "/logo.png": {code: 200, body: "\x89PNG\x00\xff\xfe"},
	}}
	sink := &recordingSink{}
	d := NewDriver(fetcher, nil, sink, DriverConfig{Delay: time.Millisecond}, zap.NewNop())

	outcome := d.Crawl(context.Background(), SiteRecord{ID: "s", URL: testBase})

	require.Equal(t, 2, outcome.PagesRecorded)
	require.Zero(t, outcome.SaveFailures)
	logo := sink.all()[1]
	require.Equal(t, "/logo.png", logo.Path)
	require.True(t, utf8.ValidString(logo.Content))
	require.NotContains(t, logo.Content, "\x00")
	require.Equal(t, "\uFFFDPNG\uFFFD", logo.Content)
}

func TestPageText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "plain <b>html</b>", PageText([]byte("plain <b>html</b>")))
	require.Equal(t, "h\u00e9llo", PageText([]byte("h\u00e9llo")))
	require.Equal(t, "ab", PageText([]byte("a\x00b")))
	require.Equal(t, "a\uFFFDb", PageText([]byte("a\xc3b")))
	require.Empty(t, PageText(nil))
}

func TestDriverSavesFetchedPageAfterStop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &cancelingFetcher{cancel: cancel}
	sink := &ctxCheckingSink{}
	d := NewDriver(fetcher, nil, sink, DriverConfig{Delay: time.Millisecond}, zap.NewNop())

	outcome := d.Crawl(ctx, SiteRecord{ID: "s", URL: testBase})

	require.Equal(t, StateStopped, outcome.State)
	require.Equal(t, 1, outcome.PagesRecorded)
	require.Zero(t, outcome.SaveFailures)
	require.Equal(t, 1, sink.saved)
}

func TestDriverDeadlineStopsWithoutError(t *testing.T) {
	t.Parallel()

	fetcher := &endlessFetcher{}
	sink := &recordingSink{}
	d := NewDriver(fetcher, nil, sink, DriverConfig{
		Delay:    5 * time.Millisecond,
		Deadline: 80 * time.Millisecond,
	}, zap.NewNop())

	outcome := d.Crawl(context.Background(), SiteRecord{ID: "s", URL: testBase})

	require.Equal(t, StateTimedOut, outcome.State)
	require.NoError(t, outcome.LastError)
	require.Positive(t, outcome.PagesRecorded)
	require.Positive(t, outcome.Pending)
	require.Len(t, sink.all(), outcome.PagesRecorded)
	require.Less(t, outcome.Duration, time.Second)
}

func TestDriverStopsWhenParentCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &endlessFetcher{afterCalls: 3, onLimit: cancel}
	sink := &recordingSink{}
	d := NewDriver(fetcher, nil, sink, DriverConfig{Delay: time.Millisecond, Deadline: time.Minute}, zap.NewNop())

	outcome := d.Crawl(ctx, SiteRecord{ID: "s", URL: testBase})

	require.Equal(t, StateStopped, outcome.State)
	require.ErrorIs(t, outcome.LastError, context.Canceled)
	require.Equal(t, 3, outcome.PagesRecorded)
}

func TestDriverPacesBetweenFetches(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{pages: map[string]fakePage{
		testBase:        {code: 200, body: `<a href="/1"><a href="/2">`},
		testBase + "/1": {code: 200},
		testBase + "/2": {code: 200},
	}}
	sink := &recordingSink{}
	d := NewDriver(fetcher, nil, sink, DriverConfig{Delay: 30 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	outcome := d.Crawl(context.Background(), SiteRecord{ID: "s", URL: testBase})

	require.Equal(t, 3, outcome.PagesRecorded)
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestNewDriverDefaults(t *testing.T) {
	t.Parallel()

	d := NewDriver(nil, nil, nil, DriverConfig{}, nil)
	require.Equal(t, DefaultDelay, d.cfg.Delay)
	require.Equal(t, DefaultDeadline, d.cfg.Deadline)
	require.NotNil(t, d.extractor)
	require.NotNil(t, d.logger)
}

// --- fakes ---

type fakePage struct {
	code int
	body string
}

type siteFetcher struct {
	mu       sync.Mutex
	pages    map[string]fakePage
	failures map[string]error
	calls    map[string]int
}

func (f *siteFetcher) Fetch(_ context.Context, url string) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[url]++
	if err, ok := f.failures[url]; ok {
		return FetchResponse{}, err
	}
	page, ok := f.pages[url]
	if !ok {
		return FetchResponse{URL: url, StatusCode: http.StatusNotFound}, nil
	}
	return FetchResponse{URL: url, StatusCode: page.code, Body: []byte(page.body)}, nil
}

func (f *siteFetcher) counts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.calls))
	for k, v := range f.calls {
		out[k] = v
	}
	return out
}

// endlessFetcher serves pages that always link to two fresh pages.
type endlessFetcher struct {
	mu         sync.Mutex
	n          int
	afterCalls int
	onLimit    func()
}

func (f *endlessFetcher) Fetch(_ context.Context, url string) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.afterCalls > 0 && f.n == f.afterCalls && f.onLimit != nil {
		f.onLimit()
	}
	body := fmt.Sprintf(`<a href="/p%d-a"><a href="/p%d-b">`, f.n, f.n)
	return FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

// cancelingFetcher cancels the crawl while the fetch is completing.
type cancelingFetcher struct {
	cancel context.CancelFunc
}

func (f *cancelingFetcher) Fetch(_ context.Context, url string) (FetchResponse, error) {
	f.cancel()
	return FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte(`<a href="/next">`)}, nil
}

// ctxCheckingSink fails a save whose context is already done, as a database
// driver would.
type ctxCheckingSink struct {
	saved int
}

func (s *ctxCheckingSink) SavePage(ctx context.Context, _ PageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.saved++
	return nil
}

type recordingSink struct {
	mu        sync.Mutex
	pages     []PageRecord
	failPaths map[string]bool
}

func (s *recordingSink) SavePage(_ context.Context, page PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPaths[page.Path] {
		return errors.New("insert page: connection reset")
	}
	s.pages = append(s.pages, page)
	return nil
}

func (s *recordingSink) all() []PageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PageRecord(nil), s.pages...)
}

func (s *recordingSink) paths() []string {
	var out []string
	for _, p := range s.all() {
		out = append(out, p.Path)
	}
	return out
}

