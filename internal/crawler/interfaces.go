package crawler

import (
	"context"
	"io"
	"time"
)

// SiteStore persists site records.
type SiteStore interface {
	// FindByURL returns the record for url and whether one exists.
	FindByURL(ctx context.Context, url string) (SiteRecord, bool, error)
	// Save inserts or replaces the record keyed by its ID.
	Save(ctx context.Context, site SiteRecord) (SiteRecord, error)
	Delete(ctx context.Context, site SiteRecord) error
	List(ctx context.Context) ([]SiteRecord, error)
}

// PageSink receives page records emitted by the crawl driver.
type PageSink interface {
	SavePage(ctx context.Context, page PageRecord) error
}

// PageStore persists page records and purges them per site.
type PageStore interface {
	PageSink
	DeleteAllForSite(ctx context.Context, siteID string) (int64, error)
}

// SeedSource produces the ordered seeds for one full run.
type SeedSource interface {
	Seeds() []Seed
}

// Fetcher performs one HTTP GET and returns status and body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// LinkExtractor finds same-site links in fetched content.
type LinkExtractor interface {
	Extract(content, baseURL string) []string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes site lifecycle notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces site record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
