package crawler

import (
	"errors"
	"time"
)

// ErrSiteNotFound is returned when a site record does not exist.
var ErrSiteNotFound = errors.New("site not found")

// SiteStatus represents the lifecycle state of an indexed site.
type SiteStatus string

// Site status values persisted in the site store.
const (
	SiteStatusIndexing SiteStatus = "INDEXING"
	SiteStatusIndexed  SiteStatus = "INDEXED"
	SiteStatusFailed   SiteStatus = "FAILED"
)

// IsTerminal reports whether the status ends a site's lifecycle.
func (s SiteStatus) IsTerminal() bool {
	return s == SiteStatusIndexed || s == SiteStatusFailed
}

// Seed is one configured site: the base URL and its display name.
type Seed struct {
	URL  string `json:"url" mapstructure:"url"`
	Name string `json:"name" mapstructure:"name"`
}

// SiteRecord is the persisted state of one site's indexing.
type SiteRecord struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Name       string     `json:"name"`
	Status     SiteStatus `json:"status"`
	StatusTime time.Time  `json:"status_time"`
	LastError  string     `json:"last_error,omitempty"`
}

// PageRecord is persisted once per successfully fetched URL.
type PageRecord struct {
	SiteID  string `json:"site_id"`
	Path    string `json:"path"`
	Code    int    `json:"code"`
	Content string `json:"content"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}
