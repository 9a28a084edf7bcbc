package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/site-indexer/internal/crawler"
)

// SiteStore provides an in-memory site and page store for development/testing.
type SiteStore struct {
	mu    sync.RWMutex
	sites map[string]crawler.SiteRecord
	pages map[string][]crawler.PageRecord
}

// NewSiteStore constructs a SiteStore.
func NewSiteStore() *SiteStore {
	return &SiteStore{
		sites: make(map[string]crawler.SiteRecord),
		pages: make(map[string][]crawler.PageRecord),
	}
}

// FindByURL returns the site registered for url, if any.
func (s *SiteStore) FindByURL(_ context.Context, url string) (crawler.SiteRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, site := range s.sites {
		if site.URL == url {
			return site, true, nil
		}
	}
	return crawler.SiteRecord{}, false, nil
}

// Save inserts or replaces a site keyed by ID. URLs are unique across sites.
func (s *SiteStore) Save(_ context.Context, site crawler.SiteRecord) (crawler.SiteRecord, error) {
	if site.ID == "" {
		return crawler.SiteRecord{}, fmt.Errorf("save site %s: missing id", site.URL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.sites {
		if existing.URL == site.URL && id != site.ID {
			return crawler.SiteRecord{}, fmt.Errorf("save site %s: url already registered to %s", site.URL, id)
		}
	}
	s.sites[site.ID] = site
	return site, nil
}

// Delete removes a site and its pages.
func (s *SiteStore) Delete(_ context.Context, site crawler.SiteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[site.ID]; !ok {
		return fmt.Errorf("delete site %s: %w", site.ID, crawler.ErrSiteNotFound)
	}
	delete(s.sites, site.ID)
	delete(s.pages, site.ID)
	return nil
}

// List returns all sites ordered by URL.
func (s *SiteStore) List(_ context.Context) ([]crawler.SiteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.SiteRecord, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// SavePage appends a page row for a site.
func (s *SiteStore) SavePage(_ context.Context, page crawler.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[page.SiteID]; !ok {
		return fmt.Errorf("save page %q: %w", page.Path, crawler.ErrSiteNotFound)
	}
	s.pages[page.SiteID] = append(s.pages[page.SiteID], page)
	return nil
}

// DeleteAllForSite removes every page belonging to siteID.
func (s *SiteStore) DeleteAllForSite(_ context.Context, siteID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.pages[siteID]))
	delete(s.pages, siteID)
	return n, nil
}

// Pages returns a copy of the pages recorded for siteID.
func (s *SiteStore) Pages(siteID string) []crawler.PageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[siteID]
	out := make([]crawler.PageRecord, len(pages))
	copy(out, pages)
	return out
}
