package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-indexer/internal/crawler"
)

// FindByURL returns the site registered for url, if any.
func (s *Store) FindByURL(ctx context.Context, url string) (crawler.SiteRecord, bool, error) {
	query := fmt.Sprintf(
		`SELECT id, url, name, status, status_time, last_error FROM %s WHERE url = $1`, s.sites)
	site, err := scanSite(s.pool.QueryRow(ctx, query, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.SiteRecord{}, false, nil
	}
	if err != nil {
		return crawler.SiteRecord{}, false, fmt.Errorf("select site by url: %w", err)
	}
	return site, true, nil
}

// Save inserts or replaces a site keyed by ID.
func (s *Store) Save(ctx context.Context, site crawler.SiteRecord) (crawler.SiteRecord, error) {
	if site.ID == "" {
		return crawler.SiteRecord{}, fmt.Errorf("site id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, name, status, status_time, last_error)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	name = EXCLUDED.name,
	status = EXCLUDED.status,
	status_time = EXCLUDED.status_time,
	last_error = EXCLUDED.last_error`, s.sites)

	_, err := s.pool.Exec(ctx, query,
		site.ID,
		site.URL,
		site.Name,
		string(site.Status),
		site.StatusTime,
		site.LastError,
	)
	if err != nil {
		return crawler.SiteRecord{}, fmt.Errorf("upsert site: %w", err)
	}
	return site, nil
}

// Delete removes a site; its pages go with it through the foreign key cascade.
func (s *Store) Delete(ctx context.Context, site crawler.SiteRecord) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.sites)
	tag, err := s.pool.Exec(ctx, query, site.ID)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete site %s: %w", site.ID, crawler.ErrSiteNotFound)
	}
	return nil
}

// List returns all sites ordered by URL.
func (s *Store) List(ctx context.Context) ([]crawler.SiteRecord, error) {
	query := fmt.Sprintf(
		`SELECT id, url, name, status, status_time, last_error FROM %s ORDER BY url`, s.sites)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var out []crawler.SiteRecord
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return out, nil
}

func scanSite(row pgx.Row) (crawler.SiteRecord, error) {
	var (
		site       crawler.SiteRecord
		status     string
		statusTime time.Time
	)
	if err := row.Scan(&site.ID, &site.URL, &site.Name, &status, &statusTime, &site.LastError); err != nil {
		return crawler.SiteRecord{}, err
	}
	site.Status = crawler.SiteStatus(status)
	site.StatusTime = statusTime.UTC()
	return site, nil
}
