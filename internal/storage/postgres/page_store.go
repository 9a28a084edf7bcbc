package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/site-indexer/internal/crawler"
)

// SavePage inserts one page row.
func (s *Store) SavePage(ctx context.Context, page crawler.PageRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (site_id, path, code, content) VALUES ($1, $2, $3, $4)`, s.pages)
	// TEXT columns reject NUL and invalid UTF-8.
	content := crawler.PageText([]byte(page.Content))
	if _, err := s.pool.Exec(ctx, query, page.SiteID, page.Path, page.Code, content); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// DeleteAllForSite removes every page belonging to siteID and reports how many went.
func (s *Store) DeleteAllForSite(ctx context.Context, siteID string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE site_id = $1`, s.pages)
	tag, err := s.pool.Exec(ctx, query, siteID)
	if err != nil {
		return 0, fmt.Errorf("delete pages: %w", err)
	}
	return tag.RowsAffected(), nil
}
