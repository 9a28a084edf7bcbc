// Package archive copies recorded page bodies into blob storage.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/metrics"
)

// Config controls archive object naming.
type Config struct {
	Prefix      string
	ContentType string
}

// Sink is a crawler.PageSink that saves pages to the wrapped sink and then
// archives each body under Prefix/<site_id>/<sha256>.html. Archiving is best
// effort: a failed upload is logged and counted, and the page still counts as
// saved.
type Sink struct {
	next   crawler.PageSink
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	cfg    Config
	logger *zap.Logger
}

// NewSink wraps next.
func NewSink(
	next crawler.PageSink,
	blobs crawler.BlobStore,
	hasher crawler.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Sink {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{next: next, blobs: blobs, hasher: hasher, cfg: cfg, logger: logger}
}

// SavePage implements crawler.PageSink.
func (s *Sink) SavePage(ctx context.Context, page crawler.PageRecord) error {
	if err := s.next.SavePage(ctx, page); err != nil {
		return err //nolint:wrapcheck
	}
	uri, err := s.archive(ctx, page)
	if err != nil {
		metrics.ObserveArchiveFailure()
		s.logger.Warn("archive page failed",
			zap.String("site_id", page.SiteID),
			zap.String("path", page.Path),
			zap.Error(err),
		)
		return nil
	}
	s.logger.Debug("archived page", zap.String("path", page.Path), zap.String("uri", uri))
	return nil
}

func (s *Sink) archive(ctx context.Context, page crawler.PageRecord) (string, error) {
	body := []byte(page.Content)
	digest, err := s.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	uri, err := s.blobs.PutObject(ctx, ObjectPath(s.cfg.Prefix, page.SiteID, digest), s.cfg.ContentType, strings.NewReader(page.Content))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

// ObjectPath builds the blob key for a page digest.
func ObjectPath(prefix, siteID, digest string) string {
	return path.Join(strings.Trim(prefix, "/"), siteID, digest+".html")
}
