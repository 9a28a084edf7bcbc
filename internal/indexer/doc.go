// Package indexer runs full indexing passes over the configured sites.
//
// A Coordinator admits at most one run at a time. Each run walks the seed list
// in order and, per site, purges the previous record and its pages, creates a
// fresh INDEXING record, crawls the site with a crawler.Driver, and finalizes
// the record as INDEXED or FAILED.
package indexer
