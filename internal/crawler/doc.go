// Package crawler implements the site crawl engine: the per-crawl frontier,
// the retrying fetch wrapper, href link discovery, and the paced driver loop
// that turns one seed URL into a set of page records. Persistence and the
// concrete HTTP client live behind the ports declared in interfaces.go.
package crawler
