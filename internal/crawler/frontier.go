package crawler

// Frontier holds the pending URLs and the offered-or-visited set for one
// site's crawl. It is owned by a single driver goroutine and is not safe for
// concurrent use.
type Frontier struct {
	pending []string
	seen    map[string]struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{seen: make(map[string]struct{})}
}

// Offer enqueues url unless it was offered before. It reports whether the
// URL was added.
func (f *Frontier) Offer(url string) bool {
	if url == "" {
		return false
	}
	if _, ok := f.seen[url]; ok {
		return false
	}
	f.seen[url] = struct{}{}
	f.pending = append(f.pending, url)
	return true
}

// Next removes and returns the earliest offered URL not yet returned.
func (f *Frontier) Next() (string, bool) {
	if len(f.pending) == 0 {
		return "", false
	}
	url := f.pending[0]
	f.pending[0] = ""
	f.pending = f.pending[1:]
	return url, true
}

// Len returns the number of URLs still pending.
func (f *Frontier) Len() int {
	return len(f.pending)
}

// Seen reports whether url was ever offered, including URLs already returned.
func (f *Frontier) Seen(url string) bool {
	_, ok := f.seen[url]
	return ok
}
