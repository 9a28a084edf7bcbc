package crawler

import (
	"regexp"
	"strings"
)

// hrefPattern matches double-quoted href attribute values. It is a lenient
// substring scan, not an HTML parser: single-quoted and unquoted values are
// not seen.
var hrefPattern = regexp.MustCompile(`href\s*=\s*"(.*?)"`)

// HrefExtractor implements LinkExtractor with a regular-expression scan.
type HrefExtractor struct{}

// NewHrefExtractor returns the default link extractor.
func NewHrefExtractor() HrefExtractor {
	return HrefExtractor{}
}

// Extract returns the same-site links found in content, in document order.
// Root-relative values are prefixed with baseURL; absolute values are kept
// only when baseURL is a literal prefix. Duplicates are preserved.
func (HrefExtractor) Extract(content, baseURL string) []string {
	var links []string
	for _, match := range hrefPattern.FindAllStringSubmatch(content, -1) {
		link := match[1]
		switch {
		case strings.HasPrefix(link, "/"):
			link = baseURL + link
		case !strings.HasPrefix(link, "http"):
			continue
		}
		if strings.HasPrefix(link, baseURL) {
			links = append(links, link)
		}
	}
	return links
}

// PagePath strips the site's base URL from an absolute page URL.
func PagePath(pageURL, baseURL string) string {
	return strings.TrimPrefix(pageURL, baseURL)
}
