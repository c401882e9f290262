package github

import (
	"net/url"
	"strconv"
	"strings"
)

// parseLink parses an RFC 8288 Link header as GitHub sends it:
//
//	<https://api.github.com/...&page=2>; rel="next", <https://...&page=9>; rel="last"
//
// It returns rel → URL.
func parseLink(header string) map[string]string {
	links := make(map[string]string)
	for part := range strings.SplitSeq(header, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(part), ";")
		if !ok {
			continue
		}
		target = strings.TrimSpace(target)
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		target = target[1 : len(target)-1]

		for param := range strings.SplitSeq(params, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || strings.TrimSpace(key) != "rel" {
				continue
			}
			for rel := range strings.FieldsSeq(strings.Trim(strings.TrimSpace(value), `"`)) {
				links[rel] = target
			}
		}
	}
	return links
}

// pageParam returns the "page" query parameter of rawURL, or 0.
func pageParam(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil {
		return 0
	}
	return n
}

// totalPages derives the page count from a Link header.
func totalPages(header string, page int, empty bool) (total *int, hasNext bool) {
	links := parseLink(header)
	_, hasNext = links["next"]

	if last, ok := links["last"]; ok {
		if n := pageParam(last); n > 0 {
			return &n, hasNext
		}
	}
	if !hasNext && (page <= 1 || !empty) {
		n := max(page, 1)
		return &n, false
	}
	return nil, hasNext
}
