// Package post derives embed metadata from social-media post URLs.
package post

import (
	"regexp"
)

// statusRegex matches the numeric post id in URLs such as
// https://x.com/{handle}/status/{id}.
var statusRegex = regexp.MustCompile(`status/(\d+)`)

// ExtractPostID returns the numeric post id embedded in url, or "" when the
// URL carries none. The URL itself is not validated.
func ExtractPostID(url string) string {
	matches := statusRegex.FindStringSubmatch(url)
	if matches == nil {
		return ""
	}
	return matches[1]
}
