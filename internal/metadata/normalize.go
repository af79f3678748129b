package metadata

import (
	"strings"

	whatwg "github.com/nlnwa/whatwg-url/url"
)

// MaxDescriptionLength is the hard cutoff applied to descriptions, in runes.
const MaxDescriptionLength = 200

// ResolveURL makes candidate absolute against pageURL. Candidates that already
// start with "http" are returned as is, and so is anything that cannot be
// resolved.
func ResolveURL(candidate, pageURL string) string {
	if candidate == "" || strings.HasPrefix(candidate, "http") {
		return candidate
	}
	resolved, err := whatwg.ParseRef(pageURL, candidate)
	if err != nil {
		return candidate
	}
	return resolved.String()
}

// Truncate cuts s to at most n runes. It is not word-boundary aware.
func Truncate(s string, n int) string {
	if n < 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// normalizeText trims every field and cuts the description to
// MaxDescriptionLength.
func normalizeText(title, description, imageURL, price string) (string, string, string, string) {
	return strings.TrimSpace(title),
		Truncate(strings.TrimSpace(description), MaxDescriptionLength),
		strings.TrimSpace(imageURL),
		strings.TrimSpace(price)
}
