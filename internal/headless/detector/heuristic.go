// Package detector decides when a product page has to be rendered in a
// headless browser before its metadata can be read.
package detector

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"golang.org/x/net/html"

	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

// DefaultSmallPageBytes is the size below which a script-heavy page counts as
// an unrendered shell.
const DefaultSmallPageBytes = 2048

// scriptSharePercent is the share of markup inside <script> elements at which a
// small page counts as script dense.
const scriptSharePercent = 25

// Heuristic promotes pages that look like client-rendered shells. Pages that
// already carry product metadata in their markup are never promoted since the
// extractor reads them without executing JavaScript.
type Heuristic struct {
	SmallPageBytes int
}

// NewHeuristic creates a new detector. A non-positive threshold selects
// DefaultSmallPageBytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultSmallPageBytes
	}
	return &Heuristic{SmallPageBytes: threshold}
}

var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

var productSignals = [][]byte{
	[]byte(`property="og:title"`),
	[]byte(`property="og:image"`),
	[]byte(`property="product:price:amount"`),
	[]byte("application/ld+json"),
	[]byte(`id="producttitle"`),
}

// ShouldPromote reports whether resp should be re-fetched with a headless browser.
func (h *Heuristic) ShouldPromote(resp scraper.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.ToLower(resp.Body)
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if containsAny(body, productSignals) {
		return false
	}
	if len(body) < h.SmallPageBytes && scriptShare(body) >= scriptSharePercent {
		return true
	}
	return containsAny(body, shellMarkers)
}

func containsAny(body []byte, needles [][]byte) bool {
	for _, n := range needles {
		if bytes.Contains(body, n) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes that belong to script
// elements, tags included.
func scriptShare(body []byte) int {
	z := html.NewTokenizer(bytes.NewReader(body))
	total, inScript, depth := 0, 0, 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if !errors.Is(z.Err(), io.EOF) {
				return 0
			}
			break
		}
		raw := len(z.Raw())
		total += raw
		name, _ := z.TagName()
		isScript := string(name) == "script"
		switch {
		case tt == html.StartTagToken && isScript:
			depth++
			inScript += raw
		case tt == html.EndTagToken && isScript && depth > 0:
			depth--
			inScript += raw
		case depth > 0:
			inScript += raw
		}
	}
	if total == 0 {
		return 0
	}
	return inScript * 100 / total
}
