package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold int
		status    int
		body      string
		want      bool
	}{
		{
			name:   "empty body",
			status: 200,
			body:   "",
			want:   true,
		},
		{
			name:   "whitespace body",
			status: 200,
			body:   "\n\t ",
			want:   true,
		},
		{
			name:   "next shell",
			status: 200,
			body:   `<html><body><div id="__next"></div></body></html>`,
			want:   true,
		},
		{
			name:   "shell with product markup",
			status: 200,
			body:   `<html><head><meta property="og:title" content="Mug"></head><body><div id="__next"></div></body></html>`,
			want:   false,
		},
		{
			name:   "json-ld product page",
			status: 200,
			body:   `<script type="application/ld+json">{"@type":"Product"}</script><div id="root"></div>`,
			want:   false,
		},
		{
			name:      "small script dense page",
			threshold: 1000,
			status:    200,
			body:      `<html><script>window.boot({a:1,b:2,c:3});</script><p>t</p></html>`,
			want:      true,
		},
		{
			name:      "large script dense page",
			threshold: 100,
			status:    200,
			body:      `<html><script>` + strings.Repeat("x", 200) + `</script><p>t</p></html>`,
			want:      false,
		},
		{
			name:   "plain server rendered page",
			status: 200,
			body:   `<html><head><title>Mug</title></head><body><h1>Mug</h1><p>` + strings.Repeat("Nice mug. ", 20) + `</p></body></html>`,
			want:   false,
		},
		{
			name:   "not found",
			status: 404,
			body:   "",
			want:   false,
		},
		{
			name:   "partial content",
			status: 206,
			body:   `<div id="app"></div>`,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHeuristic(tt.threshold)
			got := h.ShouldPromote(scraper.FetchResponse{StatusCode: tt.status, Body: []byte(tt.body)})
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewHeuristicDefault(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultSmallPageBytes, NewHeuristic(0).SmallPageBytes)
	require.Equal(t, DefaultSmallPageBytes, NewHeuristic(-5).SmallPageBytes)
	require.Equal(t, 10, NewHeuristic(10).SmallPageBytes)
}

func TestScriptShare(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, scriptShare([]byte("<p>hello</p>")))
	require.Equal(t, 100, scriptShare([]byte("<script>var a;</script>")))
	require.Zero(t, scriptShare(nil))
}
