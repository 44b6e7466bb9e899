package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoAgent/pkg/tool"
)

// newSearchServer serves a DuckDuckGo-style result page whose hits point back
// at the page fixtures of newServer.
func newSearchServer(t *testing.T, pages *httptest.Server, queries chan<- url.Values) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query()
		switch r.URL.Query().Get("q") {
		case "busy":
			w.WriteHeader(http.StatusTooManyRequests)
			return
		case "nothing":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body><div class="no-results">No results.</div></body></html>`)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>
<div class="result"><h2><a class="result__a" href="//duckduckgo.com/l/?uddg=%s&amp;rut=x">Main <b>page</b></a></h2>
<a class="result__snippet" href="#">The main fixture.</a></div>
<div class="result"><h2><a class="result__a" href="%s/plain">Plain text</a></h2></div>
<div class="result"><h2><a class="result__a" href="%s/image">Image</a></h2>
<div class="result__snippet">Binary.</div></div>
</body></html>`, url.QueryEscape(pages.URL+"/page"), pages.URL, pages.URL)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSearchListsAndScrapesTopResults(t *testing.T) {
	pages := newServer(t)
	queries := make(chan url.Values, 8)
	engine := newSearchServer(t, pages, queries)
	scrape := 2
	s := NewSearch(SearchConfig{Endpoint: engine.URL + "/html/", NumResultsToScrape: &scrape, Region: "us-en", Safe: "off"})

	out, err := s.Execute(context.Background(), tool.RawInput("golang agents"))
	require.NoError(t, err)

	want := "Search results for 'golang agents':\n" +
		"1. Main page\n   URL: " + pages.URL + "/page\n   Description: The main fixture.\n\n" +
		"2. Plain text\n   URL: " + pages.URL + "/plain\n   Description: N/A\n\n" +
		"3. Image\n   URL: " + pages.URL + "/image\n   Description: Binary.\n\n" +
		"\n--- Content of Top 2 Result(s) ---\n" +
		"\n--- Scraped Content from Result 1 (" + pages.URL + "/page) ---\nTitle\nFirst paragraph.\nSecond\nbold\ntext.\n" +
		"\n--- Scraped Content from Result 2 (" + pages.URL + "/plain) ---\n" + strings.Repeat("a", 50) + "\n" +
		"\n--- End of Scraped Content ---"
	assert.Equal(t, want, out)

	require.Len(t, queries, 1)
	sent := <-queries
	assert.Equal(t, "golang agents", sent.Get("q"))
	assert.Equal(t, "us-en", sent.Get("kl"))
	assert.Equal(t, "-2", sent.Get("kp"))
}

func TestSearchLimitsResults(t *testing.T) {
	pages := newServer(t)
	queries := make(chan url.Values, 8)
	engine := newSearchServer(t, pages, queries)
	none := 0
	s := NewSearch(SearchConfig{Endpoint: engine.URL, NumResults: 1, NumResultsToScrape: &none})

	out, err := s.Execute(context.Background(), tool.StructuredInput(map[string]any{"query": "x"}))
	require.NoError(t, err)
	assert.Equal(t, "Search results for 'x':\n1. Main page\n   URL: "+pages.URL+"/page\n   Description: The main fixture.", out)
}

func TestSearchFailures(t *testing.T) {
	pages := newServer(t)
	queries := make(chan url.Values, 8)
	engine := newSearchServer(t, pages, queries)
	s := NewSearch(SearchConfig{Endpoint: engine.URL})

	cases := []struct {
		query string
		want  string
	}{
		{"  ", "Error: No search query provided."},
		{"nothing", "No search results found for 'nothing'."},
		{"busy", "Error: Web search failed likely due to rate limiting."},
	}
	for _, tc := range cases {
		out, err := s.Execute(context.Background(), tool.RawInput(tc.query))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, tc.want), "query %q: %s", tc.query, out)
	}
}

func TestSearchTruncatesScrapedContent(t *testing.T) {
	long := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("z", scrapeLimit+100))
	}))
	t.Cleanup(long.Close)
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		for i := range 3 {
			fmt.Fprintf(w, `<a class="result__a" href="%s/%d">r%d</a>`, long.URL, i, i)
		}
	}))
	t.Cleanup(engine.Close)

	out, err := NewSearch(SearchConfig{Endpoint: engine.URL}).Execute(context.Background(), tool.RawInput("long"))
	require.NoError(t, err)
	assert.Contains(t, out, strings.Repeat("z", scrapeLimit)+"...\n")
	assert.Contains(t, out, "\n... (total scraped content truncated)\n--- End of Scraped Content ---")
	assert.NotContains(t, out, "Scraped Content from Result 3")
}

func TestResultLinkUnwrapsRedirects(t *testing.T) {
	assert.Equal(t, "https://go.dev/doc/", resultLink("//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=abc"))
	assert.Equal(t, "https://example.com/a", resultLink("https://example.com/a"))
}
