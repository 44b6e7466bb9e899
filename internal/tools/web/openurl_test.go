package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoAgent/pkg/tool"
)

const page = `<html><head><style>body{}</style><script>var x = 1;</script></head>
<body><nav>Menu</nav><main><h1>Title</h1><p>First paragraph.</p>


<p>Second <b>bold</b> text.</p></main></body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", 50)))
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89})
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestOpenURLExtractsMainContent(t *testing.T) {
	server := newServer(t)
	out, err := New(Config{}).Execute(context.Background(), tool.RawInput(`"`+server.URL+`/page"`))
	require.NoError(t, err)
	assert.Equal(t, "Content from "+server.URL+"/page:\n\nTitle\nFirst paragraph.\nSecond\nbold\ntext.", out)
}

func TestOpenURLTruncatesAndHandlesPlainText(t *testing.T) {
	server := newServer(t)
	out, err := New(Config{MaxLength: 10}).Execute(context.Background(), tool.StructuredInput(map[string]any{"url": server.URL + "/plain"}))
	require.NoError(t, err)
	assert.Equal(t, "Content from "+server.URL+"/plain:\n\naaaaaaaaaa... (content truncated)", out)
}

func TestOpenURLErrors(t *testing.T) {
	server := newServer(t)
	o := New(Config{Timeout: 50 * time.Millisecond})

	out, _ := o.Execute(context.Background(), tool.RawInput(server.URL+"/image"))
	assert.Equal(t, "Error: Content type 'image/png' is not scrapable text/html.", out)

	out, _ = o.Execute(context.Background(), tool.RawInput(server.URL+"/missing"))
	assert.Equal(t, "Error: Failed to access "+server.URL+"/missing. Status code: 404", out)

	out, _ = o.Execute(context.Background(), tool.RawInput(server.URL+"/slow"))
	assert.Equal(t, "Error: Timeout while trying to access "+server.URL+"/slow", out)

	out, _ = o.Execute(context.Background(), tool.RawInput(" "))
	assert.Equal(t, "Error: No URL provided.", out)
}

func TestExtractTextFallsBackToBody(t *testing.T) {
	text, err := ExtractText(`<html><body><div>One</div><script>x()</script><div>Two</div></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "One\nTwo", text)
}
