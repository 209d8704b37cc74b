package article

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!DOCTYPE html>
<html>
<head>
  <title>Go 1.24 release notes published</title>
  <meta property="og:image" content="https://example.com/gopher.png">
</head>
<body>
  <article>
    <p>The Go team has released Go 1.24 with generic type aliases fully supported.</p>
    <p>The release also brings a faster map implementation based on Swiss tables,
    which reduces CPU overhead for map-heavy programs by a noticeable margin.</p>
    <p>Tooling improvements include a new tool directive in go.mod files and
    improvements to the vet analyzers that catch common mistakes in tests.</p>
  </article>
</body>
</html>`

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Go Blog</title>
  <link>%[1]s</link>
  <description>News</description>
  <item><title>Go 1.24</title><link>%[1]s/post</link></item>
  <item><title>Older</title><link>%[1]s/older</link></item>
</channel>
</rss>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/post", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage)
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, feedTemplate, srv.URL)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Nothing</title></head><body><div></div></body></html>`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(srv *httptest.Server) *Fetcher {
	logger, _ := test.NewNullLogger()
	return NewFetcher(srv.Client(), logger)
}

func TestFetch_Page(t *testing.T) {
	srv := newServer(t)

	a, err := newTestFetcher(srv).Fetch(context.Background(), srv.URL+"/post")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/post", a.Link)
	assert.Contains(t, a.TextContent, "Swiss tables")
	assert.Contains(t, a.Title, "Go 1.24")
}

func TestFetch_FeedFollowsNewestItem(t *testing.T) {
	srv := newServer(t)

	a, err := newTestFetcher(srv).Fetch(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/post", a.Link)
	assert.Contains(t, a.TextContent, "generic type aliases")
}

func TestFetch_Errors(t *testing.T) {
	srv := newServer(t)
	f := newTestFetcher(srv)

	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "status code 404")

	_, err = f.Fetch(context.Background(), srv.URL+"/empty")
	assert.Error(t, err)
}

func TestFetch_DefaultClientRefusesLoopback(t *testing.T) {
	srv := newServer(t)
	logger, _ := test.NewNullLogger()
	f := NewFetcher(nil, logger)

	_, err := f.Fetch(context.Background(), srv.URL+"/post")
	assert.ErrorIs(t, err, ErrForbiddenAddress)

	localhost := strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)
	_, err = f.Fetch(context.Background(), localhost+"/post")
	assert.ErrorIs(t, err, ErrForbiddenAddress)
}

func TestPublicClient_RefusesLoopbackDial(t *testing.T) {
	srv := newServer(t)
	client := NewPublicClient(time.Second)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/post", nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	assert.ErrorIs(t, err, ErrForbiddenAddress)
}

func TestIsPublic(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"93.184.216.34", true},
		{"2606:2800:220:1:248:1893:25c8:1946", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"172.16.0.9", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"fe80::1", false},
		{"fd00::1", false},
		{"0.0.0.0", false},
		{"100.64.0.1", false},
		{"::ffff:127.0.0.1", false},
		{"224.0.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPublic(netip.MustParseAddr(tt.addr)))
		})
	}
}

func TestExtract_ParagraphFallback(t *testing.T) {
	body := `<html><head><title>Short</title><meta name="description" content="desc"></head>
<body><p>One.</p><p>Two.</p></body></html>`
	a, err := extract([]byte(body), mustParse(t, "https://example.com/x"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(a.TextContent, "One.") && strings.Contains(a.TextContent, "Two."))
}

func TestIsLink(t *testing.T) {
	assert.True(t, IsLink("https://go.dev/blog"))
	assert.True(t, IsLink("  http://example.com/feed.xml "))
	assert.False(t, IsLink("go generics"))
	assert.False(t, IsLink("ftp://example.com/file"))
	assert.False(t, IsLink("https://"))
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
