package article

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes caps every page and feed download.
const maxBodyBytes = 4 << 20

// ErrForbiddenAddress is returned for links that resolve to loopback,
// private, link-local or otherwise non-public addresses.
var ErrForbiddenAddress = errors.New("address is not publicly routable")

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

type Article struct {
	Title       string
	Link        string
	Description string
	TextContent string
}

// IsLink reports whether s is an absolute http(s) URL.
func IsLink(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetcher turns a link into article text. A link to an RSS or Atom feed is
// resolved to the newest item first.
type Fetcher struct {
	parser *gofeed.Parser
	client *http.Client
	log    logrus.FieldLogger
}

// NewPublicClient returns a client that refuses to connect to non-public
// addresses. The check runs on the resolved IP of every dial, redirects
// included.
func NewPublicClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: publicOnly}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: timeout, Transport: transport}
}

func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !IsPublic(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	return nil
}

// IsPublic reports whether ip is a globally routable unicast address.
func IsPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsGlobalUnicast() || ip.IsPrivate() {
		return false
	}
	for _, prefix := range reservedPrefixes {
		if prefix.Contains(ip) {
			return false
		}
	}
	return true
}

// NewFetcher uses client for every download; nil selects NewPublicClient.
func NewFetcher(client *http.Client, log logrus.FieldLogger) *Fetcher {
	if client == nil {
		client = NewPublicClient(30 * time.Second)
	}
	return &Fetcher{
		parser: gofeed.NewParser(),
		client: client,
		log:    log.WithField("component", "article"),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, link string) (*Article, error) {
	pageURL, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return nil, fmt.Errorf("failed to parse link: %w", err)
	}

	body, err := f.get(ctx, pageURL.String())
	if err != nil {
		return nil, err
	}

	if gofeed.DetectFeedType(bytes.NewReader(body)) != gofeed.FeedTypeUnknown {
		itemLink, err := f.newestItem(body)
		if err != nil {
			return nil, err
		}
		f.log.WithField("feed", pageURL.String()).Debugf("Following newest feed item %s", itemLink)
		if pageURL, err = pageURL.Parse(itemLink); err != nil {
			return nil, fmt.Errorf("failed to parse feed item link: %w", err)
		}
		if body, err = f.get(ctx, pageURL.String()); err != nil {
			return nil, err
		}
	}

	a, err := extract(body, pageURL)
	if err != nil {
		return nil, err
	}
	a.Link = pageURL.String()
	return a, nil
}

func (f *Fetcher) newestItem(body []byte) (string, error) {
	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse feed: %w", err)
	}
	for _, item := range feed.Items {
		if item.Link != "" {
			return item.Link, nil
		}
	}
	return "", fmt.Errorf("feed %q has no items with links", feed.Title)
}

func (f *Fetcher) get(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "scheduler-post-bot/1.0")

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", link, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch page: status code %d", res.StatusCode)
	}
	return io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
}

// extract runs readability over the page and falls back to the page's
// paragraphs when readability finds no main content.
func extract(body []byte, pageURL *url.URL) (*Article, error) {
	parsed, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(parsed.TextContent) != "" {
		return &Article{
			Title:       parsed.Title,
			Description: parsed.Excerpt,
			TextContent: strings.TrimSpace(parsed.TextContent),
		}, nil
	}

	doc, qerr := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if qerr != nil {
		return nil, fmt.Errorf("failed to parse page: %w", qerr)
	}
	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return nil, fmt.Errorf("no readable text found at %s", pageURL)
	}
	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	return &Article{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(description),
		TextContent: strings.Join(paragraphs, "\n\n"),
	}, nil
}
