// Package search fetches a results page from a public search engine and
// reduces it to plain text for use as model context.
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sidepanel/internal/logging"
)

// Mode selects the search engine.
type Mode string

const (
	DuckDuckGo Mode = "duckduckgo"
	Brave      Mode = "brave"
	Google     Mode = "google"
)

// DefaultTimeout is the hard wall-clock limit on one search fetch.
const DefaultTimeout = 15 * time.Second

// stripSelectors are removed before text extraction.
const stripSelectors = `svg,#header,style,link[rel="stylesheet"],script,input,option,select,form`

var whitespaceRun = regexp.MustCompile(`\s\s+`)

// OriginRewriter installs the header-rewrite rule for the search host.
type OriginRewriter interface {
	UpdateOrigin(rawURL string) error
}

// Searcher runs web searches.
type Searcher struct {
	http      *http.Client
	rules     OriginRewriter
	timeout   time.Duration
	endpoints map[Mode]string
}

// New returns a Searcher. rules may be nil.
func New(httpClient *http.Client, rules OriginRewriter) *Searcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Searcher{
		http:    httpClient,
		rules:   rules,
		timeout: DefaultTimeout,
		endpoints: map[Mode]string{
			DuckDuckGo: "https://html.duckduckgo.com/html/",
			Brave:      "https://search.brave.com/search",
			Google:     "https://www.google.com/search",
		},
	}
}

// WithEndpoint points mode at a different URL.
func (s *Searcher) WithEndpoint(mode Mode, endpoint string) *Searcher {
	s.endpoints[mode] = endpoint
	return s
}

// WithTimeout overrides DefaultTimeout.
func (s *Searcher) WithTimeout(d time.Duration) *Searcher {
	s.timeout = d
	return s
}

// Search returns the page text of a results page for query. An empty mode
// means DuckDuckGo. Unsupported modes and any fetch failure yield "" rather
// than an error; the caller proceeds without web context.
func (s *Searcher) Search(ctx context.Context, query string, mode string) string {
	if strings.TrimSpace(query) == "" {
		return ""
	}
	m := Mode(strings.ToLower(strings.TrimSpace(mode)))
	if m == "" {
		m = DuckDuckGo
	}
	endpoint, ok := s.endpoints[m]
	if !ok {
		logging.SearchWarn("unsupported search mode %q, skipping web search", mode)
		return ""
	}

	timer := logging.StartTimer(logging.CategorySearch, "search "+string(m))
	defer timer.StopWithThreshold(5 * time.Second)

	text, err := s.fetch(ctx, m, endpoint, query)
	if err != nil {
		logging.SearchWarn("search %s for %q failed: %v", m, query, err)
		return ""
	}
	logging.SearchDebug("search %s for %q returned %d chars", m, query, len(text))
	return text
}

func (s *Searcher) fetch(ctx context.Context, mode Mode, endpoint, query string) (string, error) {
	if s.rules != nil {
		if err := s.rules.UpdateOrigin(strings.TrimSuffix(endpoint, "/")); err != nil {
			logging.SearchDebug("origin rule skipped for %s: %v", endpoint, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var req *http.Request
	var err error
	if mode == DuckDuckGo {
		form := url.Values{"q": {query}}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?q="+url.QueryEscape(query), nil)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return Extract(io.LimitReader(resp.Body, 4<<20))
}

// Extract strips chrome elements from an HTML document and returns the body
// text with whitespace runs collapsed to single spaces.
func Extract(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find(stripSelectors).Remove()
	text := doc.Find("body").Text()
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " ")), nil
}
