package indexer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxPages     = 20
	DefaultDelay        = time.Second
	DefaultFetchTimeout = 20 * time.Second

	maxBodyBytes = 5 << 20
)

// Fetcher retrieves and extracts one document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// HTTPFetcher fetches pages over HTTP and extracts HTML or plain text.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, UserAgent: "switchyard-indexer/1.0"}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	body := io.LimitReader(resp.Body, maxBodyBytes)
	// Redirects may move us; links resolve against the final URL.
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.Contains(ct, "html") {
		p, err := ExtractHTML(body, u)
		if err != nil {
			return Page{}, err
		}
		p.URL = rawURL
		return p, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Page{}, err
	}
	return Page{URL: rawURL, Text: collapse(string(data))}, nil
}

// Crawler walks a website breadth-first, staying on the root's host.
type Crawler struct {
	fetcher  Fetcher
	maxPages int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCrawler creates a Crawler.
func NewCrawler(f Fetcher, maxPages int, delay time.Duration) *Crawler {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if delay < 0 {
		delay = 0
	}
	return &Crawler{fetcher: f, maxPages: maxPages, delay: delay, sleep: sleepCtx}
}

// Crawl fetches root and same-host pages it links to, up to maxPages
// fetches. A failed root fails the crawl; other failures are skipped.
func (c *Crawler) Crawl(ctx context.Context, root string) ([]Page, error) {
	rootURL, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("indexer: crawl: parse %q: %w", root, err)
	}
	start := NormalizeLink(rootURL)
	if start == "" {
		return nil, fmt.Errorf("indexer: crawl: %q is not an http(s) url", root)
	}
	host := strings.ToLower(rootURL.Host)

	visited := map[string]bool{start: true}
	queue := []string{start}
	var pages []Page

	for fetched := 0; len(queue) > 0 && fetched < c.maxPages; fetched++ {
		if fetched > 0 && c.delay > 0 {
			if err := c.sleep(ctx, c.delay); err != nil {
				return pages, err
			}
		}
		next := queue[0]
		queue = queue[1:]

		page, err := c.fetcher.Fetch(ctx, next)
		if err != nil {
			if next == start {
				return nil, fmt.Errorf("indexer: crawl: fetch root %s: %w", next, err)
			}
			log.Warn().Err(err).Str("url", next).Msg("indexer: skipping page")
			continue
		}
		pages = append(pages, page)

		for _, link := range page.Links {
			lu, err := url.Parse(link)
			if err != nil || strings.ToLower(lu.Host) != host || visited[link] {
				continue
			}
			visited[link] = true
			queue = append(queue, link)
		}
	}
	return pages, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
