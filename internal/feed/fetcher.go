package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/robingodinho/energy-intel/internal/intel"
)

const (
	fetchTimeout = 30 * time.Second
	maxFeedBody  = 5 * 1024 * 1024
	userAgent    = "energy-intel/1.0 (+https://github.com/robingodinho/energy-intel)"
)

type (
	// Diagnostics captures what the upstream actually returned, for the run
	// report. Populated even when the fetch fails.
	Diagnostics struct {
		StatusCode  int    `json:"statusCode,omitempty"`
		ContentType string `json:"contentType,omitempty"`
		BodyPreview string `json:"bodyPreview,omitempty"`
	}

	// FetchResult is the outcome of fetching one descriptor. Err is set
	// instead of being returned so that FetchAll can report every feed
	// independently.
	FetchResult struct {
		Descriptor  intel.FeedDescriptor
		Items       []*gofeed.Item
		Err         error
		Diagnostics Diagnostics
	}

	// Fetcher downloads and parses feeds.
	Fetcher struct {
		client *http.Client
	}
)

// NewFetcher wires an HTTP client; a nil client gets a sane default.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}

	return &Fetcher{client: client}
}

// Fetch retrieves and parses a single feed. Failures never escape as panics
// or partial state: the result carries zero items plus the error and
// whatever diagnostics could be gathered.
func (f *Fetcher) Fetch(ctx context.Context, desc intel.FeedDescriptor) FetchResult {
	res := FetchResult{Descriptor: desc}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.Address, nil)
	if err != nil {
		res.Err = fmt.Errorf("error building request: %w", err)
		return res
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("error getting feed url: %w", err)
		return res
	}
	defer resp.Body.Close()

	res.Diagnostics.StatusCode = resp.StatusCode
	res.Diagnostics.ContentType = resp.Header.Get("Content-Type")

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		res.Err = fmt.Errorf("error reading feed body: %w", err)
		return res
	}
	res.Diagnostics.BodyPreview = preview(body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		return res
	}

	// Bot protection pages come back as HTML with a 200. Catch them before
	// handing gofeed something it will reject with a less useful message.
	if looksLikeHTML(res.Diagnostics.ContentType, body) {
		res.Err = fmt.Errorf("feed returned an HTML document instead of a feed (likely bot protection)")
		return res
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		res.Err = fmt.Errorf("error parsing feed: %w", err)
		return res
	}

	res.Items = parsed.Items
	return res
}

// FetchAll fetches every descriptor concurrently. One feed's failure never
// affects or cancels any other feed's fetch; results come back in
// descriptor order.
func (f *Fetcher) FetchAll(ctx context.Context, descs []intel.FeedDescriptor) []FetchResult {
	results := make([]FetchResult, len(descs))

	g, ctx := errgroup.WithContext(ctx)
	for i, desc := range descs {
		i, desc := i, desc
		g.Go(func() error {
			results[i] = f.Fetch(ctx, desc)
			if results[i].Err != nil {
				slog.Warn("feed fetch failed",
					"feed", desc.Name,
					"status_code", results[i].Diagnostics.StatusCode,
					"error", results[i].Err,
				)
			}

			// Errors are carried in the result slot, never returned, so the
			// group cannot cancel sibling fetches.
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}

	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 256)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body[:min(len(body), 200)]))
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, s)
}
