// Package images backfills cover images for persisted articles by
// scraping their pages through an ordered extraction cascade.
package images

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/robingodinho/energy-intel/internal/intel"
)

const (
	pageTimeout = 15 * time.Second
	maxPageBody = 3 * 1024 * 1024
)

// A small pool of realistic client identities, rotated per request. Some
// publishers serve bot-flavored markup (or nothing) to obvious scrapers.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

var rejectMarkers = []string{
	"icon", "logo", "avatar", "sprite", "pixel", "tracking",
	"spacer", "blank", "placeholder", "badge", "gravatar", "1x1",
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".avif"}

var mediaPathHints = []string{
	"/media/", "/images/", "/image/", "/img/", "/uploads/",
	"/photo", "/cdn/", "wp-content",
}

// Enricher discovers cover images for articles that lack one.
type Enricher struct {
	client     *http.Client
	repo       intel.ArticleRepo
	extractors []Extractor
	uaCounter  atomic.Uint64
}

// NewEnricher wires the enricher; a nil client gets a default that
// follows redirects with a bounded timeout.
func NewEnricher(client *http.Client, repo intel.ArticleRepo) *Enricher {
	if client == nil {
		client = &http.Client{Timeout: pageTimeout}
	}

	return &Enricher{
		client:     client,
		repo:       repo,
		extractors: cascade(),
	}
}

// Enrich fetches the page at pageURL and runs the extraction cascade,
// returning the first image URL that passes the quality filter.
func (e *Enricher) Enrich(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("User-Agent", e.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return "", fmt.Errorf("page is not html: %s", ct)
	}

	doc, err := goquery.NewDocumentFromReader(http.MaxBytesReader(nil, resp.Body, maxPageBody))
	if err != nil {
		return "", fmt.Errorf("error parsing page: %w", err)
	}

	// Redirects may have moved us; resolve candidates against where the
	// document actually came from, honoring any <base href>.
	base := resp.Request.URL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if parsed, err := url.Parse(href); err == nil {
			base = base.ResolveReference(parsed)
		}
	}
	resolve := e.resolverFor(base)

	for _, ex := range e.extractors {
		if u, ok := ex.Extract(doc, resolve); ok {
			slog.Debug("image extracted", "strategy", ex.Name(), "url", u)
			return u, nil
		}
	}

	return "", fmt.Errorf("no acceptable image found")
}

// EnrichBatch walks up to limit not-yet-enriched articles, sleeping
// between requests so source sites aren't hammered. A single item's
// failure never stops the batch. Returns enriched and failed counts.
func (e *Enricher) EnrichBatch(ctx context.Context, limit int, delay time.Duration) (int, int, error) {
	articles, err := e.repo.ArticlesMissingImage(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("error listing articles missing images: %w", err)
	}

	var enriched, failed int
	for i, a := range articles {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return enriched, failed, ctx.Err()
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return enriched, failed, ctx.Err()
		}

		imageURL, err := e.Enrich(ctx, a.Link)
		if err != nil {
			slog.Debug("image enrichment failed", "id", a.ID, "link", a.Link, "error", err)
			failed++
			continue
		}

		if err := e.repo.SetImageURL(ctx, a.ID, imageURL); err != nil {
			slog.Error("error persisting image url", "id", a.ID, "error", err)
			failed++
			continue
		}
		enriched++
	}

	return enriched, failed, nil
}

func (e *Enricher) nextUserAgent() string {
	n := e.uaCounter.Add(1)
	return userAgents[int(n)%len(userAgents)]
}

// resolverFor builds the per-page candidate check: resolve against the
// base URL, restrict to http(s), and apply the quality filter.
func (e *Enricher) resolverFor(base *url.URL) resolver {
	return func(raw string) (string, bool) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(strings.ToLower(raw), "data:") {
			return "", false
		}

		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false
		}
		abs := base.ResolveReference(parsed)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return "", false
		}

		if !acceptable(abs) {
			return "", false
		}

		return abs.String(), true
	}
}

// acceptable rejects URLs that smell like chrome rather than content:
// icons, logos, avatars, tracking pixels, spacers. What survives must
// either carry a recognized image extension or live under a media-ish
// path segment.
func acceptable(u *url.URL) bool {
	lowered := strings.ToLower(u.String())
	for _, marker := range rejectMarkers {
		if strings.Contains(lowered, marker) {
			return false
		}
	}

	ext := strings.ToLower(path.Ext(u.Path))
	for _, ok := range imageExtensions {
		if ext == ok {
			return true
		}
	}
	for _, hint := range mediaPathHints {
		if strings.Contains(strings.ToLower(u.Path), hint) {
			return true
		}
	}

	return false
}
