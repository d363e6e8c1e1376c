package images

import (
	"encoding/json"

	"github.com/PuerkitoBio/goquery"
)

// resolver turns a raw candidate URL into an absolute, quality-checked
// one. The second return is false when the candidate should be rejected.
type resolver func(raw string) (string, bool)

// Extractor is one strategy in the ordered extraction cascade. Each is
// independent so the cascade stays testable strategy-by-strategy and new
// strategies slot in without touching existing ones.
type Extractor interface {
	Name() string
	Extract(doc *goquery.Document, resolve resolver) (string, bool)
}

// cascade is the fixed priority order: the first acceptable hit wins.
func cascade() []Extractor {
	return []Extractor{
		metaExtractor{name: "og-image", selectors: []string{
			`meta[property="og:image"]`,
			`meta[name="og:image"]`,
		}},
		metaExtractor{name: "twitter-card", selectors: []string{
			`meta[name="twitter:image"]`,
			`meta[property="twitter:image"]`,
			`meta[name="twitter:image:src"]`,
			`meta[property="twitter:image:src"]`,
		}},
		linkRelExtractor{},
		jsonLDExtractor{},
		selectorExtractor{name: "cms-featured", selectors: []string{
			`img.wp-post-image`,
			`.featured-image img`,
			`.post-thumbnail img`,
			`figure.post-image img`,
			`.article-featured-image img`,
		}},
		selectorExtractor{name: "content-container", selectors: []string{
			`article img`,
			`main img`,
			`.content img`,
			`#content img`,
			`.post-content img`,
			`.entry-content img`,
		}},
		selectorExtractor{name: "any-image", selectors: []string{`img`}},
	}
}

// metaExtractor reads content attributes off meta tags.
type metaExtractor struct {
	name      string
	selectors []string
}

func (e metaExtractor) Name() string { return e.name }

func (e metaExtractor) Extract(doc *goquery.Document, resolve resolver) (string, bool) {
	for _, sel := range e.selectors {
		content, exists := doc.Find(sel).First().Attr("content")
		if !exists {
			continue
		}
		if u, ok := resolve(content); ok {
			return u, true
		}
	}

	return "", false
}

// linkRelExtractor handles the legacy <link rel="image_src"> tag.
type linkRelExtractor struct{}

func (linkRelExtractor) Name() string { return "image-src-link" }

func (linkRelExtractor) Extract(doc *goquery.Document, resolve resolver) (string, bool) {
	href, exists := doc.Find(`link[rel="image_src"]`).First().Attr("href")
	if !exists {
		return "", false
	}

	return resolve(href)
}

// jsonLDExtractor digs image/thumbnailUrl fields out of embedded
// schema.org blocks, in both object and array shapes.
type jsonLDExtractor struct{}

func (jsonLDExtractor) Name() string { return "json-ld" }

func (jsonLDExtractor) Extract(doc *goquery.Document, resolve resolver) (string, bool) {
	var found string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}

		if u, ok := imageFromLD(data, resolve); ok {
			found = u
			return false
		}

		return true
	})

	return found, found != ""
}

func imageFromLD(data any, resolve resolver) (string, bool) {
	switch v := data.(type) {
	case string:
		return resolve(v)
	case []any:
		for _, item := range v {
			if u, ok := imageFromLD(item, resolve); ok {
				return u, true
			}
		}
	case map[string]any:
		for _, key := range []string{"image", "thumbnailUrl", "url"} {
			nested, ok := v[key]
			if !ok {
				continue
			}
			if u, ok := imageFromLD(nested, resolve); ok {
				return u, true
			}
		}
		if graph, ok := v["@graph"]; ok {
			return imageFromLD(graph, resolve)
		}
	}

	return "", false
}

// selectorExtractor walks img tags under the given selectors and keeps
// the first candidate the quality filter accepts.
type selectorExtractor struct {
	name      string
	selectors []string
}

func (e selectorExtractor) Name() string { return e.name }

func (e selectorExtractor) Extract(doc *goquery.Document, resolve resolver) (string, bool) {
	var found string
	for _, sel := range e.selectors {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src, exists := s.Attr("src")
			if !exists || src == "" {
				src, exists = s.Attr("data-src")
			}
			if !exists || src == "" {
				return true
			}

			if u, ok := resolve(src); ok {
				found = u
				return false
			}

			return true
		})
		if found != "" {
			return found, true
		}
	}

	return "", false
}
