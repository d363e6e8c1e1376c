package server

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/robingodinho/energy-intel/internal/intel"
)

// ArticleResp is the wire shape of one article.
type ArticleResp struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"publishedAt"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	ContentType string    `json:"contentType"`
	ImageURL    *string   `json:"imageUrl,omitempty"`
}

// articleCache fronts the article list read with an LRU keyed by query
// shape. The pipeline purges it at the end of every run so readers see
// fresh items without each request hitting the store.
type articleCache struct {
	repo  intel.ArticleRepo
	cache *lru.Cache[string, []ArticleResp]
}

func newArticleCache(repo intel.ArticleRepo) *articleCache {
	cache, _ := lru.New[string, []ArticleResp](64)

	return &articleCache{
		repo:  repo,
		cache: cache,
	}
}

func (c *articleCache) list(ctx context.Context, args intel.ListArgs) ([]ArticleResp, error) {
	key := fmt.Sprintf("%s|%d", args.ContentType, args.Limit)
	if resp, ok := c.cache.Get(key); ok {
		return resp, nil
	}

	articles, err := c.repo.Articles(ctx, args)
	if err != nil {
		return nil, err
	}

	resp := make([]ArticleResp, 0, len(articles))
	for _, a := range articles {
		resp = append(resp, ArticleResp{
			ID:          a.ID,
			Title:       a.Title,
			Summary:     a.Summary,
			Link:        a.Link,
			PublishedAt: a.PublishedAt,
			Source:      a.Source,
			Category:    string(a.Category),
			ContentType: string(a.ContentType),
			ImageURL:    a.ImageURL,
		})
	}

	c.cache.Add(key, resp)
	return resp, nil
}

// Invalidate implements [pipeline.Invalidator].
func (c *articleCache) Invalidate() {
	c.cache.Purge()
}
