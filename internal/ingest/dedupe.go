package ingest

import (
	"context"
	"fmt"

	"github.com/robingodinho/energy-intel/internal/intel"
)

// Candidate pairs a normalized article with the excerpt that feeds its
// summary prompt.
type Candidate struct {
	Article intel.Article
	Excerpt string
}

// Deduper removes items already known, both within the current batch and
// against the store.
type Deduper struct {
	repo intel.ArticleRepo
}

func NewDeduper(repo intel.ArticleRepo) *Deduper {
	return &Deduper{repo: repo}
}

// Dedupe runs the three-stage narrowing: intra-batch title dedup (first
// occurrence wins), persisted-id dedup, then persisted-title dedup. The
// title stage exists because the same story republished elsewhere gets a
// different guid and link; a title collision is the second line of defense.
// Returns the survivors plus the total number of duplicates dropped.
func (d *Deduper) Dedupe(ctx context.Context, batch []Candidate) ([]Candidate, int, error) {
	dropped := 0

	// Stage 1: intra-batch titles.
	seenTitles := make(map[string]struct{}, len(batch))
	var stage1 []Candidate
	for _, c := range batch {
		key := intel.NormalizeTitle(c.Article.Title)
		if _, ok := seenTitles[key]; ok {
			dropped++
			continue
		}
		seenTitles[key] = struct{}{}
		stage1 = append(stage1, c)
	}

	if len(stage1) == 0 {
		return nil, dropped, nil
	}

	// Stage 2: ids already persisted.
	ids := make([]string, 0, len(stage1))
	for _, c := range stage1 {
		ids = append(ids, c.Article.ID)
	}
	existingIDs, err := d.repo.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, dropped, fmt.Errorf("error checking existing ids: %w", err)
	}

	var stage2 []Candidate
	for _, c := range stage1 {
		if _, ok := existingIDs[c.Article.ID]; ok {
			dropped++
			continue
		}
		stage2 = append(stage2, c)
	}

	if len(stage2) == 0 {
		return nil, dropped, nil
	}

	// Stage 3: titles already persisted.
	titles := make([]string, 0, len(stage2))
	for _, c := range stage2 {
		titles = append(titles, intel.NormalizeTitle(c.Article.Title))
	}
	existingTitles, err := d.repo.ExistingTitles(ctx, titles)
	if err != nil {
		return nil, dropped, fmt.Errorf("error checking existing titles: %w", err)
	}

	var out []Candidate
	for _, c := range stage2 {
		if _, ok := existingTitles[intel.NormalizeTitle(c.Article.Title)]; ok {
			dropped++
			continue
		}
		out = append(out, c)
	}

	return out, dropped, nil
}
