package sqlite

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/robingodinho/energy-intel/internal/intel"
)

// InsertArticles writes the batch with an upsert-ignore policy: a primary
// key conflict is a duplicate skip, not an error. Rows are inserted one at
// a time so a single bad row cannot sink the batch, and so duplicates and
// write failures stay distinguishable in the result.
func (r *Repo) InsertArticles(ctx context.Context, articles []intel.Article) (intel.InsertResult, error) {
	const q = `INSERT INTO articles (id, title, title_norm, summary, link, published_at, source, category, content_type, image_url, is_archived, created_at)
	VALUES (:id, :title, :title_norm, :summary, :link, :published_at, :source, :category, :content_type, :image_url, :is_archived, :created_at)
	ON CONFLICT(id) DO NOTHING;`

	var res intel.InsertResult
	for _, a := range articles {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		a.TitleNorm = intel.NormalizeTitle(a.Title)

		sqlRes, err := r.db.NamedExecContext(ctx, q, a)
		if err != nil {
			res.Errs = append(res.Errs, fmt.Errorf("error inserting article %s: %w", a.ID, err))
			continue
		}

		affected, err := sqlRes.RowsAffected()
		if err != nil {
			res.Errs = append(res.Errs, fmt.Errorf("error reading insert result for %s: %w", a.ID, err))
			continue
		}
		if affected == 0 {
			res.Duplicates++
			continue
		}
		res.Inserted++
	}

	return res, nil
}

// ExistingIDs returns the subset of ids already persisted.
func (r *Repo) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	for _, part := range chunk(ids, maxBinds) {
		query, args, err := sq.Select("id").From("articles").Where(sq.Eq{"id": part}).ToSql()
		if err != nil {
			return nil, fmt.Errorf("error constructing sql: %s", err)
		}

		var found []string
		if err := r.db.SelectContext(ctx, &found, query, args...); err != nil {
			return nil, fmt.Errorf("error selecting existing ids: %s", err)
		}
		for _, id := range found {
			out[id] = struct{}{}
		}
	}

	return out, nil
}

// ExistingTitles returns which of the given titles already exist in the
// store. Inputs must be in intel.NormalizeTitle form; they are compared
// against the stored title_norm column, which is folded in Go at insert
// time rather than by sqlite's ASCII-only lower().
func (r *Repo) ExistingTitles(ctx context.Context, titles []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(titles))
	for _, part := range chunk(titles, maxBinds) {
		query, args, err := sq.Select("title_norm").From("articles").
			Where(sq.Eq{"title_norm": part}).ToSql()
		if err != nil {
			return nil, fmt.Errorf("error constructing sql: %s", err)
		}

		var found []string
		if err := r.db.SelectContext(ctx, &found, query, args...); err != nil {
			return nil, fmt.Errorf("error selecting existing titles: %s", err)
		}
		for _, t := range found {
			out[t] = struct{}{}
		}
	}

	return out, nil
}

// ArticlesMissingImage lists the newest active articles still lacking a
// cover image, up to limit.
func (r *Repo) ArticlesMissingImage(ctx context.Context, limit int) ([]intel.Article, error) {
	const q = `SELECT * FROM articles
	WHERE image_url IS NULL AND is_archived = FALSE
	ORDER BY published_at DESC, id LIMIT ?;`

	var articles []intel.Article
	if err := r.db.SelectContext(ctx, &articles, q, limit); err != nil {
		return nil, fmt.Errorf("error selecting articles missing images: %s", err)
	}

	return articles, nil
}

// SetImageURL records a discovered cover image.
func (r *Repo) SetImageURL(ctx context.Context, id, imageURL string) error {
	const q = `UPDATE articles SET image_url = ? WHERE id = ?;`

	if _, err := r.db.ExecContext(ctx, q, imageURL, id); err != nil {
		return fmt.Errorf("error setting image url: %s", err)
	}

	return nil
}

// SetSummary replaces an article's summary. Used by the out-of-band
// backfill, never by ordinary ingestion.
func (r *Repo) SetSummary(ctx context.Context, id, summary string) error {
	const q = `UPDATE articles SET summary = ? WHERE id = ?;`

	if _, err := r.db.ExecContext(ctx, q, summary, id); err != nil {
		return fmt.Errorf("error setting summary: %s", err)
	}

	return nil
}

// Articles reads active articles, newest first.
func (r *Repo) Articles(ctx context.Context, args intel.ListArgs) ([]intel.Article, error) {
	q := sq.Select("*").From("articles").
		Where(sq.Eq{"is_archived": false}).
		OrderBy("published_at DESC", "id")
	if args.ContentType != "" {
		q = q.Where(sq.Eq{"content_type": args.ContentType})
	}
	if args.Limit > 0 {
		q = q.Limit(uint64(args.Limit))
	}

	query, qArgs, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var articles []intel.Article
	if err := r.db.SelectContext(ctx, &articles, query, qArgs...); err != nil {
		return nil, fmt.Errorf("error selecting articles: %s", err)
	}

	return articles, nil
}

// ArchiveOlder marks everything in the content type beyond the keep
// most-recent active articles as archived. It never unarchives; running it
// again is a no-op. Returns how many rows were archived.
func (r *Repo) ArchiveOlder(ctx context.Context, contentType intel.ContentType, keep int) (int, error) {
	const q = `UPDATE articles SET is_archived = TRUE
	WHERE content_type = ? AND is_archived = FALSE AND id NOT IN (
		SELECT id FROM articles
		WHERE content_type = ? AND is_archived = FALSE
		ORDER BY published_at DESC, id LIMIT ?
	);`

	res, err := r.db.ExecContext(ctx, q, contentType, contentType, keep)
	if err != nil {
		return 0, fmt.Errorf("error archiving articles: %s", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading archive result: %s", err)
	}

	return int(affected), nil
}
