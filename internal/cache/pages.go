package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/models"
)

const pageColumns = `id, slug, title, category, author, project_id, content, content_html, summary,
	status, view_count, github_sha, github_url, last_synced_at, created_at, updated_at`

const pageColumnsP = `p.id, p.slug, p.title, p.category, p.author, p.project_id, p.content, p.content_html, p.summary,
	p.status, p.view_count, p.github_sha, p.github_url, p.last_synced_at, p.created_at, p.updated_at`

// PageFilter selects and orders a page listing.
type PageFilter struct {
	ProjectID string
	Category  string
	Status    string
	Sort      string // created_at, updated_at, title or view_count
	Order     string // asc or desc
	Offset    int
	Limit     int
}

var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"title":      "title",
	"view_count": "view_count",
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(sc scanner, extra ...any) (*models.Page, error) {
	var (
		p      models.Page
		synced sql.NullTime
	)
	dest := append([]any{
		&p.ID, &p.Slug, &p.Title, &p.Category, &p.Author, &p.ProjectID, &p.Content, &p.ContentHTML, &p.Summary,
		&p.Status, &p.ViewCount, &p.Hash, &p.URL, &synced, &p.CreatedAt, &p.UpdatedAt,
	}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	if synced.Valid {
		t := synced.Time.UTC()
		p.LastSyncedAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func collectPages(rows *sql.Rows, extra ...any) ([]models.Page, error) {
	defer rows.Close()
	var out []models.Page
	for rows.Next() {
		p, err := scanPage(rows, extra...)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// PageBySlug returns the cached page with the given slug. Tags are not loaded.
func (s *Queries) PageBySlug(ctx context.Context, slug string) (*models.Page, error) {
	p, err := scanPage(s.queryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache: page %q: %w", slug, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get page: %w", err)
	}
	return p, nil
}

// SlugExists reports whether a page row uses slug.
func (s *Queries) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM pages WHERE slug = ?`, slug).Scan(&n); err != nil {
		return false, fmt.Errorf("cache: slug exists: %w", err)
	}
	return n > 0, nil
}

// InsertPage inserts p and sets p.ID.
func (s *Queries) InsertPage(ctx context.Context, p *models.Page) error {
	err := s.queryRow(ctx, `
		INSERT INTO pages (slug, title, category, author, project_id, content, content_html, summary,
			status, view_count, github_sha, github_url, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		p.Slug, p.Title, p.Category, p.Author, p.ProjectID, p.Content, p.ContentHTML, p.Summary,
		p.Status, p.ViewCount, p.Hash, p.URL, nullTime(p.LastSyncedAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("cache: insert page: %w", err)
	}
	return nil
}

// UpdatePage overwrites every mutable column of the row p.ID.
func (s *Queries) UpdatePage(ctx context.Context, p *models.Page) error {
	res, err := s.exec(ctx, `
		UPDATE pages SET slug = ?, title = ?, category = ?, author = ?, project_id = ?, content = ?,
			content_html = ?, summary = ?, status = ?, github_sha = ?, github_url = ?,
			last_synced_at = ?, updated_at = ?
		WHERE id = ?`,
		p.Slug, p.Title, p.Category, p.Author, p.ProjectID, p.Content,
		p.ContentHTML, p.Summary, p.Status, p.Hash, p.URL,
		nullTime(p.LastSyncedAt), p.UpdatedAt.UTC(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("cache: update page: %w", err)
	}
	return requireRow(res, "page", p.Slug)
}

// DeletePage removes the page row; its tag associations cascade.
func (s *Queries) DeletePage(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, `DELETE FROM pages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("cache: delete page: %w", err)
	}
	return nil
}

// IncrementViewCount adds one to the page's view counter.
func (s *Queries) IncrementViewCount(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, `UPDATE pages SET view_count = view_count + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("cache: view count: %w", err)
	}
	return nil
}

// ListPages returns one page of rows matching f and the total match count.
func (s *Queries) ListPages(ctx context.Context, f PageFilter) ([]models.Page, int, error) {
	where, args := pageWhere(f)

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM pages`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("cache: count pages: %w", err)
	}

	col, ok := sortColumns[f.Sort]
	if !ok {
		col = "updated_at"
	}
	dir := "DESC"
	if strings.EqualFold(f.Order, "asc") {
		dir = "ASC"
	}
	q := `SELECT ` + pageColumns + ` FROM pages` + where +
		` ORDER BY ` + col + ` ` + dir + `, id ` + dir + ` LIMIT ? OFFSET ?`
	rows, err := s.query(ctx, q, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("cache: list pages: %w", err)
	}
	pages, err := collectPages(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("cache: list pages: %w", err)
	}
	return pages, total, nil
}

func pageWhere(f PageFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// RelatedPages returns active pages sharing at least one tag with pageID,
// most shared tags first.
func (s *Queries) RelatedPages(ctx context.Context, pageID int64, limit int) ([]models.Page, error) {
	rows, err := s.query(ctx, `
		SELECT `+pageColumnsP+`, COUNT(pt.tag_id) AS common_tags
		FROM pages p
		JOIN page_tags pt ON p.id = pt.page_id
		WHERE pt.tag_id IN (SELECT tag_id FROM page_tags WHERE page_id = ?)
		  AND p.id <> ?
		  AND p.status = 'active'
		GROUP BY p.id
		ORDER BY common_tags DESC, p.id
		LIMIT ?`, pageID, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("cache: related pages: %w", err)
	}
	var common int
	pages, err := collectPages(rows, &common)
	if err != nil {
		return nil, fmt.Errorf("cache: related pages: %w", err)
	}
	return pages, nil
}

// PagesByTag lists pages carrying tagID with the given status, newest first.
func (s *Queries) PagesByTag(ctx context.Context, tagID int64, status string, offset, limit int) ([]models.Page, int, error) {
	var total int
	err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM pages p JOIN page_tags pt ON p.id = pt.page_id
		WHERE pt.tag_id = ? AND p.status = ?`, tagID, status).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("cache: count pages by tag: %w", err)
	}
	rows, err := s.query(ctx, `
		SELECT `+pageColumnsP+` FROM pages p JOIN page_tags pt ON p.id = pt.page_id
		WHERE pt.tag_id = ? AND p.status = ?
		ORDER BY p.updated_at DESC, p.id DESC
		LIMIT ? OFFSET ?`, tagID, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("cache: pages by tag: %w", err)
	}
	pages, err := collectPages(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("cache: pages by tag: %w", err)
	}
	return pages, total, nil
}

// PageHashes maps every cached slug to its stored content hash.
func (s *Queries) PageHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.query(ctx, `SELECT slug, github_sha FROM pages`)
	if err != nil {
		return nil, fmt.Errorf("cache: page hashes: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var slug, hash string
		if err := rows.Scan(&slug, &hash); err != nil {
			return nil, err
		}
		out[slug] = hash
	}
	return out, rows.Err()
}

// PageIDsByProject returns the ids of every page in a project.
func (s *Queries) PageIDsByProject(ctx context.Context, projectID string) ([]int64, error) {
	rows, err := s.query(ctx, `SELECT id FROM pages WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("cache: project pages: %w", err)
	}
	return collectIDs(rows)
}

func collectIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cache: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("cache: %s %q: %w", kind, key, apperr.ErrNotFound)
	}
	return nil
}
