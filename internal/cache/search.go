package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SearchFilter narrows a search.
type SearchFilter struct {
	ProjectID string
	Category  string
	Limit     int
}

// SearchRow is one candidate returned by a search query.
type SearchRow struct {
	ID         int64
	Slug       string
	Title      string
	Content    string
	Category   string
	UpdatedAt  time.Time
	Score      float64
	TitleSim   float64
	ContentSim float64
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchSubstring matches q case-insensitively anywhere in title or content.
// Status is not filtered. Score and similarity fields are left zero.
func (s *Queries) SearchSubstring(ctx context.Context, q string, f SearchFilter) ([]SearchRow, error) {
	pattern := "%" + likeEscaper.Replace(q) + "%"
	where := []string{
		"(title " + s.d.ilike + ` ? ESCAPE '\' OR content ` + s.d.ilike + ` ? ESCAPE '\')`,
	}
	args := []any{pattern, pattern}
	where, args = searchFilters(where, args, f)

	rows, err := s.query(ctx, `
		SELECT id, slug, title, content, category, updated_at
		FROM pages
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY updated_at DESC, id
		LIMIT ?`, append(args, f.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("cache: substring search: %w", err)
	}
	defer rows.Close()
	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ID, &r.Slug, &r.Title, &r.Content, &r.Category, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchTrigram ranks active pages by 3*similarity(title) + similarity(content)
// among those where either field passes the trigram threshold.
func (s *Queries) SearchTrigram(ctx context.Context, q string, f SearchFilter) ([]SearchRow, error) {
	where := []string{s.d.trgmMatch, "status = 'active'"}
	args := []any{q, q, q, q, q, q}
	where, args = searchFilters(where, args, f)

	rows, err := s.query(ctx, `
		SELECT id, slug, title, content, category, updated_at,
			(similarity(title, ?) * 3.0) + (similarity(content, ?) * 1.0) AS score,
			similarity(title, ?) AS title_sim,
			similarity(content, ?) AS content_sim
		FROM pages
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY score DESC, id
		LIMIT ?`, append(args, f.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("cache: trigram search: %w", err)
	}
	defer rows.Close()
	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ID, &r.Slug, &r.Title, &r.Content, &r.Category, &r.UpdatedAt,
			&r.Score, &r.TitleSim, &r.ContentSim); err != nil {
			return nil, err
		}
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func searchFilters(where []string, args []any, f SearchFilter) ([]string, []any) {
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	return where, args
}
