package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/models"
)

const tagColumns = `id, name, display_name, description, color, usage_count`

func scanTag(sc scanner) (*models.Tag, error) {
	var t models.Tag
	if err := sc.Scan(&t.ID, &t.Name, &t.DisplayName, &t.Description, &t.Color, &t.UsageCount); err != nil {
		return nil, err
	}
	return &t, nil
}

// TagByName returns the tag with the given name.
func (s *Queries) TagByName(ctx context.Context, name string) (*models.Tag, error) {
	t, err := scanTag(s.queryRow(ctx, `SELECT `+tagColumns+` FROM tags WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache: tag %q: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get tag: %w", err)
	}
	return t, nil
}

// CreateTag inserts t and sets t.ID.
func (s *Queries) CreateTag(ctx context.Context, t *models.Tag) error {
	err := s.queryRow(ctx, `
		INSERT INTO tags (name, display_name, description, color, usage_count)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`, t.Name, t.DisplayName, t.Description, t.Color, t.UsageCount).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("cache: create tag: %w", err)
	}
	return nil
}

// ListTags returns every tag, most used first.
func (s *Queries) ListTags(ctx context.Context) ([]models.Tag, error) {
	rows, err := s.query(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY usage_count DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("cache: list tags: %w", err)
	}
	defer rows.Close()
	var out []models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// PageTagIDs returns the ids of the tags currently associated with pageID.
func (s *Queries) PageTagIDs(ctx context.Context, pageID int64) ([]int64, error) {
	rows, err := s.query(ctx, `SELECT tag_id FROM page_tags WHERE page_id = ? ORDER BY tag_id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("cache: page tag ids: %w", err)
	}
	return collectIDs(rows)
}

// AdjustTagUsage adds delta to a tag's usage counter, flooring at zero.
func (s *Queries) AdjustTagUsage(ctx context.Context, tagID int64, delta int) error {
	res, err := s.exec(ctx, `
		UPDATE tags SET usage_count = CASE WHEN usage_count + ? < 0 THEN 0 ELSE usage_count + ? END
		WHERE id = ?`, delta, delta, tagID)
	if err != nil {
		return fmt.Errorf("cache: adjust tag usage: %w", err)
	}
	return requireRow(res, "tag", fmt.Sprint(tagID))
}

// ReplacePageTags makes tagIDs the complete association set of pageID.
func (s *Queries) ReplacePageTags(ctx context.Context, pageID int64, tagIDs []int64) error {
	if _, err := s.exec(ctx, `DELETE FROM page_tags WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("cache: clear page tags: %w", err)
	}
	for _, id := range tagIDs {
		if _, err := s.exec(ctx, `INSERT INTO page_tags (page_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, pageID, id); err != nil {
			return fmt.Errorf("cache: insert page tag: %w", err)
		}
	}
	return nil
}

// PageTags loads tag names for each page id, sorted by name.
func (s *Queries) PageTags(ctx context.Context, pageIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(pageIDs))
	if len(pageIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(pageIDs))
	for i, id := range pageIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(pageIDs)), ", ")
	rows, err := s.query(ctx, `
		SELECT pt.page_id, t.name FROM page_tags pt JOIN tags t ON t.id = pt.tag_id
		WHERE pt.page_id IN (`+placeholders+`)
		ORDER BY pt.page_id, t.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("cache: page tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}
