package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/models"
)

const projectColumns = `id, title, description, color, doc_count, created_at, updated_at`

func scanProject(sc scanner) (*models.Project, error) {
	var p models.Project
	if err := sc.Scan(&p.ID, &p.Title, &p.Description, &p.Color, &p.DocCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// ProjectByID returns a project by key.
func (s *Queries) ProjectByID(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(s.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache: project %q: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project in creation order.
func (s *Queries) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("cache: list projects: %w", err)
	}
	defer rows.Close()
	var out []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// RecountProjects recomputes doc_count of every project from the pages table.
func (s *Queries) RecountProjects(ctx context.Context) error {
	_, err := s.exec(ctx, `
		UPDATE projects SET doc_count = (SELECT COUNT(*) FROM pages WHERE pages.project_id = projects.id)`)
	if err != nil {
		return fmt.Errorf("cache: recount projects: %w", err)
	}
	return nil
}

// InsertProject inserts p. The caller checks for an existing key.
func (s *Queries) InsertProject(ctx context.Context, p *models.Project) error {
	_, err := s.exec(ctx, `
		INSERT INTO projects (id, title, description, color, doc_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, p.Color, p.DocCount, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("cache: insert project: %w", err)
	}
	return nil
}

// EnsureProject inserts p unless a project with the same key exists.
func (s *Queries) EnsureProject(ctx context.Context, p *models.Project) error {
	_, err := s.exec(ctx, `
		INSERT INTO projects (id, title, description, color, doc_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Title, p.Description, p.Color, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("cache: ensure project: %w", err)
	}
	return nil
}

// UpdateProject overwrites the mutable columns of p.
func (s *Queries) UpdateProject(ctx context.Context, p *models.Project) error {
	res, err := s.exec(ctx, `
		UPDATE projects SET title = ?, description = ?, color = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.Description, p.Color, p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return fmt.Errorf("cache: update project: %w", err)
	}
	return requireRow(res, "project", p.ID)
}

// DeleteProject removes a project; its pages cascade.
func (s *Queries) DeleteProject(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("cache: delete project: %w", err)
	}
	return requireRow(res, "project", id)
}
