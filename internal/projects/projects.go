// Package projects manages the projects that group pages.
package projects

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/cache"
	"github.com/starford/xwiki/internal/models"
	"github.com/starford/xwiki/internal/tagsync"
)

// DefaultColor is assigned to projects created without a color.
const DefaultColor = "bg-blue-500"

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// CreateInput describes a new project.
type CreateInput struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// Validate checks field formats.
func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ID, validation.Required, validation.Length(1, 50),
			validation.Match(keyPattern).Error("must be lowercase letters, digits, '-' or '_'")),
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Color, validation.Length(0, 50)),
	)
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

// Validate checks the fields that are present.
func (in UpdateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&in.Color, validation.NilOrNotEmpty, validation.Length(1, 50)),
	)
}

// Service implements project CRUD against the cache.
type Service struct {
	db  *cache.DB
	now func() time.Time
}

// NewService creates a project service.
func NewService(db *cache.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// List recomputes every doc_count and returns all projects.
func (s *Service) List(ctx context.Context) ([]models.Project, error) {
	if err := s.db.RecountProjects(ctx); err != nil {
		return nil, fmt.Errorf("projects: list: %w", err)
	}
	out, err := s.db.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("projects: list: %w", err)
	}
	if out == nil {
		out = []models.Project{}
	}
	return out, nil
}

// Get returns one project.
func (s *Service) Get(ctx context.Context, id string) (*models.Project, error) {
	p, err := s.db.ProjectByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("projects: get: %w", err)
	}
	return p, nil
}

// Create adds a project. An existing key yields apperr.ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Project, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("projects: %w: %v", apperr.ErrInvalidInput, err)
	}
	if in.Color == "" {
		in.Color = DefaultColor
	}
	now := s.now().UTC()
	p := &models.Project{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.Description,
		Color:       in.Color,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.WithTx(ctx, func(tx *cache.Tx) error {
		if _, err := tx.ProjectByID(ctx, in.ID); err == nil {
			return fmt.Errorf("project %q: %w", in.ID, apperr.ErrAlreadyExists)
		}
		return tx.InsertProject(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("projects: create: %w", err)
	}
	slog.Info("projects: created", slog.String("id", p.ID))
	return p, nil
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*models.Project, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("projects: %w: %v", apperr.ErrInvalidInput, err)
	}
	var p *models.Project
	err := s.db.WithTx(ctx, func(tx *cache.Tx) error {
		var err error
		if p, err = tx.ProjectByID(ctx, id); err != nil {
			return err
		}
		if in.Title != nil {
			p.Title = *in.Title
		}
		if in.Description != nil {
			p.Description = *in.Description
		}
		if in.Color != nil {
			p.Color = *in.Color
		}
		p.UpdatedAt = s.now().UTC()
		return tx.UpdateProject(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("projects: update: %w", err)
	}
	return p, nil
}

// Delete removes a project. Its cached pages cascade; the usage counts of
// their tags are released first. Remote documents are left in place.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.db.WithTx(ctx, func(tx *cache.Tx) error {
		if _, err := tx.ProjectByID(ctx, id); err != nil {
			return err
		}
		ids, err := tx.PageIDsByProject(ctx, id)
		if err != nil {
			return err
		}
		for _, pageID := range ids {
			if err := tagsync.Release(ctx, tx, pageID, false); err != nil {
				return err
			}
		}
		return tx.DeleteProject(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("projects: delete: %w", err)
	}
	slog.Info("projects: deleted", slog.String("id", id))
	return nil
}
