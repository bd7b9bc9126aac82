package api

import (
	"github.com/starford/xwiki/internal/models"
	"github.com/starford/xwiki/internal/pages"
	"github.com/starford/xwiki/internal/projects"
	"github.com/starford/xwiki/internal/search"
)

// CreatePageRequest is the request body for creating a page.
type CreatePageRequest = pages.CreateInput

// UpdatePageRequest is the request body for a partial page update.
type UpdatePageRequest = pages.UpdateInput

// PageDetail is a page with its related pages.
type PageDetail = pages.Detail

// PageListResponse wraps paginated page listings.
type PageListResponse struct {
	Total int           `json:"total" example:"42"`
	Page  int           `json:"page" example:"1"`
	Limit int           `json:"limit" example:"20"`
	Pages []models.Page `json:"pages"`
}

// DeleteResponse reports a completed delete.
type DeleteResponse struct {
	Message string `json:"message"`
	Slug    string `json:"slug"`
	NewSlug string `json:"new_slug,omitempty"`
}

// TagListResponse wraps the tag listing.
type TagListResponse struct {
	Tags []models.Tag `json:"tags"`
}

// SearchResponse is the search result envelope.
type SearchResponse = search.Response

// CreateProjectRequest is the request body for creating a project.
type CreateProjectRequest = projects.CreateInput

// UpdateProjectRequest is the request body for a partial project update.
type UpdateProjectRequest = projects.UpdateInput

// ProjectListResponse wraps the project listing.
type ProjectListResponse struct {
	Projects []models.Project `json:"projects"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status   string `json:"status" example:"healthy"`
	Database string `json:"database,omitempty" example:"ok"`
}
