package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/pages"
	"github.com/starford/xwiki/internal/projects"
	"github.com/starford/xwiki/internal/search"
)

const maxJSONBody = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	pages    *pages.Service
	search   *search.Service
	projects *projects.Service
}

// NewHandler creates a new Handler.
func NewHandler(p *pages.Service, s *search.Service, pr *projects.Service) *Handler {
	return &Handler{pages: p, search: s, projects: pr}
}

// wildcard extracts the path captured by a trailing "*" route segment.
// Encoded slashes from generated clients (lore%2Felves) are decoded.
func wildcard(r *http.Request) string {
	raw := strings.Trim(chi.URLParam(r, "*"), "/")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", apperr.ErrInvalidInput)
	}
	return nil
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, apperr.ErrInvalidInput)
	}
	return n, nil
}

func listInput(r *http.Request) (pages.ListInput, error) {
	q := r.URL.Query()
	page, err := intParam(q, "page")
	if err != nil {
		return pages.ListInput{}, err
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		return pages.ListInput{}, err
	}
	return pages.ListInput{
		ProjectID: q.Get("project_id"),
		Category:  q.Get("category"),
		Status:    q.Get("status"),
		Sort:      q.Get("sort"),
		Order:     q.Get("order"),
		Page:      page,
		Limit:     limit,
	}, nil
}

func listResponse(in pages.ListInput, l *pages.List) PageListResponse {
	page, limit := in.Page, in.Limit
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = pages.DefaultLimit
	}
	return PageListResponse{Total: l.Total, Page: page, Limit: limit, Pages: l.Pages}
}

// ListPages handles GET /api/pages.
//
//	@Summary		List pages with filtering, sorting and pagination
//	@Tags			pages
//	@Produce		json
//	@Param			project_id	query		string	false	"Project key"
//	@Param			category	query		string	false	"Category"
//	@Param			status		query		string	false	"Status"	Enums(active, archived, draft)
//	@Param			sort		query		string	false	"Sort field"	Enums(created_at, updated_at, title, view_count)
//	@Param			order		query		string	false	"Sort order"	Enums(asc, desc)
//	@Param			page		query		int		false	"1-based page"
//	@Param			limit		query		int		false	"Page size (max 100)"
//	@Success		200			{object}	PageListResponse
//	@Failure		400			{object}	errResponse
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	in, err := listInput(r)
	if err != nil {
		writeError(w, r, err, pageCodes)
		return
	}
	list, err := h.pages.List(r.Context(), in)
	if err != nil {
		writeError(w, r, err, pageCodes)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(in, list))
}

// GetPage handles GET /api/pages/*.
//
//	@Summary		Get a page by slug; increments its view count
//	@Tags			pages
//	@Produce		json
//	@Param			slug	path		string	true	"Page slug"
//	@Success		200		{object}	PageDetail
//	@Failure		404		{object}	errResponse
//	@Router			/pages/{slug} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	slug := wildcard(r)
	if slug == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(CodeInvalidInput, "slug is required"))
		return
	}
	page, err := h.pages.Get(r.Context(), slug)
	if err != nil {
		writeError(w, r, err, pageCodes)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreatePage handles POST /api/pages.
//
//	@Summary		Create a page
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreatePageRequest	true	"Page to create"
//	@Success		201		{object}	models.Page
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Router			/pages [post]
func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req CreatePageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err, pageCodes)
		return
	}
	page, err := h.pages.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err, pageCodes)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

// UpdatePage handles PUT /api/pages/*.
//
//	@Summary		Update a page with optimistic concurrency
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			slug	path		string				true	"Page slug"
//	@Param			body	body		UpdatePageRequest	true	"Fields to change, expected_sha and force"
//	@Success		200		{object}	models.Page
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Router			/pages/{slug} [put]
func (h *Handler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	slug := wildcard(r)
	if slug == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(CodeInvalidInput, "slug is required"))
		return
	}
	var req UpdatePageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err, pageCodes)
		return
	}
	page, err := h.pages.Update(r.Context(), slug, req)
	if err != nil {
		writeError(w, r, err, pageCodes)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// DeletePage handles DELETE /api/pages/*.
//
//	@Summary		Archive (soft, default) or delete a page
//	@Tags			pages
//	@Produce		json
//	@Param			slug	path		string	true	"Page slug"
//	@Param			soft	query		bool	false	"Move under the archive prefix instead of deleting"	default(true)
//	@Success		200		{object}	DeleteResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Router			/pages/{slug} [delete]
func (h *Handler) DeletePage(w http.ResponseWriter, r *http.Request) {
	slug := wildcard(r)
	if slug == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(CodeInvalidInput, "slug is required"))
		return
	}
	soft := true
	if v := r.URL.Query().Get("soft"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(CodeInvalidInput, "soft must be a boolean"))
			return
		}
		soft = b
	}
	res, err := h.pages.Delete(r.Context(), slug, soft)
	if err != nil {
		writeError(w, r, err, pageCodes)
		return
	}
	msg := "page deleted"
	if res.Soft {
		msg = "page archived"
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Message: msg, Slug: res.Slug, NewSlug: res.NewSlug})
}

// ListTags handles GET /api/tags.
//
//	@Summary		List tags, most used first
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagListResponse
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.pages.ListTags(r.Context())
	if err != nil {
		writeError(w, r, err, tagCodes)
		return
	}
	writeJSON(w, http.StatusOK, TagListResponse{Tags: tags})
}

// TagPages handles GET /api/tags/*/pages. Tag names may contain slashes.
//
//	@Summary		List pages carrying a tag
//	@Tags			tags
//	@Produce		json
//	@Param			name	path		string	true	"Tag name"
//	@Success		200		{object}	PageListResponse
//	@Failure		404		{object}	errResponse
//	@Router			/tags/{name}/pages [get]
func (h *Handler) TagPages(w http.ResponseWriter, r *http.Request) {
	rest := wildcard(r)
	name, ok := strings.CutSuffix(rest, "/pages")
	if !ok || name == "" {
		writeJSON(w, http.StatusNotFound, errorBody(CodeTagNotFound, "not found"))
		return
	}
	in, err := listInput(r)
	if err != nil {
		writeError(w, r, err, tagCodes)
		return
	}
	list, err := h.pages.PagesByTag(r.Context(), name, in)
	if err != nil {
		writeError(w, r, err, tagCodes)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(in, list))
}

// Search handles GET /api/search.
//
//	@Summary		Similarity search over cached pages
//	@Tags			search
//	@Produce		json
//	@Param			q			query		string	true	"Search query"
//	@Param			project_id	query		string	false	"Project key"
//	@Param			category	query		string	false	"Category"
//	@Param			limit		query		int		false	"Max results (max 100)"
//	@Success		200			{object}	SearchResponse
//	@Failure		400			{object}	errResponse
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit")
	if err != nil {
		writeError(w, r, err, codes{})
		return
	}
	res, err := h.search.Search(r.Context(), search.Query{
		Q:         q.Get("q"),
		ProjectID: q.Get("project_id"),
		Category:  q.Get("category"),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, r, err, codes{})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListProjects handles GET /api/projects.
//
//	@Summary		List projects with recomputed document counts
//	@Tags			projects
//	@Produce		json
//	@Success		200	{object}	ProjectListResponse
//	@Router			/projects [get]
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := h.projects.List(r.Context())
	if err != nil {
		writeError(w, r, err, projectCodes)
		return
	}
	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: list})
}

// GetProject handles GET /api/projects/{id}.
//
//	@Summary		Get a project
//	@Tags			projects
//	@Produce		json
//	@Param			id	path		string	true	"Project key"
//	@Success		200	{object}	models.Project
//	@Failure		404	{object}	errResponse
//	@Router			/projects/{id} [get]
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.projects.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, projectCodes)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateProject handles POST /api/projects.
//
//	@Summary		Create a project
//	@Tags			projects
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateProjectRequest	true	"Project to create"
//	@Success		201		{object}	models.Project
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/projects [post]
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err, projectCodes)
		return
	}
	p, err := h.projects.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err, projectCodes)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateProject handles PUT /api/projects/{id}.
//
//	@Summary		Partially update a project
//	@Tags			projects
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Project key"
//	@Param			body	body		UpdateProjectRequest	true	"Fields to change"
//	@Success		200		{object}	models.Project
//	@Failure		404		{object}	errResponse
//	@Router			/projects/{id} [put]
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var req UpdateProjectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err, projectCodes)
		return
	}
	p, err := h.projects.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err, projectCodes)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProject handles DELETE /api/projects/{id}.
//
//	@Summary		Delete a project and its cached pages
//	@Tags			projects
//	@Param			id	path	string	true	"Project key"
//	@Success		204	"Project deleted"
//	@Failure		404	{object}	errResponse
//	@Router			/projects/{id} [delete]
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err, projectCodes)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
