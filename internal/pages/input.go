package pages

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/xwiki/internal/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	RelatedLimit = 5
)

var (
	statusRule  = validation.In(anySlice(models.Statuses)...).Error("must be one of active, archived, draft")
	sortValues  = []any{"created_at", "updated_at", "title", "view_count"}
	orderValues = []any{"asc", "desc"}
)

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// CreateInput describes a new page. Slug is derived from Title when empty;
// ProjectID falls back to the default project and Status to active.
type CreateInput struct {
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Category  string   `json:"category"`
	Author    string   `json:"author"`
	ProjectID string   `json:"project_id"`
	Summary   string   `json:"summary"`
	Status    string   `json:"status"`
	Tags      []string `json:"tags"`
}

// Validate checks field formats.
func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&in.Slug, validation.Length(0, 255)),
		validation.Field(&in.Category, validation.Length(0, 100)),
		validation.Field(&in.Author, validation.Length(0, 100)),
		validation.Field(&in.ProjectID, validation.Length(0, 50)),
		validation.Field(&in.Status, statusRule),
	)
}

// UpdateInput is a partial update; nil fields are left unchanged. A non-nil
// Tags replaces the tag set, and an empty list clears it.
type UpdateInput struct {
	Title     *string   `json:"title"`
	Content   *string   `json:"content"`
	Category  *string   `json:"category"`
	Author    *string   `json:"author"`
	ProjectID *string   `json:"project_id"`
	Summary   *string   `json:"summary"`
	Status    *string   `json:"status"`
	Tags      *[]string `json:"tags"`

	// ExpectedHash is the content hash the client last saw.
	ExpectedHash string `json:"expected_sha"`
	// Force skips the hash check and writes over the remote head.
	Force bool `json:"force"`
}

// Validate checks the fields that are present.
func (in UpdateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.NilOrNotEmpty, validation.Length(1, 500)),
		validation.Field(&in.Category, validation.Length(0, 100)),
		validation.Field(&in.Author, validation.Length(0, 100)),
		validation.Field(&in.ProjectID, validation.NilOrNotEmpty),
		validation.Field(&in.Status, validation.NilOrNotEmpty, statusRule),
	)
}

// ListInput filters and paginates a listing. Page is 1-based.
type ListInput struct {
	ProjectID string
	Category  string
	Status    string
	Sort      string
	Order     string
	Page      int
	Limit     int
}

func (in *ListInput) normalize() error {
	if in.Status == "" {
		in.Status = models.StatusActive
	}
	if in.Sort == "" {
		in.Sort = "updated_at"
	}
	in.Order = strings.ToLower(in.Order)
	if in.Order == "" {
		in.Order = "desc"
	}
	if in.Page == 0 {
		in.Page = 1
	}
	if in.Limit == 0 {
		in.Limit = DefaultLimit
	}
	return validation.ValidateStruct(in,
		validation.Field(&in.Status, statusRule),
		validation.Field(&in.Sort, validation.In(sortValues...)),
		validation.Field(&in.Order, validation.In(orderValues...)),
		validation.Field(&in.Page, validation.Min(1)),
		validation.Field(&in.Limit, validation.Min(1), validation.Max(MaxLimit)),
	)
}

// Slugify derives a slug from a title: lowercase with spaces turned into hyphens.
func Slugify(title string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "-")
}
