// Package models defines the domain types for the wiki.
package models

import "time"

// Page statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusDraft    = "draft"
)

// Statuses lists every valid page status.
var Statuses = []string{StatusActive, StatusArchived, StatusDraft}

// Page is a cached wiki document. The canonical content lives in the remote store;
// Hash, URL and LastSyncedAt record the last successful sync with it.
type Page struct {
	ID           int64      `json:"id"`
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Category     string     `json:"category,omitempty"`
	Author       string     `json:"author,omitempty"`
	ProjectID    string     `json:"project_id"`
	Content      string     `json:"content"`
	ContentHTML  string     `json:"content_html,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Status       string     `json:"status"`
	ViewCount    int        `json:"view_count"`
	Hash         string     `json:"github_sha"`
	URL          string     `json:"github_url,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Tags         []string   `json:"tags"`
}

// Project groups pages. DocCount is a cache recomputed when projects are listed.
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color"`
	DocCount    int       `json:"doc_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tag is a page label. Name may encode a hierarchy such as "race/elf".
type Tag struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	UsageCount  int    `json:"usage_count"`
}
