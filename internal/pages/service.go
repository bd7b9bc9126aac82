// Package pages coordinates page writes across the document store and the
// cache. The document store is written first; the cache row and tag
// bookkeeping follow in one transaction only after the remote commit succeeds.
package pages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/cache"
	"github.com/starford/xwiki/internal/docstore"
	"github.com/starford/xwiki/internal/markdown"
	"github.com/starford/xwiki/internal/models"
	"github.com/starford/xwiki/internal/tagsync"
)

// Page event kinds.
const (
	EventCreated  = "created"
	EventUpdated  = "updated"
	EventArchived = "archived"
	EventDeleted  = "deleted"
)

// Publisher receives page lifecycle events.
type Publisher interface {
	PublishPageEvent(kind, slug string)
}

type nopPublisher struct{}

func (nopPublisher) PublishPageEvent(string, string) {}

// Config holds coordinator settings.
type Config struct {
	DefaultProject string // assigned to pages created without a project
	ArchivePrefix  string // soft-deleted pages move under this prefix
}

// Detail is a page with its related pages.
type Detail struct {
	models.Page
	RelatedPages []models.Page `json:"related_pages"`
}

// List is one page of a listing.
type List struct {
	Total int           `json:"total"`
	Pages []models.Page `json:"pages"`
}

// DeleteResult reports what a delete did.
type DeleteResult struct {
	Slug    string `json:"slug"`
	NewSlug string `json:"new_slug,omitempty"`
	Soft    bool   `json:"soft"`
}

// Service coordinates the document store and the cache.
type Service struct {
	store  docstore.Store
	db     *cache.DB
	events Publisher
	cfg    Config
	now    func() time.Time
}

// NewService creates a page coordinator. events may be nil.
func NewService(store docstore.Store, db *cache.DB, events Publisher, cfg Config) *Service {
	if events == nil {
		events = nopPublisher{}
	}
	if cfg.DefaultProject == "" {
		cfg.DefaultProject = "default"
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "archived"
	}
	cfg.ArchivePrefix = strings.Trim(cfg.ArchivePrefix, "/")
	return &Service{store: store, db: db, events: events, cfg: cfg, now: time.Now}
}

// Create commits a new document and caches it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Page, error) {
	if err := in.Validate(); err != nil {
		return nil, invalid(err)
	}
	slug := in.Slug
	if strings.Trim(strings.TrimSpace(slug), "/") == "" {
		slug = Slugify(in.Title)
	}
	slug, err := docstore.CanonicalSlug(slug)
	if err != nil {
		return nil, fmt.Errorf("pages: slug: %w", err)
	}
	if in.ProjectID == "" {
		in.ProjectID = s.cfg.DefaultProject
	}
	if in.Status == "" {
		in.Status = models.StatusActive
	}
	if err := s.requireProject(ctx, in.ProjectID); err != nil {
		return nil, err
	}
	taken, err := s.db.SlugExists(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("pages: create: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("pages: create %q: %w", slug, apperr.ErrAlreadyExists)
	}

	now := s.now().UTC()
	tags := tagsync.Normalize(in.Tags)
	doc := markdown.Document{
		Title:    in.Title,
		Category: in.Category,
		Author:   in.Author,
		Status:   in.Status,
		Summary:  in.Summary,
		Created:  now,
		Updated:  now,
		Tags:     tags,
		Body:     in.Content,
	}
	raw, err := doc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("pages: serialize: %w", err)
	}
	res, err := s.store.Create(ctx, slug, raw, "Create "+in.Title)
	if err != nil {
		return nil, fmt.Errorf("pages: create %q: %w", slug, err)
	}
	slog.Info("pages: committed to document store", slog.String("slug", slug), slog.String("sha", res.Hash))

	page := &models.Page{
		Slug:         slug,
		Title:        in.Title,
		Category:     in.Category,
		Author:       in.Author,
		ProjectID:    in.ProjectID,
		Content:      in.Content,
		ContentHTML:  renderHTML(slug, in.Content),
		Summary:      in.Summary,
		Status:       in.Status,
		Hash:         res.Hash,
		URL:          res.URL,
		LastSyncedAt: &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.db.WithTx(ctx, func(tx *cache.Tx) error {
		if err := tx.InsertPage(ctx, page); err != nil {
			return err
		}
		names, err := tagsync.Sync(ctx, tx, page.ID, tags, false)
		page.Tags = names
		return err
	})
	if err != nil {
		slog.Error("pages: cache write failed after remote commit",
			slog.String("slug", slug), slog.String("sha", res.Hash), slog.Any("err", err))
		return nil, fmt.Errorf("pages: cache create %q: %w", slug, err)
	}
	page.Tags = sortedTags(page.Tags)
	slog.Info("pages: created", slog.String("slug", slug), slog.Int64("id", page.ID), slog.Any("tags", page.Tags))
	s.events.PublishPageEvent(EventCreated, slug)
	return page, nil
}

// Update applies a partial update guarded by the expected content hash.
func (s *Service) Update(ctx context.Context, slug string, in UpdateInput) (*models.Page, error) {
	if err := in.Validate(); err != nil {
		return nil, invalid(err)
	}
	current, err := s.db.PageBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("pages: update: %w", err)
	}
	if !in.Force && in.ExpectedHash != "" && in.ExpectedHash != current.Hash {
		slog.Warn("pages: conflict detected", slog.String("slug", slug),
			slog.String("expected", in.ExpectedHash), slog.String("current", current.Hash))
		return nil, conflictFrom(current, in.ExpectedHash, false)
	}

	next := *current
	applyUpdate(&next, in)
	if in.ProjectID != nil && *in.ProjectID != current.ProjectID {
		if err := s.requireProject(ctx, next.ProjectID); err != nil {
			return nil, err
		}
	}

	var tags []string
	if in.Tags != nil {
		tags = tagsync.Normalize(*in.Tags)
	} else {
		byPage, err := s.db.PageTags(ctx, []int64{current.ID})
		if err != nil {
			return nil, fmt.Errorf("pages: update: %w", err)
		}
		tags = byPage[current.ID]
	}

	now := s.now().UTC()
	doc := markdown.Document{
		Title:    next.Title,
		Category: next.Category,
		Author:   next.Author,
		Status:   next.Status,
		Summary:  next.Summary,
		Created:  current.CreatedAt,
		Updated:  now,
		Tags:     tags,
		Body:     next.Content,
	}
	raw, err := doc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("pages: serialize: %w", err)
	}

	base := current.Hash
	if in.Force {
		remote, found, err := s.store.Get(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("pages: update %q: %w", slug, err)
		}
		if found {
			base = remote.Hash
		}
	}
	res, err := s.store.Update(ctx, slug, raw, "Update "+next.Title, base)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, conflictFrom(current, base, true)
		}
		return nil, fmt.Errorf("pages: update %q: %w", slug, err)
	}
	slog.Info("pages: updated in document store", slog.String("slug", slug),
		slog.String("old_sha", base), slog.String("new_sha", res.Hash))

	if in.Content != nil {
		next.ContentHTML = renderHTML(slug, next.Content)
	}
	next.Hash = res.Hash
	next.URL = res.URL
	next.LastSyncedAt = &now
	next.UpdatedAt = now

	err = s.db.WithTx(ctx, func(tx *cache.Tx) error {
		if err := tx.UpdatePage(ctx, &next); err != nil {
			return err
		}
		if in.Tags != nil {
			if _, err := tagsync.Sync(ctx, tx, next.ID, tags, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("pages: cache write failed after remote commit",
			slog.String("slug", slug), slog.String("sha", res.Hash), slog.Any("err", err))
		return nil, fmt.Errorf("pages: cache update %q: %w", slug, err)
	}
	next.Tags = sortedTags(tags)
	s.events.PublishPageEvent(EventUpdated, slug)
	return &next, nil
}

// Delete archives the page under the archive prefix (soft) or removes it from
// both stores (hard).
func (s *Service) Delete(ctx context.Context, slug string, soft bool) (*DeleteResult, error) {
	page, err := s.db.PageBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("pages: delete: %w", err)
	}
	if soft {
		return s.archive(ctx, page)
	}

	if _, err := s.store.Delete(ctx, slug, "Delete "+page.Title, page.Hash); err != nil {
		return nil, fmt.Errorf("pages: delete %q: %w", slug, deleteFailure("delete", slug, err))
	}
	if err := s.dropRow(ctx, page); err != nil {
		slog.Error("pages: cache delete failed after remote delete", slog.String("slug", slug), slog.Any("err", err))
		return nil, fmt.Errorf("pages: cache delete %q: %w", slug, err)
	}
	slog.Info("pages: deleted", slog.String("slug", slug))
	s.events.PublishPageEvent(EventDeleted, slug)
	return &DeleteResult{Slug: slug}, nil
}

// deleteFailure reports a remote hash rejection during delete or archive as a
// remote store failure. Deletes carry no client hash, so there is nothing for
// the caller to merge.
func deleteFailure(op, slug string, err error) error {
	var conflict *apperr.ConflictError
	if errors.Is(err, apperr.ErrRemoteStore) || !errors.As(err, &conflict) {
		return err
	}
	return &apperr.RemoteError{Op: op, Path: slug, Status: http.StatusConflict, Err: err}
}

// Forget drops the cache row of a page whose remote document no longer
// exists and releases its tags.
func (s *Service) Forget(ctx context.Context, slug string) error {
	page, err := s.db.PageBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("pages: forget: %w", err)
	}
	if err := s.dropRow(ctx, page); err != nil {
		return fmt.Errorf("pages: forget %q: %w", slug, err)
	}
	slog.Info("pages: forgot cache row", slog.String("slug", slug))
	s.events.PublishPageEvent(EventDeleted, slug)
	return nil
}

func (s *Service) dropRow(ctx context.Context, page *models.Page) error {
	return s.db.WithTx(ctx, func(tx *cache.Tx) error {
		if err := tagsync.Release(ctx, tx, page.ID, true); err != nil {
			return err
		}
		return tx.DeletePage(ctx, page.ID)
	})
}

// ArchiveSlug is the slug a soft delete moves slug to.
func (s *Service) ArchiveSlug(slug string) string {
	return s.cfg.ArchivePrefix + "/" + slug
}

func (s *Service) archive(ctx context.Context, page *models.Page) (*DeleteResult, error) {
	newSlug := s.ArchiveSlug(page.Slug)
	taken, err := s.db.SlugExists(ctx, newSlug)
	if err != nil {
		return nil, fmt.Errorf("pages: archive: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("pages: archive %q: %w", newSlug, apperr.ErrAlreadyExists)
	}
	res, err := s.store.Move(ctx, page.Slug, newSlug, "Archive "+page.Title, page.Hash)
	if err != nil {
		return nil, fmt.Errorf("pages: archive %q: %w", page.Slug, deleteFailure("move", page.Slug, err))
	}

	return s.markArchived(ctx, page, newSlug, res.Hash, res.URL)
}

func (s *Service) markArchived(ctx context.Context, page *models.Page, newSlug, hash, url string) (*DeleteResult, error) {
	now := s.now().UTC()
	oldSlug := page.Slug
	page.Slug = newSlug
	page.Status = models.StatusArchived
	page.Hash = hash
	page.URL = url
	page.LastSyncedAt = &now
	page.UpdatedAt = now
	err := s.db.WithTx(ctx, func(tx *cache.Tx) error {
		return tx.UpdatePage(ctx, page)
	})
	if err != nil {
		slog.Error("pages: cache archive failed after remote move",
			slog.String("slug", oldSlug), slog.String("new_slug", newSlug), slog.Any("err", err))
		return nil, fmt.Errorf("pages: cache archive %q: %w", oldSlug, err)
	}
	slog.Info("pages: archived", slog.String("old_slug", oldSlug), slog.String("new_slug", newSlug))
	s.events.PublishPageEvent(EventArchived, newSlug)
	return &DeleteResult{Slug: oldSlug, NewSlug: newSlug, Soft: true}, nil
}

// CompleteArchive finishes a soft delete whose remote move committed the
// archived copy but left the source in place. The source is deleted and the
// cache row moves to the archived slug.
func (s *Service) CompleteArchive(ctx context.Context, slug string) (*DeleteResult, error) {
	newSlug := s.ArchiveSlug(slug)
	archived, found, err := s.store.Get(ctx, newSlug)
	if err != nil {
		return nil, fmt.Errorf("pages: complete archive %q: %w", slug, err)
	}
	if !found {
		return nil, fmt.Errorf("pages: complete archive %q: %w", newSlug, apperr.ErrNotFound)
	}
	source, found, err := s.store.Get(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("pages: complete archive %q: %w", slug, err)
	}
	if found {
		if _, err := s.store.Delete(ctx, slug, "Archive "+slug, source.Hash); err != nil {
			return nil, fmt.Errorf("pages: complete archive %q: %w", slug, err)
		}
	}

	page, err := s.db.PageBySlug(ctx, slug)
	if errors.Is(err, apperr.ErrNotFound) {
		if _, err := s.Resync(ctx, newSlug); err != nil {
			return nil, err
		}
		return &DeleteResult{Slug: slug, NewSlug: newSlug, Soft: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pages: complete archive: %w", err)
	}
	return s.markArchived(ctx, page, newSlug, archived.Hash, archived.URL)
}

// Get returns a page, increments its view counter and attaches related pages.
func (s *Service) Get(ctx context.Context, slug string) (*Detail, error) {
	page, err := s.db.PageBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("pages: get: %w", err)
	}
	if err := s.db.IncrementViewCount(ctx, page.ID); err != nil {
		return nil, fmt.Errorf("pages: get: %w", err)
	}
	page.ViewCount++

	related, err := s.db.RelatedPages(ctx, page.ID, RelatedLimit)
	if err != nil {
		return nil, fmt.Errorf("pages: get: %w", err)
	}
	all := append([]models.Page{*page}, related...)
	if err := s.attachTags(ctx, all); err != nil {
		return nil, fmt.Errorf("pages: get: %w", err)
	}
	return &Detail{Page: all[0], RelatedPages: nonNil(all[1:])}, nil
}

// List returns a filtered, sorted page of pages.
func (s *Service) List(ctx context.Context, in ListInput) (*List, error) {
	if err := in.normalize(); err != nil {
		return nil, invalid(err)
	}
	rows, total, err := s.db.ListPages(ctx, cache.PageFilter{
		ProjectID: in.ProjectID,
		Category:  in.Category,
		Status:    in.Status,
		Sort:      in.Sort,
		Order:     in.Order,
		Offset:    (in.Page - 1) * in.Limit,
		Limit:     in.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("pages: list: %w", err)
	}
	if err := s.attachTags(ctx, rows); err != nil {
		return nil, fmt.Errorf("pages: list: %w", err)
	}
	return &List{Total: total, Pages: nonNil(rows)}, nil
}

// ListTags returns every tag, most used first.
func (s *Service) ListTags(ctx context.Context) ([]models.Tag, error) {
	tags, err := s.db.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("pages: list tags: %w", err)
	}
	return nonNil(tags), nil
}

// PagesByTag lists pages carrying the named tag.
func (s *Service) PagesByTag(ctx context.Context, name string, in ListInput) (*List, error) {
	if err := in.normalize(); err != nil {
		return nil, invalid(err)
	}
	tag, err := s.db.TagByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("pages: pages by tag: %w", err)
	}
	rows, total, err := s.db.PagesByTag(ctx, tag.ID, in.Status, (in.Page-1)*in.Limit, in.Limit)
	if err != nil {
		return nil, fmt.Errorf("pages: pages by tag: %w", err)
	}
	if err := s.attachTags(ctx, rows); err != nil {
		return nil, fmt.Errorf("pages: pages by tag: %w", err)
	}
	return &List{Total: total, Pages: nonNil(rows)}, nil
}

// Resync reads the document from the store and rewrites its cache row and
// tags. A document without a row is inserted into the default project.
func (s *Service) Resync(ctx context.Context, slug string) (*models.Page, error) {
	remote, found, err := s.store.Get(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("pages: resync %q: %w", slug, err)
	}
	if !found {
		return nil, fmt.Errorf("pages: resync %q: %w", slug, apperr.ErrNotFound)
	}
	doc, err := markdown.Parse(remote.Content)
	if err != nil {
		return nil, fmt.Errorf("pages: resync %q: %w", slug, err)
	}

	existing, err := s.db.PageBySlug(ctx, slug)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("pages: resync: %w", err)
	}
	now := s.now().UTC()
	page := &models.Page{Slug: slug, ProjectID: s.cfg.DefaultProject, CreatedAt: now}
	if existing != nil {
		page = existing
	}
	page.Title = doc.Title
	if page.Title == "" {
		page.Title = slug
	}
	page.Category = doc.Category
	page.Author = doc.Author
	page.Summary = doc.Summary
	page.Content = doc.Body
	page.ContentHTML = renderHTML(slug, doc.Body)
	page.Status = doc.Status
	if strings.HasPrefix(slug, s.cfg.ArchivePrefix+"/") {
		page.Status = models.StatusArchived
	}
	if !slices.Contains(models.Statuses, page.Status) {
		page.Status = models.StatusActive
	}
	if existing == nil && !doc.Created.IsZero() {
		page.CreatedAt = doc.Created.UTC()
	}
	page.UpdatedAt = now
	if !doc.Updated.IsZero() {
		page.UpdatedAt = doc.Updated.UTC()
	}
	page.Hash = remote.Hash
	page.URL = remote.URL
	page.LastSyncedAt = &now

	err = s.db.WithTx(ctx, func(tx *cache.Tx) error {
		if existing == nil {
			if err := tx.InsertPage(ctx, page); err != nil {
				return err
			}
		} else if err := tx.UpdatePage(ctx, page); err != nil {
			return err
		}
		names, err := tagsync.Sync(ctx, tx, page.ID, doc.Tags, existing != nil)
		page.Tags = sortedTags(names)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pages: resync %q: %w", slug, err)
	}
	slog.Info("pages: resynced", slog.String("slug", slug), slog.String("sha", page.Hash))
	s.events.PublishPageEvent(EventUpdated, slug)
	return page, nil
}

func (s *Service) requireProject(ctx context.Context, id string) error {
	if _, err := s.db.ProjectByID(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("pages: unknown project %q: %w", id, apperr.ErrInvalidInput)
		}
		return fmt.Errorf("pages: project: %w", err)
	}
	return nil
}

func (s *Service) attachTags(ctx context.Context, ps []models.Page) error {
	ids := make([]int64, len(ps))
	for i := range ps {
		ids[i] = ps[i].ID
	}
	byPage, err := s.db.PageTags(ctx, ids)
	if err != nil {
		return err
	}
	for i := range ps {
		ps[i].Tags = nonNil(byPage[ps[i].ID])
	}
	return nil
}

func applyUpdate(p *models.Page, in UpdateInput) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.Title, in.Title)
	set(&p.Content, in.Content)
	set(&p.Category, in.Category)
	set(&p.Author, in.Author)
	set(&p.ProjectID, in.ProjectID)
	set(&p.Summary, in.Summary)
	set(&p.Status, in.Status)
}

func conflictFrom(p *models.Page, expected string, remote bool) *apperr.ConflictError {
	return &apperr.ConflictError{
		ExpectedHash:   expected,
		CurrentHash:    p.Hash,
		LastEditor:     p.Author,
		LastEditedAt:   p.UpdatedAt,
		CurrentContent: p.Content,
		Remote:         remote,
	}
}

func renderHTML(slug, body string) string {
	html, err := markdown.RenderHTML(body)
	if err != nil {
		slog.Warn("pages: render html", slog.String("slug", slug), slog.Any("err", err))
		return ""
	}
	return html
}

func invalid(err error) error {
	return fmt.Errorf("pages: %w: %v", apperr.ErrInvalidInput, err)
}

func sortedTags(tags []string) []string {
	out := slices.Clone(tags)
	slices.Sort(out)
	return nonNil(out)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
