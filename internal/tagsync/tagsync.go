// Package tagsync keeps page-tag associations and tag usage counters in step.
package tagsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/models"
)

// Store is the subset of the cache a sync runs against, normally a cache
// transaction.
type Store interface {
	TagByName(ctx context.Context, name string) (*models.Tag, error)
	CreateTag(ctx context.Context, t *models.Tag) error
	PageTagIDs(ctx context.Context, pageID int64) ([]int64, error)
	AdjustTagUsage(ctx context.Context, tagID int64, delta int) error
	ReplacePageTags(ctx context.Context, pageID int64, tagIDs []int64) error
}

// Normalize trims names, drops blanks and removes duplicates, keeping the
// first occurrence order.
func Normalize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// DisplayName is the last path segment of a hierarchical tag name.
func DisplayName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Sync makes names the tag set of pageID. When existing is true every tag
// previously on the page is decremented first; every target tag is then
// incremented, so an unchanged tag keeps its count. Missing tags are created.
func Sync(ctx context.Context, s Store, pageID int64, names []string, existing bool) ([]string, error) {
	names = Normalize(names)

	ids := make([]int64, 0, len(names))
	for _, name := range names {
		tag, err := s.TagByName(ctx, name)
		if errors.Is(err, apperr.ErrNotFound) {
			tag = &models.Tag{Name: name, DisplayName: DisplayName(name)}
			err = s.CreateTag(ctx, tag)
		}
		if err != nil {
			return nil, fmt.Errorf("tagsync: tag %q: %w", name, err)
		}
		ids = append(ids, tag.ID)
	}

	if existing {
		if err := Release(ctx, s, pageID, false); err != nil {
			return nil, err
		}
	}
	for _, id := range ids {
		if err := s.AdjustTagUsage(ctx, id, 1); err != nil {
			return nil, fmt.Errorf("tagsync: increment: %w", err)
		}
	}
	if err := s.ReplacePageTags(ctx, pageID, ids); err != nil {
		return nil, fmt.Errorf("tagsync: replace: %w", err)
	}
	return names, nil
}

// Release decrements every tag currently on pageID and, when clear is set,
// removes the associations.
func Release(ctx context.Context, s Store, pageID int64, clear bool) error {
	old, err := s.PageTagIDs(ctx, pageID)
	if err != nil {
		return fmt.Errorf("tagsync: current tags: %w", err)
	}
	for _, id := range old {
		if err := s.AdjustTagUsage(ctx, id, -1); err != nil {
			return fmt.Errorf("tagsync: decrement: %w", err)
		}
	}
	if clear {
		if err := s.ReplacePageTags(ctx, pageID, nil); err != nil {
			return fmt.Errorf("tagsync: clear: %w", err)
		}
	}
	return nil
}
