// Package docstore is the remote source of truth for wiki documents. Every
// write is guarded by the git blob hash of the file it replaces.
package docstore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/starford/xwiki/internal/apperr"
)

// Document is a file read from the store.
type Document struct {
	Path    string
	Content []byte
	Hash    string
	URL     string
}

// WriteResult describes a committed write.
type WriteResult struct {
	Hash       string
	CommitHash string
	URL        string
}

// Entry is one document reported by List. Path is in the same logical form
// accepted by Get.
type Entry struct {
	Path string
	Hash string
}

// Store is implemented by GitHub and Local.
//
// Document paths are logical ("guides/setup") and are stored under the content
// root with a .md extension. CreateBinary and RawURL take repository paths
// verbatim.
type Store interface {
	// Get returns found=false, without an error, when the document is absent.
	Get(ctx context.Context, p string) (doc *Document, found bool, err error)
	Create(ctx context.Context, p string, content []byte, message string) (WriteResult, error)
	Update(ctx context.Context, p string, content []byte, message, expectedHash string) (WriteResult, error)
	Delete(ctx context.Context, p, message, expectedHash string) (commitHash string, err error)
	Move(ctx context.Context, oldPath, newPath, message, expectedHash string) (WriteResult, error)
	CreateBinary(ctx context.Context, p string, data []byte, message string) (WriteResult, error)
	List(ctx context.Context) ([]Entry, error)
	RawURL(p string) string
}

// Layout maps logical document paths to repository paths.
type Layout struct {
	Root string // e.g. "content"; empty stores documents at the repository root
}

// DocPath returns the repository path for the logical document path p.
func (l Layout) DocPath(p string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(clean, ".md") {
		clean += ".md"
	}
	if l.Root == "" {
		return clean, nil
	}
	return path.Join(l.Root, clean), nil
}

// Logical is the inverse of DocPath. ok is false for paths outside the
// content root or without the .md extension.
func (l Layout) Logical(repoPath string) (string, bool) {
	rest := repoPath
	if l.Root != "" {
		prefix := strings.TrimSuffix(l.Root, "/") + "/"
		if !strings.HasPrefix(repoPath, prefix) {
			return "", false
		}
		rest = strings.TrimPrefix(repoPath, prefix)
	}
	if !strings.HasSuffix(rest, ".md") || rest == ".md" {
		return "", false
	}
	return strings.TrimSuffix(rest, ".md"), true
}

// CanonicalSlug returns the logical path that DocPath and Logical agree on
// for p: cleaned, with any .md suffix removed.
func CanonicalSlug(p string) (string, error) {
	clean, err := cleanPath(strings.Trim(strings.TrimSpace(p), "/"))
	if err != nil {
		return "", err
	}
	slug := clean
	for strings.HasSuffix(slug, ".md") {
		slug = strings.TrimSuffix(slug, ".md")
	}
	if slug == "" || strings.HasSuffix(slug, "/") {
		return "", fmt.Errorf("docstore: no document name in %q: %w", p, apperr.ErrInvalidInput)
	}
	return slug, nil
}

func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.TrimPrefix(p, "/"))
	if p == "" {
		return "", fmt.Errorf("docstore: empty path: %w", apperr.ErrInvalidInput)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", fmt.Errorf("docstore: path escapes repository: %q: %w", p, apperr.ErrInvalidInput)
	}
	return clean, nil
}
