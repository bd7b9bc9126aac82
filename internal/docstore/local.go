package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/checksum"
)

// Local implements Store on the local file system with the same hash
// semantics as GitHub. Check-and-write sequences are serialized by a mutex.
type Local struct {
	root    string // absolute path to repository directory
	layout  Layout
	baseURL string
	mu      sync.Mutex
}

// NewLocal creates a store rooted at the given directory, which must already
// exist. baseURL prefixes the URLs returned for documents and raw files.
func NewLocal(root string, layout Layout, baseURL string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("docstore: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("docstore: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docstore: root is not a directory: %s", abs)
	}
	return &Local{root: abs, layout: layout, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root returns the absolute repository directory.
func (l *Local) Root() string { return l.root }

// ContentDir returns the absolute directory holding documents.
func (l *Local) ContentDir() string { return filepath.Join(l.root, filepath.FromSlash(l.layout.Root)) }

// safePath resolves a repository path against the root and rejects any result
// that escapes it.
func (l *Local) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("docstore: absolute paths not allowed: %s: %w", rel, apperr.ErrInvalidInput)
	}
	abs, err := filepath.Abs(filepath.Join(l.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("docstore: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, l.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("docstore: path escapes root: %s: %w", rel, apperr.ErrInvalidInput)
	}
	return abs, nil
}

func (l *Local) docFile(p string) (repoPath, abs string, err error) {
	repoPath, err = l.layout.DocPath(p)
	if err != nil {
		return "", "", err
	}
	abs, err = l.safePath(repoPath)
	return repoPath, abs, err
}

func (l *Local) Get(_ context.Context, p string) (*Document, bool, error) {
	repoPath, abs, err := l.docFile(p)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("docstore: read %s: %w", repoPath, err)
	}
	return &Document{Path: p, Content: data, Hash: checksum.GitBlob(data), URL: l.RawURL(repoPath)}, true, nil
}

func (l *Local) Create(_ context.Context, p string, content []byte, _ string) (WriteResult, error) {
	repoPath, abs, err := l.docFile(p)
	if err != nil {
		return WriteResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.create(repoPath, abs, content)
}

func (l *Local) CreateBinary(_ context.Context, p string, data []byte, _ string) (WriteResult, error) {
	repoPath, err := cleanPath(p)
	if err != nil {
		return WriteResult{}, err
	}
	abs, err := l.safePath(repoPath)
	if err != nil {
		return WriteResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.create(repoPath, abs, data)
}

func (l *Local) create(repoPath, abs string, content []byte) (WriteResult, error) {
	if _, err := os.Stat(abs); err == nil {
		return WriteResult{}, fmt.Errorf("docstore: create %s: %w", repoPath, apperr.ErrAlreadyExists)
	}
	if err := l.write(abs, content); err != nil {
		return WriteResult{}, err
	}
	return l.result(repoPath, content), nil
}

func (l *Local) Update(_ context.Context, p string, content []byte, _ string, expectedHash string) (WriteResult, error) {
	repoPath, abs, err := l.docFile(p)
	if err != nil {
		return WriteResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkHash(repoPath, abs, expectedHash); err != nil {
		return WriteResult{}, err
	}
	if err := l.write(abs, content); err != nil {
		return WriteResult{}, err
	}
	return l.result(repoPath, content), nil
}

func (l *Local) Delete(_ context.Context, p, _ string, expectedHash string) (string, error) {
	repoPath, abs, err := l.docFile(p)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkHash(repoPath, abs, expectedHash); err != nil {
		return "", err
	}
	if err := os.Remove(abs); err != nil {
		return "", fmt.Errorf("docstore: delete %s: %w", repoPath, err)
	}
	return commitID(repoPath, expectedHash), nil
}

// Move renames the file in one step; the copy-then-delete window of the
// GitHub backend does not exist here.
func (l *Local) Move(_ context.Context, oldPath, newPath, _ string, expectedHash string) (WriteResult, error) {
	oldRepo, absOld, err := l.docFile(oldPath)
	if err != nil {
		return WriteResult{}, err
	}
	newRepo, absNew, err := l.docFile(newPath)
	if err != nil {
		return WriteResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := os.ReadFile(absOld)
	if errors.Is(err, fs.ErrNotExist) {
		return WriteResult{}, fmt.Errorf("docstore: move %s: %w", oldRepo, apperr.ErrNotFound)
	}
	if err != nil {
		return WriteResult{}, fmt.Errorf("docstore: read %s: %w", oldRepo, err)
	}
	if current := checksum.GitBlob(data); expectedHash != "" && expectedHash != current {
		return WriteResult{}, &apperr.ConflictError{ExpectedHash: expectedHash, CurrentHash: current, Remote: true}
	}
	if _, err := os.Stat(absNew); err == nil {
		return WriteResult{}, fmt.Errorf("docstore: move to %s: %w", newRepo, apperr.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("docstore: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return WriteResult{}, fmt.Errorf("docstore: move: %w", err)
	}
	return l.result(newRepo, data), nil
}

// List walks the content directory and returns every .md document.
func (l *Local) List(_ context.Context) ([]Entry, error) {
	base := l.ContentDir()
	var out []Entry
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && p == base {
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		logical, ok := l.layout.Logical(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, Entry{Path: logical, Hash: checksum.GitBlob(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	return out, nil
}

// RawURL returns baseURL + "/raw/" + p.
func (l *Local) RawURL(p string) string {
	return l.baseURL + "/raw/" + strings.TrimPrefix(p, "/")
}

func (l *Local) checkHash(repoPath, abs, expectedHash string) error {
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("docstore: %s: %w", repoPath, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("docstore: read %s: %w", repoPath, err)
	}
	if current := checksum.GitBlob(data); current != expectedHash {
		return &apperr.ConflictError{ExpectedHash: expectedHash, CurrentHash: current, Remote: true}
	}
	return nil
}

func (l *Local) write(abs string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("docstore: mkdir: %w", err)
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("docstore: write: %w", err)
	}
	return nil
}

func (l *Local) result(repoPath string, content []byte) WriteResult {
	hash := checksum.GitBlob(content)
	return WriteResult{Hash: hash, CommitHash: commitID(repoPath, hash), URL: l.RawURL(repoPath)}
}

// commitID fabricates a stable-looking commit id; the local backend has no history.
func commitID(repoPath, hash string) string {
	return checksum.GitBlob([]byte(repoPath + "\x00" + hash + "\x00" + strconv.FormatInt(time.Now().UnixNano(), 10)))
}
