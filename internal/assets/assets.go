// Package assets validates uploaded images and commits them to the document
// store under generated names.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/xwiki/internal/docstore"
)

// MaxImageSize is the largest accepted upload.
const MaxImageSize = 2 << 20 // 2 MB

// Dir is the repository directory uploads are committed under.
const Dir = "images"

var (
	ErrTooLarge    = errors.New("file too large")
	ErrInvalidType = errors.New("invalid file type")
)

var allowedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
}

// MIMEExtensions maps the accepted image content types to the extension
// uploads of that type are stored with.
var MIMEExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// IsUploadPath reports whether the repository path p can name an upload:
// a file directly under Dir with an accepted extension and no leading dot.
func IsUploadPath(p string) bool {
	dir, name := path.Split(p)
	if dir != Dir+"/" || name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return allowedExtensions[strings.ToLower(path.Ext(name))]
}

// Result describes a committed upload.
type Result struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	Hash     string `json:"sha"`
}

// Uploader commits images to a document store.
type Uploader struct {
	store docstore.Store
	now   func() time.Time
}

// NewUploader creates an uploader writing to store.
func NewUploader(store docstore.Store) *Uploader {
	return &Uploader{store: store, now: time.Now}
}

// Upload validates data against the name's extension and commits it as
// images/<timestamp>_<id>.<ext>.
func (u *Uploader) Upload(ctx context.Context, name string, data []byte) (*Result, error) {
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("assets: %d bytes (max %d): %w", len(data), MaxImageSize, ErrTooLarge)
	}
	ext := strings.ToLower(path.Ext(name))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("assets: extension %q (allowed: jpg, jpeg, png, gif, webp): %w", ext, ErrInvalidType)
	}
	if err := validateMagicBytes(data, ext); err != nil {
		return nil, err
	}

	filename := u.now().UTC().Format("20060102_150405") + "_" + uuid.NewString()[:8] + ext
	repoPath := path.Join(Dir, filename)
	res, err := u.store.CreateBinary(ctx, repoPath, data, "Upload image "+filename)
	if err != nil {
		return nil, fmt.Errorf("assets: upload %s: %w", filename, err)
	}
	slog.Info("assets: uploaded", slog.String("path", repoPath), slog.Int("size", len(data)))
	return &Result{
		URL:      u.store.RawURL(repoPath),
		Path:     repoPath,
		Filename: filename,
		Size:     len(data),
		Hash:     res.Hash,
	}, nil
}

// validateMagicBytes verifies file content matches the declared extension.
func validateMagicBytes(data []byte, ext string) error {
	detected := http.DetectContentType(data)
	want := MIMEExtensions[strings.Split(detected, ";")[0]]
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	if want != ext {
		return fmt.Errorf("assets: content does not match extension %s (detected: %s): %w", ext, detected, ErrInvalidType)
	}
	return nil
}
