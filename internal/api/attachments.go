package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/xwiki/internal/assets"
)

// multipart overhead allowed on top of the file itself
const multipartSlack = 64 << 10

// AttachmentHandler accepts image uploads and, for the local document store,
// serves committed binaries.
type AttachmentHandler struct {
	uploader *assets.Uploader
	rawRoot  string
}

// NewAttachmentHandler creates a handler. rawRoot is the local store root;
// empty disables raw serving.
func NewAttachmentHandler(uploader *assets.Uploader, rawRoot string) *AttachmentHandler {
	return &AttachmentHandler{uploader: uploader, rawRoot: rawRoot}
}

// Upload handles POST /api/upload/image (multipart/form-data, field "file").
//
//	@Summary		Upload an image
//	@Tags			upload
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"jpeg, png, gif or webp; at most 2 MB"
//	@Success		201		{object}	assets.Result
//	@Failure		400		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Router			/upload/image [post]
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, assets.MaxImageSize+multipartSlack)
	if err := r.ParseMultipartForm(assets.MaxImageSize + multipartSlack); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, fmt.Errorf("upload: %w", assets.ErrTooLarge), codes{})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody(CodeInvalidInput, "invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(CodeInvalidInput, "missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, assets.MaxImageSize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(CodeInvalidInput, "failed to read file"))
		return
	}
	res, err := h.uploader.Upload(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, r, err, codes{})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ServeRaw handles GET /raw/*. Only uploaded images are served; the rest of
// the working tree stays private.
func (h *AttachmentHandler) ServeRaw(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
	if !assets.IsUploadPath(rel) {
		http.NotFound(w, r)
		return
	}
	abs := filepath.Join(h.rawRoot, filepath.FromSlash(rel))
	if info, err := os.Lstat(abs); err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}
