package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/assets"
)

// Error codes.
const (
	CodePageNotFound    = "PAGE_NOT_FOUND"
	CodeTagNotFound     = "TAG_NOT_FOUND"
	CodeProjectNotFound = "PROJECT_NOT_FOUND"
	CodeSlugExists      = "SLUG_EXISTS"
	CodeProjectExists   = "PROJECT_EXISTS"
	CodeConflict        = "CONFLICT"
	CodeGitHubError     = "GITHUB_ERROR"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeInternal        = "INTERNAL_ERROR"
)

// retryAfterSeconds is suggested to clients after a remote store failure.
const retryAfterSeconds = 5

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.Any("err", err))
	}
}

type errResponse struct {
	Error          string         `json:"error" validate:"required"`
	Code           string         `json:"code" validate:"required"`
	Details        map[string]any `json:"details,omitempty"`
	CurrentContent *string        `json:"current_content,omitempty"`
	RetryAfter     int            `json:"retry_after,omitempty"`
}

func errorBody(code, msg string) errResponse {
	return errResponse{Error: msg, Code: code}
}

// codes names the resource-specific codes of one endpoint.
type codes struct {
	notFound string
	exists   string
}

var (
	pageCodes    = codes{notFound: CodePageNotFound, exists: CodeSlugExists}
	tagCodes     = codes{notFound: CodeTagNotFound}
	projectCodes = codes{notFound: CodeProjectNotFound, exists: CodeProjectExists}
)

// writeError maps err onto a status and the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error, c codes) {
	var conflict *apperr.ConflictError
	var remote *apperr.RemoteError
	switch {
	case errors.Is(err, apperr.ErrRemoteStore):
		slog.Error("remote store failure", slog.String("path", r.URL.Path), slog.Any("err", err))
		body := errorBody(CodeGitHubError, "the document store request failed")
		if errors.Is(err, apperr.ErrPartialMove) {
			body.Error = "the archived copy was written but the original could not be removed"
		}
		if errors.As(err, &remote) && remote.Status > 0 {
			body.Details = map[string]any{"status": remote.Status}
		}
		body.RetryAfter = retryAfterSeconds
		writeJSON(w, http.StatusBadGateway, body)
	case errors.As(err, &conflict):
		body := errorBody(CodeConflict, "the page was modified by someone else")
		if conflict.Remote {
			body.Error = "the remote store rejected the write as conflicting"
		} else {
			body.Details = map[string]any{
				"your_sha":       conflict.ExpectedHash,
				"current_sha":    conflict.CurrentHash,
				"last_editor":    conflict.LastEditor,
				"last_edited_at": conflict.LastEditedAt.UTC().Format(time.RFC3339),
			}
			body.CurrentContent = &conflict.CurrentContent
		}
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, apperr.ErrNotFound) && c.notFound != "":
		writeJSON(w, http.StatusNotFound, errorBody(c.notFound, "not found"))
	case errors.Is(err, apperr.ErrAlreadyExists) && c.exists != "":
		writeJSON(w, http.StatusConflict, errorBody(c.exists, "already exists"))
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(CodeInvalidInput, err.Error()))
	case errors.Is(err, assets.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(CodeFileTooLarge, err.Error()))
	case errors.Is(err, assets.ErrInvalidType):
		writeJSON(w, http.StatusBadRequest, errorBody(CodeInvalidFileType, err.Error()))
	default:
		slog.Error("request failed", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorBody(CodeInternal, "internal error"))
	}
}
