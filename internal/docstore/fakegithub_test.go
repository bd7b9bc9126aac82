package docstore

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/starford/xwiki/internal/checksum"
)

const repoPrefix = "/api/v3/repos/owner/wiki/"

// fakeGitHub is an in-memory subset of the GitHub contents and trees APIs.
type fakeGitHub struct {
	mu         sync.Mutex
	files      map[string][]byte
	commits    int
	failDelete bool
	failStatus int
}

type fakeFileBody struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *GitHub) {
	t.Helper()
	f := &fakeGitHub{files: map[string][]byte{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	g, err := NewGitHub(GitHubConfig{
		Token:   "test-token",
		Owner:   "owner",
		Repo:    "wiki",
		Branch:  "main",
		BaseURL: srv.URL + "/",
		Layout:  Layout{Root: "content"},
	})
	if err != nil {
		t.Fatalf("NewGitHub: %v", err)
	}
	return f, g
}

func (f *fakeGitHub) put(path string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
	return checksum.GitBlob(data)
}

func (f *fakeGitHub) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failStatus != 0 {
		writeJSON(w, f.failStatus, map[string]string{"message": "injected failure"})
		return
	}
	rest, ok := strings.CutPrefix(r.URL.Path, repoPrefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if rest == "git/trees/main" {
		var entries []map[string]any
		for p, data := range f.files {
			entries = append(entries, map[string]any{"path": p, "type": "blob", "sha": checksum.GitBlob(data)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sha": "tree", "tree": entries, "truncated": false})
		return
	}
	path, ok := strings.CutPrefix(rest, "contents/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, exists := f.files[path]

	switch r.Method {
	case http.MethodGet:
		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"path":     path,
			"content":  base64.StdEncoding.EncodeToString(data),
			"sha":      checksum.GitBlob(data),
			"html_url": "https://github.com/owner/wiki/blob/main/" + path,
		})
	case http.MethodPut:
		var body fakeFileBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch {
		case exists && body.SHA == "":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": `Invalid request. "sha" wasn't supplied.`})
			return
		case exists && body.SHA != checksum.GitBlob(data):
			writeJSON(w, http.StatusConflict, map[string]string{"message": "sha does not match"})
			return
		case !exists && body.SHA != "":
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		content, _ := base64.StdEncoding.DecodeString(body.Content)
		f.files[path] = content
		f.commits++
		status := http.StatusOK
		if !exists {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{
			"content": map[string]any{
				"path":     path,
				"sha":      checksum.GitBlob(content),
				"html_url": "https://github.com/owner/wiki/blob/main/" + path,
			},
			"commit": map[string]any{"sha": "commit-" + checksum.GitBlob(content)[:8]},
		})
	case http.MethodDelete:
		var body fakeFileBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.failDelete {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "server error"})
			return
		}
		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		if body.SHA != checksum.GitBlob(data) {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "sha does not match"})
			return
		}
		delete(f.files, path)
		f.commits++
		writeJSON(w, http.StatusOK, map[string]any{"content": nil, "commit": map[string]any{"sha": "commit-delete"}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
