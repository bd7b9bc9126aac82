package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"

	"github.com/starford/xwiki/internal/apperr"
)

// GitHubConfig configures the GitHub contents-API backend.
type GitHubConfig struct {
	Token  string
	Owner  string
	Repo   string
	Branch string
	// BaseURL selects a GitHub Enterprise API endpoint. Empty means api.github.com.
	BaseURL    string
	Layout     Layout
	HTTPClient *http.Client
}

// GitHub stores documents in a GitHub repository through the contents API.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	branch string
	layout Layout
}

// NewGitHub creates a GitHub-backed store. An empty token yields an
// unauthenticated client that can only read public repositories.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("docstore: github owner and repo are required: %w", apperr.ErrInvalidInput)
	}
	client := github.NewClient(cfg.HTTPClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("docstore: github base url: %w", err)
		}
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	return &GitHub{client: client, owner: cfg.Owner, repo: cfg.Repo, branch: branch, layout: cfg.Layout}, nil
}

func (g *GitHub) Get(ctx context.Context, p string) (*Document, bool, error) {
	repoPath, err := g.layout.DocPath(p)
	if err != nil {
		return nil, false, err
	}
	fc, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, repoPath,
		&github.RepositoryContentGetOptions{Ref: g.branch})
	if err != nil {
		if statusOf(resp, err) == http.StatusNotFound {
			slog.Warn("docstore: file not found", slog.String("path", repoPath))
			return nil, false, nil
		}
		return nil, false, remoteErr("get", repoPath, resp, err)
	}
	if fc == nil {
		// A directory listing at a document path.
		return nil, false, nil
	}
	content, err := fc.GetContent()
	if err != nil {
		return nil, false, remoteErr("get", repoPath, resp, fmt.Errorf("decode content: %w", err))
	}
	return &Document{
		Path:    p,
		Content: []byte(content),
		Hash:    fc.GetSHA(),
		URL:     fc.GetHTMLURL(),
	}, true, nil
}

func (g *GitHub) Create(ctx context.Context, p string, content []byte, message string) (WriteResult, error) {
	repoPath, err := g.layout.DocPath(p)
	if err != nil {
		return WriteResult{}, err
	}
	return g.create(ctx, repoPath, content, message)
}

func (g *GitHub) CreateBinary(ctx context.Context, p string, data []byte, message string) (WriteResult, error) {
	repoPath, err := cleanPath(p)
	if err != nil {
		return WriteResult{}, err
	}
	return g.create(ctx, repoPath, data, message)
}

func (g *GitHub) create(ctx context.Context, repoPath string, content []byte, message string) (WriteResult, error) {
	res, resp, err := g.client.Repositories.CreateFile(ctx, g.owner, g.repo, repoPath, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: content,
		Branch:  github.Ptr(g.branch),
	})
	if err != nil {
		// The contents API answers 422 when a create omits the sha of an existing file.
		if statusOf(resp, err) == http.StatusUnprocessableEntity {
			return WriteResult{}, fmt.Errorf("docstore: create %s: %w", repoPath, apperr.ErrAlreadyExists)
		}
		slog.Error("docstore: create failed", slog.String("path", repoPath), slog.Any("err", err))
		return WriteResult{}, remoteErr("create", repoPath, resp, err)
	}
	slog.Info("docstore: file created", slog.String("path", repoPath), slog.String("sha", res.GetContent().GetSHA()))
	return writeResult(res), nil
}

func (g *GitHub) Update(ctx context.Context, p string, content []byte, message, expectedHash string) (WriteResult, error) {
	repoPath, err := g.layout.DocPath(p)
	if err != nil {
		return WriteResult{}, err
	}
	res, resp, err := g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, repoPath, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: content,
		SHA:     github.Ptr(expectedHash),
		Branch:  github.Ptr(g.branch),
	})
	if err != nil {
		if statusOf(resp, err) == http.StatusConflict {
			slog.Warn("docstore: conflict", slog.String("path", repoPath), slog.String("sha", expectedHash))
			return WriteResult{}, &apperr.ConflictError{ExpectedHash: expectedHash, Remote: true}
		}
		slog.Error("docstore: update failed", slog.String("path", repoPath), slog.Any("err", err))
		return WriteResult{}, remoteErr("update", repoPath, resp, err)
	}
	slog.Info("docstore: file updated", slog.String("path", repoPath),
		slog.String("old_sha", expectedHash), slog.String("new_sha", res.GetContent().GetSHA()))
	return writeResult(res), nil
}

func (g *GitHub) Delete(ctx context.Context, p, message, expectedHash string) (string, error) {
	repoPath, err := g.layout.DocPath(p)
	if err != nil {
		return "", err
	}
	res, resp, err := g.client.Repositories.DeleteFile(ctx, g.owner, g.repo, repoPath, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		SHA:     github.Ptr(expectedHash),
		Branch:  github.Ptr(g.branch),
	})
	if err != nil {
		switch statusOf(resp, err) {
		case http.StatusConflict:
			return "", &apperr.ConflictError{ExpectedHash: expectedHash, Remote: true}
		case http.StatusNotFound:
			return "", fmt.Errorf("docstore: delete %s: %w", repoPath, apperr.ErrNotFound)
		}
		slog.Error("docstore: delete failed", slog.String("path", repoPath), slog.Any("err", err))
		return "", remoteErr("delete", repoPath, resp, err)
	}
	slog.Info("docstore: file deleted", slog.String("path", repoPath), slog.String("sha", expectedHash))
	return res.Commit.GetSHA(), nil
}

// Move copies oldPath to newPath and then deletes oldPath in two separate
// commits. If the delete fails after the copy was committed the returned
// error is a *apperr.PartialMoveError and both files exist.
func (g *GitHub) Move(ctx context.Context, oldPath, newPath, message, expectedHash string) (WriteResult, error) {
	doc, found, err := g.Get(ctx, oldPath)
	if err != nil {
		return WriteResult{}, err
	}
	if !found {
		return WriteResult{}, fmt.Errorf("docstore: move %s: %w", oldPath, apperr.ErrNotFound)
	}
	base := expectedHash
	if base == "" {
		base = doc.Hash
	}
	if base != doc.Hash {
		return WriteResult{}, &apperr.ConflictError{ExpectedHash: base, CurrentHash: doc.Hash, Remote: true}
	}
	res, err := g.Create(ctx, newPath, doc.Content, message)
	if err != nil {
		return WriteResult{}, err
	}
	if _, err := g.Delete(ctx, oldPath, "Moved to "+newPath, base); err != nil {
		slog.Error("docstore: move left both copies", slog.String("from", oldPath), slog.String("to", newPath), slog.Any("err", err))
		return res, &apperr.PartialMoveError{From: oldPath, To: newPath, Err: err}
	}
	return res, nil
}

// List walks the branch tree recursively and returns every document under the
// content root.
func (g *GitHub) List(ctx context.Context) ([]Entry, error) {
	tree, resp, err := g.client.Git.GetTree(ctx, g.owner, g.repo, g.branch, true)
	if err != nil {
		return nil, remoteErr("list", g.layout.Root, resp, err)
	}
	if tree.GetTruncated() {
		slog.Warn("docstore: tree listing truncated", slog.String("branch", g.branch))
	}
	var out []Entry
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		logical, ok := g.layout.Logical(e.GetPath())
		if !ok {
			continue
		}
		out = append(out, Entry{Path: logical, Hash: e.GetSHA()})
	}
	return out, nil
}

// RawURL returns the raw.githubusercontent.com URL of a repository file.
func (g *GitHub) RawURL(p string) string {
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", g.owner, g.repo, g.branch, strings.Join(segs, "/"))
}

func writeResult(res *github.RepositoryContentResponse) WriteResult {
	return WriteResult{
		Hash:       res.GetContent().GetSHA(),
		CommitHash: res.Commit.GetSHA(),
		URL:        res.GetContent().GetHTMLURL(),
	}
}

func statusOf(resp *github.Response, err error) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	return 0
}

func remoteErr(op, p string, resp *github.Response, err error) error {
	return &apperr.RemoteError{Op: op, Path: p, Status: statusOf(resp, err), Err: err}
}
