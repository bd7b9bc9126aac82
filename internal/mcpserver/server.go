// Package mcpserver exposes wiki tools to LLM clients over the Model Context
// Protocol (stdio transport).
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/assets"
	"github.com/starford/xwiki/internal/pages"
	"github.com/starford/xwiki/internal/search"
)

const formatURI = "xwiki://page-format"

// Server wraps the MCP server with wiki tools.
type Server struct {
	mcp      *server.MCPServer
	pages    *pages.Service
	search   *search.Service
	uploader *assets.Uploader
}

// New creates an MCP server with all tools registered.
func New(p *pages.Service, s *search.Service, u *assets.Uploader, version string) *Server {
	srv := &Server{pages: p, search: s, uploader: u}

	srv.mcp = server.NewMCPServer(
		"xwiki",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	srv.mcp.AddTool(mcp.NewTool("search_pages",
		mcp.WithDescription("Search wiki pages by title and content similarity."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithString("project_id", mcp.Description("Restrict to a project")),
		mcp.WithString("category", mcp.Description("Restrict to a category")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20, max 100)")),
	), srv.searchPages)

	srv.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read a page with its metadata, tags, github_sha and related pages."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Page slug, e.g. lore/elves")),
	), srv.readPage)

	srv.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a wiki page. Read the format guide first via get_page_format "+
			"or the "+formatURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Page title")),
		mcp.WithString("content", mcp.Description("Markdown body without a YAML header")),
		mcp.WithString("slug", mcp.Description("Slug; derived from the title when omitted")),
		mcp.WithString("category", mcp.Description("Category")),
		mcp.WithString("author", mcp.Description("Author name")),
		mcp.WithString("project_id", mcp.Description("Project key; the default project when omitted")),
		mcp.WithString("summary", mcp.Description("One-line summary")),
		mcp.WithString("status", mcp.Description("active, draft or archived")),
		mcp.WithArray("tags", mcp.Description("Tag names"), mcp.WithStringItems()),
	), srv.createPage)

	srv.mcp.AddTool(mcp.NewTool("update_page",
		mcp.WithDescription("Update fields of a page. Omitted fields are unchanged. Pass the github_sha "+
			"from read_page as expected_sha to detect concurrent edits."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Page slug")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("content", mcp.Description("New Markdown body")),
		mcp.WithString("category", mcp.Description("New category")),
		mcp.WithString("summary", mcp.Description("New summary")),
		mcp.WithString("status", mcp.Description("active, draft or archived")),
		mcp.WithArray("tags", mcp.Description("Replacement tag list; an empty list clears tags"), mcp.WithStringItems()),
		mcp.WithString("expected_sha", mcp.Description("github_sha the edit is based on")),
		mcp.WithBoolean("force", mcp.Description("Overwrite without the concurrency check")),
	), srv.updatePage)

	srv.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List all tags with usage counts, most used first."),
	), srv.listTags)

	srv.mcp.AddTool(mcp.NewTool("get_page_format",
		mcp.WithDescription("Returns the page format guide. Call this before creating or updating pages."),
	), srv.getPageFormat)

	srv.mcp.AddTool(mcp.NewTool("upload_image",
		mcp.WithDescription("Upload an image from an http(s) URL or a base64 data URI. "+
			"Returns a markdownImage field ready to paste into a page body."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/...;base64,... URI")),
		mcp.WithString("filename", mcp.Description("Name hint used for the extension")),
	), srv.uploadImage)

	srv.mcp.AddResource(
		mcp.NewResource(formatURI, "Page Format",
			mcp.WithResourceDescription("Stored page format and editing rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		srv.readPageFormatResource,
	)

	return srv
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError turns a service error into a tool error result. Conflicts carry
// the current hash and content so the caller can merge.
func toolError(err error) *mcp.CallToolResult {
	var conflict *apperr.ConflictError
	switch {
	case errors.As(err, &conflict) && !conflict.Remote:
		return mcp.NewToolResultError(fmt.Sprintf(
			"conflict: page changed since %s (current github_sha %s, last editor %q). Current content:\n\n%s",
			conflict.ExpectedHash, conflict.CurrentHash, conflict.LastEditor, conflict.CurrentContent))
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError("conflict: the document store rejected the write; read the page again and retry")
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError("already exists: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) searchPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.search.Search(ctx, search.Query{
		Q:         query,
		ProjectID: req.GetString("project_id", ""),
		Category:  req.GetString("category", ""),
		Limit:     req.GetInt("limit", 0),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.pages.Get(ctx, slug)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(page)
}

func (s *Server) createPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.pages.Create(ctx, pages.CreateInput{
		Slug:      req.GetString("slug", ""),
		Title:     title,
		Content:   req.GetString("content", ""),
		Category:  req.GetString("category", ""),
		Author:    req.GetString("author", ""),
		ProjectID: req.GetString("project_id", ""),
		Summary:   req.GetString("summary", ""),
		Status:    req.GetString("status", ""),
		Tags:      req.GetStringSlice("tags", nil),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(page)
}

func (s *Server) updatePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	optional := func(key string) *string {
		if _, ok := args[key]; !ok {
			return nil
		}
		v := req.GetString(key, "")
		return &v
	}
	in := pages.UpdateInput{
		Title:        optional("title"),
		Content:      optional("content"),
		Category:     optional("category"),
		Summary:      optional("summary"),
		Status:       optional("status"),
		ExpectedHash: req.GetString("expected_sha", ""),
		Force:        req.GetBool("force", false),
	}
	if _, ok := args["tags"]; ok {
		tags := req.GetStringSlice("tags", []string{})
		in.Tags = &tags
	}
	page, err := s.pages.Update(ctx, slug, in)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(page)
}

func (s *Server) listTags(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.pages.ListTags(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(tags)
}

func (s *Server) getPageFormat(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PageFormatContract), nil
}

func (s *Server) readPageFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}
