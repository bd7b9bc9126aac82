package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/checksum"
)

func tempStore(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), Layout{Root: "content"}, "http://localhost:8080")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l
}

func TestLocal_CreateAndGet(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	content := []byte("# Hello\nWorld\n")
	res, err := s.Create(ctx, "guides/setup", content, "create")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Hash != checksum.GitBlob(content) {
		t.Errorf("hash = %s, want git blob id", res.Hash)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "content", "guides", "setup.md")); err != nil {
		t.Errorf("file not written under content root: %v", err)
	}
	doc, found, err := s.Get(ctx, "guides/setup")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if string(doc.Content) != string(content) || doc.Hash != res.Hash {
		t.Errorf("doc = %+v", doc)
	}
}

func TestLocal_GetMissing(t *testing.T) {
	s := tempStore(t)
	_, found, err := s.Get(context.Background(), "missing")
	if err != nil || found {
		t.Errorf("found=%v err=%v, want not found without error", found, err)
	}
}

func TestLocal_CreateExisting(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	_, _ = s.Create(ctx, "a", []byte("1"), "")
	if _, err := s.Create(ctx, "a", []byte("2"), ""); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestLocal_UpdateHashCheck(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	res, _ := s.Create(ctx, "a", []byte("1"), "")

	if _, err := s.Update(ctx, "a", []byte("2"), "", "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	up, err := s.Update(ctx, "a", []byte("2"), "", res.Hash)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.Hash != checksum.GitBlob([]byte("2")) {
		t.Errorf("hash = %s", up.Hash)
	}
	if _, err := s.Update(ctx, "missing", []byte("2"), "", res.Hash); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLocal_Delete(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	res, _ := s.Create(ctx, "del", []byte("bye"), "")
	if _, err := s.Delete(ctx, "del", "", "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if _, err := s.Delete(ctx, "del", "", res.Hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := s.Get(ctx, "del"); found {
		t.Error("expected document to be gone")
	}
}

func TestLocal_Move(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	res, _ := s.Create(ctx, "x/y", []byte("data"), "")
	if _, err := s.Move(ctx, "x/y", "archived/x/y", "", res.Hash); err != nil {
		t.Fatalf("Move: %v", err)
	}
	doc, found, _ := s.Get(ctx, "archived/x/y")
	if !found || string(doc.Content) != "data" {
		t.Errorf("moved doc = %+v found=%v", doc, found)
	}
	if _, found, _ := s.Get(ctx, "x/y"); found {
		t.Error("old path should not exist")
	}
}

func TestLocal_MoveOntoExisting(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	res, _ := s.Create(ctx, "x", []byte("one"), "")
	_, _ = s.Create(ctx, "archived/x", []byte("two"), "")
	if _, err := s.Move(ctx, "x", "archived/x", "", res.Hash); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestLocal_List(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	_, _ = s.Create(ctx, "a", []byte("a"), "")
	_, _ = s.Create(ctx, "sub/b", []byte("b"), "")
	_, _ = s.CreateBinary(ctx, "images/c.png", []byte("c"), "")
	_ = os.WriteFile(filepath.Join(s.ContentDir(), "readme.txt"), []byte("not md"), 0o644)

	items, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len = %d, want 2 (%v)", len(items), items)
	}
}

func TestLocal_ListEmptyRepository(t *testing.T) {
	s := tempStore(t)
	items, err := s.List(context.Background())
	if err != nil || len(items) != 0 {
		t.Errorf("items=%v err=%v", items, err)
	}
}

func TestLocal_TraversalBlocked(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	for _, p := range []string{"../../etc/passwd", "../outside", ".."} {
		if _, err := s.Create(ctx, p, []byte("x"), ""); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Create(%q) err = %v, want ErrInvalidInput", p, err)
		}
	}
	if _, err := s.CreateBinary(ctx, "../../x.png", []byte("x"), ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("CreateBinary err = %v", err)
	}
}

func TestLocal_RawURL(t *testing.T) {
	s := tempStore(t)
	if got := s.RawURL("images/a.png"); got != "http://localhost:8080/raw/images/a.png" {
		t.Errorf("RawURL = %q", got)
	}
}

func TestNewLocal_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "xwiki-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewLocal(f.Name(), Layout{}, ""); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestCanonicalSlug(t *testing.T) {
	l := Layout{Root: "content"}
	cases := map[string]string{
		"guides//setup": "guides/setup",
		"notes/x.md":    "notes/x",
		"/lead/":        "lead",
		" a/./b ":       "a/b",
		"twice.md.md":   "twice",
	}
	for in, want := range cases {
		got, err := CanonicalSlug(in)
		if err != nil || got != want {
			t.Errorf("CanonicalSlug(%q) = %q, %v; want %q", in, got, err, want)
			continue
		}
		repoPath, err := l.DocPath(got)
		if err != nil {
			t.Fatal(err)
		}
		if logical, ok := l.Logical(repoPath); !ok || logical != got {
			t.Errorf("%q does not round-trip through %q: got %q", got, repoPath, logical)
		}
	}
	for _, bad := range []string{"", "/", "../x", ".md", "dir/.md"} {
		if _, err := CanonicalSlug(bad); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("CanonicalSlug(%q) err = %v, want invalid input", bad, err)
		}
	}
}

func TestLayout(t *testing.T) {
	l := Layout{Root: "content"}
	cases := map[string]string{
		"test/page":  "content/test/page.md",
		"/lead":      "content/lead.md",
		"already.md": "content/already.md",
		"a/./b":      "content/a/b.md",
	}
	for in, want := range cases {
		got, err := l.DocPath(in)
		if err != nil || got != want {
			t.Errorf("DocPath(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if logical, ok := l.Logical("content/test/page.md"); !ok || logical != "test/page" {
		t.Errorf("Logical = %q, %v", logical, ok)
	}
	for _, p := range []string{"images/a.png", "content/a.txt", "other/a.md"} {
		if _, ok := l.Logical(p); ok {
			t.Errorf("Logical(%q) should be rejected", p)
		}
	}
}
