package docstore

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/checksum"
)

func TestGitHub_CreateGetUpdate(t *testing.T) {
	fake, g := newFakeGitHub(t)
	ctx := context.Background()

	res, err := g.Create(ctx, "test/page", []byte("v1"), "Create page: test/page")
	require.NoError(t, err)
	assert.Equal(t, checksum.GitBlob([]byte("v1")), res.Hash)
	assert.NotEmpty(t, res.CommitHash)
	assert.Contains(t, res.URL, "content/test/page.md")
	assert.True(t, fake.has("content/test/page.md"))

	doc, found, err := g.Get(ctx, "test/page")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1", string(doc.Content))
	assert.Equal(t, res.Hash, doc.Hash)

	up, err := g.Update(ctx, "test/page", []byte("v2"), "Update page", doc.Hash)
	require.NoError(t, err)
	assert.Equal(t, checksum.GitBlob([]byte("v2")), up.Hash)
}

func TestGitHub_GetMissingIsNotAnError(t *testing.T) {
	_, g := newFakeGitHub(t)
	doc, found, err := g.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)
}

func TestGitHub_CreateExisting(t *testing.T) {
	fake, g := newFakeGitHub(t)
	fake.put("content/a.md", []byte("x"))
	_, err := g.Create(context.Background(), "a", []byte("y"), "msg")
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestGitHub_UpdateStaleHashConflicts(t *testing.T) {
	fake, g := newFakeGitHub(t)
	fake.put("content/a.md", []byte("current"))
	_, err := g.Update(context.Background(), "a", []byte("new"), "msg", checksum.GitBlob([]byte("old")))
	require.ErrorIs(t, err, apperr.ErrConflict)
	var ce *apperr.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Remote)
	assert.False(t, errors.Is(err, apperr.ErrRemoteStore))
}

func TestGitHub_ServerErrorIsRemoteError(t *testing.T) {
	fake, g := newFakeGitHub(t)
	fake.failStatus = http.StatusBadGateway
	_, err := g.Create(context.Background(), "a", []byte("y"), "msg")
	require.ErrorIs(t, err, apperr.ErrRemoteStore)
	var re *apperr.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadGateway, re.Status)
	assert.Equal(t, "content/a.md", re.Path)
}

func TestGitHub_Delete(t *testing.T) {
	fake, g := newFakeGitHub(t)
	hash := fake.put("content/a.md", []byte("x"))
	_, err := g.Delete(context.Background(), "a", "Delete page: a", hash)
	require.NoError(t, err)
	assert.False(t, fake.has("content/a.md"))
}

func TestGitHub_MoveSoftDeletePath(t *testing.T) {
	fake, g := newFakeGitHub(t)
	hash := fake.put("content/x/y.md", []byte("body"))

	res, err := g.Move(context.Background(), "x/y", "archived/x/y", "Archive page: x/y", hash)
	require.NoError(t, err)
	assert.Equal(t, hash, res.Hash)
	assert.False(t, fake.has("content/x/y.md"))
	assert.True(t, fake.has("content/archived/x/y.md"))
}

func TestGitHub_MovePartialFailure(t *testing.T) {
	fake, g := newFakeGitHub(t)
	hash := fake.put("content/x.md", []byte("body"))
	fake.failDelete = true

	_, err := g.Move(context.Background(), "x", "archived/x", "Archive page: x", hash)
	require.ErrorIs(t, err, apperr.ErrPartialMove)
	var pm *apperr.PartialMoveError
	require.True(t, errors.As(err, &pm))
	assert.Equal(t, "archived/x", pm.To)
	assert.True(t, fake.has("content/x.md"), "source must remain")
	assert.True(t, fake.has("content/archived/x.md"), "copy must remain")
}

func TestGitHub_MoveStaleHash(t *testing.T) {
	fake, g := newFakeGitHub(t)
	fake.put("content/x.md", []byte("body"))
	_, err := g.Move(context.Background(), "x", "archived/x", "msg", "stale")
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.False(t, fake.has("content/archived/x.md"))
}

func TestGitHub_CreateBinaryKeepsPath(t *testing.T) {
	fake, g := newFakeGitHub(t)
	_, err := g.CreateBinary(context.Background(), "images/a.png", []byte{0x89, 'P', 'N', 'G'}, "Upload image")
	require.NoError(t, err)
	assert.True(t, fake.has("images/a.png"))
	assert.Equal(t, "https://raw.githubusercontent.com/owner/wiki/main/images/a.png", g.RawURL("images/a.png"))
}

func TestGitHub_List(t *testing.T) {
	fake, g := newFakeGitHub(t)
	fake.put("content/a.md", []byte("a"))
	fake.put("content/sub/b.md", []byte("b"))
	fake.put("images/c.png", []byte("c"))
	fake.put("README.md", []byte("r"))

	entries, err := g.List(context.Background())
	require.NoError(t, err)
	got := map[string]string{}
	for _, e := range entries {
		got[e.Path] = e.Hash
	}
	assert.Equal(t, map[string]string{
		"a":     checksum.GitBlob([]byte("a")),
		"sub/b": checksum.GitBlob([]byte("b")),
	}, got)
}

func TestNewGitHub_RequiresRepository(t *testing.T) {
	_, err := NewGitHub(GitHubConfig{Owner: "owner"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}
