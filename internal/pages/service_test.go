package pages

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/cache"
	"github.com/starford/xwiki/internal/docstore"
	"github.com/starford/xwiki/internal/markdown"
	"github.com/starford/xwiki/internal/models"
	"github.com/starford/xwiki/internal/testutil"
)

// failingStore wraps a Store and fails selected operations.
type failingStore struct {
	docstore.Store
	failCreate bool
	failMove   error
}

var errRemoteDown = &apperr.RemoteError{Op: "create", Status: 502, Err: errors.New("bad gateway")}

func (f *failingStore) Create(ctx context.Context, p string, content []byte, msg string) (docstore.WriteResult, error) {
	if f.failCreate {
		return docstore.WriteResult{}, errRemoteDown
	}
	return f.Store.Create(ctx, p, content, msg)
}

func (f *failingStore) Move(ctx context.Context, oldPath, newPath, msg, hash string) (docstore.WriteResult, error) {
	if f.failMove != nil {
		return docstore.WriteResult{}, f.failMove
	}
	return f.Store.Move(ctx, oldPath, newPath, msg, hash)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishPageEvent(kind, slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+slug)
}

type env struct {
	svc    *Service
	db     *cache.DB
	store  *docstore.Local
	events *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.TestDB(t)
	store := testutil.TestStore(t)
	rec := &recorder{}
	return &env{
		svc:    NewService(store, db, rec, Config{DefaultProject: testutil.DefaultProject}),
		db:     db,
		store:  store,
		events: rec,
	}
}

func tagUsage(t *testing.T, db *cache.DB, name string) int {
	t.Helper()
	tag, err := db.TagByName(context.Background(), name)
	require.NoError(t, err)
	return tag.UsageCount
}

func TestCreate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	page, err := e.svc.Create(ctx, CreateInput{
		Slug:    "test/page",
		Title:   "Test Page",
		Content: "# Heading\n\nBody",
		Author:  "alice",
		Tags:    []string{"race/elf", " race/elf "},
	})
	require.NoError(t, err)
	assert.NotZero(t, page.ID)
	assert.Equal(t, testutil.DefaultProject, page.ProjectID)
	assert.Equal(t, models.StatusActive, page.Status)
	assert.Equal(t, []string{"race/elf"}, page.Tags)
	assert.Contains(t, page.ContentHTML, "<h1>Heading</h1>")
	require.NotNil(t, page.LastSyncedAt)

	remote, found, err := e.store.Get(ctx, "test/page")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, remote.Hash, page.Hash, "cache hash must equal remote hash")

	doc, err := markdown.Parse(remote.Content)
	require.NoError(t, err)
	assert.Equal(t, "Test Page", doc.Title)
	assert.Equal(t, "# Heading\n\nBody", doc.Body)
	assert.Equal(t, []string{"race/elf"}, doc.Tags)

	assert.Equal(t, 1, tagUsage(t, e.db, "race/elf"))
	assert.Equal(t, []string{"created:test/page"}, e.events.events)
}

func TestCreateSlugFromTitle(t *testing.T) {
	e := newEnv(t)
	page, err := e.svc.Create(context.Background(), CreateInput{Title: "Elf Village"})
	require.NoError(t, err)
	assert.Equal(t, "elf-village", page.Slug)
}

func TestCreateCanonicalizesSlug(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tests := []struct {
		in, want string
	}{
		{"guides//setup", "guides/setup"},
		{"notes/x.md", "notes/x"},
		{"/lead/", "lead"},
		{"./a/./b", "a/b"},
		{"twice.md.md", "twice"},
	}
	for _, tt := range tests {
		page, err := e.svc.Create(ctx, CreateInput{Slug: tt.in, Title: tt.in})
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, page.Slug, tt.in)

		_, err = e.svc.Get(ctx, tt.want)
		require.NoError(t, err, tt.want)
		_, found, err := e.store.Get(ctx, tt.want)
		require.NoError(t, err)
		assert.True(t, found, tt.want)
	}

	_, err := e.svc.Create(ctx, CreateInput{Slug: "guides/setup.md", Title: "again"})
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)

	for _, bad := range []string{"../up", "a/../../up", ".md", "dir/.md"} {
		_, err := e.svc.Create(ctx, CreateInput{Slug: bad, Title: "bad"})
		require.ErrorIs(t, err, apperr.ErrInvalidInput, bad)
	}
}

func TestHardDeleteAfterExternalEdit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "p", Title: "P"})
	require.NoError(t, err)
	doc, _, err := e.store.Get(ctx, "p")
	require.NoError(t, err)
	_, err = e.store.Update(ctx, "p", []byte("edited elsewhere"), "edit", doc.Hash)
	require.NoError(t, err)

	for _, soft := range []bool{false, true} {
		_, err = e.svc.Delete(ctx, "p", soft)
		require.ErrorIs(t, err, apperr.ErrRemoteStore)
		var remote *apperr.RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, 409, remote.Status)
	}
	_, err = e.db.PageBySlug(ctx, "p")
	require.NoError(t, err)
}

func TestCreateDuplicateSlug(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "a", Title: "A"})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateInput{Slug: "a", Title: "A again"})
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "a"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = e.svc.Create(ctx, CreateInput{Title: "A", Status: "deleted"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = e.svc.Create(ctx, CreateInput{Title: "A", ProjectID: "nope"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCreateRemoteFailureLeavesNoRow(t *testing.T) {
	e := newEnv(t)
	svc := NewService(&failingStore{Store: e.store, failCreate: true}, e.db, nil, Config{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Slug: "x", Title: "X", Tags: []string{"t"}})
	require.ErrorIs(t, err, apperr.ErrRemoteStore)

	exists, err := e.db.SlugExists(ctx, "x")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = e.db.TagByName(ctx, "t")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateWithMatchingHash(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.Create(ctx, CreateInput{Slug: "p", Title: "P", Content: "v1", Tags: []string{"a", "b"}})
	require.NoError(t, err)

	content := "v2"
	tags := []string{"b", "c"}
	updated, err := e.svc.Update(ctx, "p", UpdateInput{Content: &content, Tags: &tags, ExpectedHash: created.Hash})
	require.NoError(t, err)
	assert.NotEqual(t, created.Hash, updated.Hash)
	assert.Equal(t, "P", updated.Title, "omitted fields are unchanged")
	assert.Equal(t, []string{"b", "c"}, updated.Tags)

	remote, _, _ := e.store.Get(ctx, "p")
	assert.Equal(t, remote.Hash, updated.Hash)

	assert.Equal(t, 0, tagUsage(t, e.db, "a"))
	assert.Equal(t, 1, tagUsage(t, e.db, "b"))
	assert.Equal(t, 1, tagUsage(t, e.db, "c"))
}

func TestUpdateWithoutTagsKeepsAssociations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.Create(ctx, CreateInput{Slug: "p", Title: "P", Tags: []string{"a"}})
	require.NoError(t, err)

	title := "P2"
	updated, err := e.svc.Update(ctx, "p", UpdateInput{Title: &title, ExpectedHash: created.Hash})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, updated.Tags)
	assert.Equal(t, 1, tagUsage(t, e.db, "a"))

	remote, _, _ := e.store.Get(ctx, "p")
	doc, _ := markdown.Parse(remote.Content)
	assert.Equal(t, []string{"a"}, doc.Tags)
	assert.Equal(t, "P2", doc.Title)
}

func TestUpdateEmptyTagsClears(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "p", Title: "P", Tags: []string{"a"}})
	require.NoError(t, err)

	empty := []string{}
	updated, err := e.svc.Update(ctx, "p", UpdateInput{Tags: &empty})
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)
	assert.Equal(t, 0, tagUsage(t, e.db, "a"))
}

func TestUpdateConflictDoesNotMutate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.Create(ctx, CreateInput{Slug: "p", Title: "P", Content: "original", Author: "alice"})
	require.NoError(t, err)

	content := "mine"
	_, err = e.svc.Update(ctx, "p", UpdateInput{Content: &content, ExpectedHash: "stale"})
	require.ErrorIs(t, err, apperr.ErrConflict)
	var ce *apperr.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "stale", ce.ExpectedHash)
	assert.Equal(t, created.Hash, ce.CurrentHash)
	assert.Equal(t, "alice", ce.LastEditor)
	assert.Equal(t, "original", ce.CurrentContent)

	remote, _, _ := e.store.Get(ctx, "p")
	assert.Equal(t, created.Hash, remote.Hash, "remote must be untouched")
	row, _ := e.db.PageBySlug(ctx, "p")
	assert.Equal(t, "original", row.Content, "cache must be untouched")
}

func TestUpdateRemoteConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.Create(ctx, CreateInput{Slug: "p", Title: "P", Content: "v1"})
	require.NoError(t, err)
	// Another writer commits behind the cache's back.
	_, err = e.store.Update(ctx, "p", []byte("external"), "external edit", created.Hash)
	require.NoError(t, err)

	content := "mine"
	_, err = e.svc.Update(ctx, "p", UpdateInput{Content: &content, ExpectedHash: created.Hash})
	require.ErrorIs(t, err, apperr.ErrConflict)
	var ce *apperr.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Remote)
}

func TestForcedUpdateWithStaleCacheHash(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.Create(ctx, CreateInput{Slug: "p", Title: "P", Content: "v1"})
	require.NoError(t, err)
	_, err = e.store.Update(ctx, "p", []byte("external"), "external edit", created.Hash)
	require.NoError(t, err)

	content := "forced"
	updated, err := e.svc.Update(ctx, "p", UpdateInput{Content: &content, ExpectedHash: "whatever", Force: true})
	require.NoError(t, err)

	remote, _, _ := e.store.Get(ctx, "p")
	assert.Equal(t, remote.Hash, updated.Hash)
	doc, _ := markdown.Parse(remote.Content)
	assert.Equal(t, "forced", doc.Body)
}

func TestUpdateMissing(t *testing.T) {
	e := newEnv(t)
	title := "x"
	_, err := e.svc.Update(context.Background(), "nope", UpdateInput{Title: &title})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSoftDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "x/y", Title: "Y", Tags: []string{"t"}})
	require.NoError(t, err)

	res, err := e.svc.Delete(ctx, "x/y", true)
	require.NoError(t, err)
	assert.Equal(t, &DeleteResult{Slug: "x/y", NewSlug: "archived/x/y", Soft: true}, res)

	_, found, _ := e.store.Get(ctx, "x/y")
	assert.False(t, found)
	remote, found, _ := e.store.Get(ctx, "archived/x/y")
	require.True(t, found)

	row, err := e.db.PageBySlug(ctx, "archived/x/y")
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, row.Status)
	assert.Equal(t, remote.Hash, row.Hash)
	_, err = e.db.PageBySlug(ctx, "x/y")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 1, tagUsage(t, e.db, "t"), "soft delete keeps tag associations")
	assert.Contains(t, e.events.events, "archived:archived/x/y")
}

func TestSoftDeleteArchiveTaken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "x", Title: "X"})
	require.NoError(t, err)
	_, err = e.svc.Delete(ctx, "x", true)
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateInput{Slug: "x", Title: "X again"})
	require.NoError(t, err)

	_, err = e.svc.Delete(ctx, "x", true)
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestSoftDeletePartialMove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "x", Title: "X"})
	require.NoError(t, err)

	partial := &apperr.PartialMoveError{From: "x", To: "archived/x", Err: errors.New("delete failed")}
	svc := NewService(&failingStore{Store: e.store, failMove: partial}, e.db, nil, Config{})
	_, err = svc.Delete(ctx, "x", true)
	require.ErrorIs(t, err, apperr.ErrPartialMove)
	require.ErrorIs(t, err, apperr.ErrRemoteStore)

	row, err := e.db.PageBySlug(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, row.Status, "cache is not mutated on remote failure")

	conflicted := &apperr.PartialMoveError{From: "x", To: "archived/x", Err: &apperr.ConflictError{Remote: true}}
	svc = NewService(&failingStore{Store: e.store, failMove: conflicted}, e.db, nil, Config{})
	_, err = svc.Delete(ctx, "x", true)
	require.ErrorIs(t, err, apperr.ErrPartialMove)
	var remote *apperr.RemoteError
	assert.False(t, errors.As(err, &remote), "partial move is reported as is")
}

func TestHardDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "p", Title: "P", Tags: []string{"t"}})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateInput{Slug: "q", Title: "Q", Tags: []string{"t"}})
	require.NoError(t, err)

	res, err := e.svc.Delete(ctx, "p", false)
	require.NoError(t, err)
	assert.False(t, res.Soft)

	_, found, _ := e.store.Get(ctx, "p")
	assert.False(t, found)
	_, err = e.db.PageBySlug(ctx, "p")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 1, tagUsage(t, e.db, "t"))
}

func TestDeleteMissing(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Delete(context.Background(), "nope", true)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetIncrementsViewsAndRelates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "a", Title: "A", Tags: []string{"x", "y"}})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateInput{Slug: "b", Title: "B", Tags: []string{"x", "y"}})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateInput{Slug: "c", Title: "C", Tags: []string{"x"}})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateInput{Slug: "d", Title: "D", Tags: []string{"x"}, Status: models.StatusDraft})
	require.NoError(t, err)

	first, err := e.svc.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, first.ViewCount)
	second, err := e.svc.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, second.ViewCount)

	assert.Equal(t, []string{"x", "y"}, second.Tags)
	require.Len(t, second.RelatedPages, 2, "drafts are not related")
	assert.Equal(t, "b", second.RelatedPages[0].Slug)
	assert.Equal(t, "c", second.RelatedPages[1].Slug)
	assert.Equal(t, []string{"x"}, second.RelatedPages[1].Tags)
}

func TestList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, title := range []string{"Gamma", "Alpha", "Beta"} {
		_, err := e.svc.Create(ctx, CreateInput{Title: title, Category: "greek"})
		require.NoError(t, err)
	}
	_, err := e.svc.Create(ctx, CreateInput{Title: "Other", Category: "misc"})
	require.NoError(t, err)

	list, err := e.svc.List(ctx, ListInput{Category: "greek", Sort: "title", Order: "asc", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Pages, 2)
	assert.Equal(t, "Alpha", list.Pages[0].Title)
	assert.NotNil(t, list.Pages[0].Tags)

	_, err = e.svc.List(ctx, ListInput{Sort: "bogus"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = e.svc.List(ctx, ListInput{Limit: 101})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestTagsAndPagesByTag(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, CreateInput{Slug: "a", Title: "A", Tags: []string{"race/elf", "common"}})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateInput{Slug: "b", Title: "B", Tags: []string{"common"}})
	require.NoError(t, err)

	tags, err := e.svc.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "common", tags[0].Name)
	assert.Equal(t, 2, tags[0].UsageCount)
	assert.Equal(t, "elf", tags[1].DisplayName)

	list, err := e.svc.PagesByTag(ctx, "common", ListInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)

	_, err = e.svc.PagesByTag(ctx, "missing", ListInput{})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.Create(ctx, CreateInput{Slug: "p", Title: "P", Tags: []string{"a"}})
	require.NoError(t, err)

	doc := markdown.Document{Title: "Edited Elsewhere", Status: models.StatusActive, Tags: []string{"b"}, Body: "new body"}
	raw, err := doc.Marshal()
	require.NoError(t, err)
	res, err := e.store.Update(ctx, "p", raw, "external", created.Hash)
	require.NoError(t, err)

	page, err := e.svc.Resync(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, res.Hash, page.Hash)
	assert.Equal(t, "Edited Elsewhere", page.Title)
	assert.Equal(t, "new body", page.Content)
	assert.Equal(t, []string{"b"}, page.Tags)
	assert.Equal(t, 0, tagUsage(t, e.db, "a"))
	assert.Equal(t, 1, tagUsage(t, e.db, "b"))
}

func TestResyncInsertsRemoteOnlyDocument(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.store.Create(ctx, "orphan", []byte("# Orphan\n\ntext"), "external")
	require.NoError(t, err)

	page, err := e.svc.Resync(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, "Orphan", page.Title)
	assert.Equal(t, testutil.DefaultProject, page.ProjectID)
	assert.Equal(t, models.StatusActive, page.Status)
	assert.True(t, strings.HasPrefix(page.Content, "# Orphan"))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "elf-village", Slugify("Elf Village"))
	assert.Equal(t, "엘프-마을", Slugify(" 엘프 마을 "))
}

func TestCompleteArchiveAfterPartialMove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.Create(ctx, CreateInput{Slug: "x", Title: "X", Tags: []string{"t"}})
	require.NoError(t, err)

	// The copy half of a move that never removed its source.
	remote, _, err := e.store.Get(ctx, "x")
	require.NoError(t, err)
	_, err = e.store.Create(ctx, "archived/x", remote.Content, "copy")
	require.NoError(t, err)

	res, err := e.svc.CompleteArchive(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "archived/x", res.NewSlug)

	_, found, _ := e.store.Get(ctx, "x")
	assert.False(t, found)
	row, err := e.db.PageBySlug(ctx, "archived/x")
	require.NoError(t, err)
	assert.Equal(t, created.ID, row.ID)
	assert.Equal(t, models.StatusArchived, row.Status)
	assert.Equal(t, created.Hash, row.Hash, "content is unchanged by the move")
	assert.Equal(t, 1, tagUsage(t, e.db, "t"))
}

func TestForget(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.Create(ctx, CreateInput{Slug: "gone", Title: "Gone", Tags: []string{"t"}})
	require.NoError(t, err)
	_, err = e.store.Delete(ctx, "gone", "external", created.Hash)
	require.NoError(t, err)

	require.NoError(t, e.svc.Forget(ctx, "gone"))
	_, err = e.db.PageBySlug(ctx, "gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 0, tagUsage(t, e.db, "t"))
	assert.ErrorIs(t, e.svc.Forget(ctx, "gone"), apperr.ErrNotFound)
}
