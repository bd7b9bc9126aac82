package tagsync

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/models"
)

// memStore is an in-memory Store.
type memStore struct {
	tags   map[string]*models.Tag
	byID   map[int64]*models.Tag
	pages  map[int64][]int64
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{tags: map[string]*models.Tag{}, byID: map[int64]*models.Tag{}, pages: map[int64][]int64{}}
}

func (m *memStore) TagByName(_ context.Context, name string) (*models.Tag, error) {
	if t, ok := m.tags[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("tag %q: %w", name, apperr.ErrNotFound)
}

func (m *memStore) CreateTag(_ context.Context, t *models.Tag) error {
	m.nextID++
	t.ID = m.nextID
	m.tags[t.Name] = t
	m.byID[t.ID] = t
	return nil
}

func (m *memStore) PageTagIDs(_ context.Context, pageID int64) ([]int64, error) {
	return append([]int64(nil), m.pages[pageID]...), nil
}

func (m *memStore) AdjustTagUsage(_ context.Context, id int64, delta int) error {
	t := m.byID[id]
	t.UsageCount += delta
	if t.UsageCount < 0 {
		t.UsageCount = 0
	}
	return nil
}

func (m *memStore) ReplacePageTags(_ context.Context, pageID int64, ids []int64) error {
	if len(ids) == 0 {
		delete(m.pages, pageID)
		return nil
	}
	m.pages[pageID] = append([]int64(nil), ids...)
	return nil
}

func (m *memStore) usage() map[string]int {
	out := map[string]int{}
	for n, t := range m.tags {
		out[n] = t.UsageCount
	}
	return out
}

// expectedUsage counts, per tag, the pages currently carrying it.
func (m *memStore) expectedUsage() map[string]int {
	out := map[string]int{}
	for n := range m.tags {
		out[n] = 0
	}
	for _, ids := range m.pages {
		for _, id := range ids {
			out[m.byID[id].Name]++
		}
	}
	return out
}

func TestNormalize(t *testing.T) {
	got := Normalize([]string{" a ", "b", "", "a", "  ", "c/d"})
	if diff := cmp.Diff([]string{"a", "b", "c/d"}, got); diff != "" {
		t.Errorf("Normalize (-want +got):\n%s", diff)
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{"race/elf": "elf", "a/b/c": "c", "plain": "plain"}
	for in, want := range cases {
		if got := DisplayName(in); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSyncCreatesAndCounts(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	names, err := Sync(ctx, s, 1, []string{"race/elf", "race/elf", "class/mage"}, false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if diff := cmp.Diff([]string{"race/elf", "class/mage"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if s.tags["race/elf"].DisplayName != "elf" {
		t.Errorf("display name = %q", s.tags["race/elf"].DisplayName)
	}
	if diff := cmp.Diff(map[string]int{"race/elf": 1, "class/mage": 1}, s.usage()); diff != "" {
		t.Errorf("usage (-want +got):\n%s", diff)
	}
}

func TestSyncReplaceKeepsUnchangedCount(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	_, _ = Sync(ctx, s, 1, []string{"a", "b"}, false)
	_, _ = Sync(ctx, s, 1, []string{"b", "c"}, true)
	if diff := cmp.Diff(map[string]int{"a": 0, "b": 1, "c": 1}, s.usage()); diff != "" {
		t.Errorf("usage (-want +got):\n%s", diff)
	}
}

func TestSyncEmptyClears(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	_, _ = Sync(ctx, s, 1, []string{"a"}, false)
	_, _ = Sync(ctx, s, 1, []string{}, true)
	if len(s.pages[1]) != 0 {
		t.Errorf("page tags = %v", s.pages[1])
	}
	if s.tags["a"].UsageCount != 0 {
		t.Errorf("usage = %d", s.tags["a"].UsageCount)
	}
	if _, ok := s.tags["a"]; !ok {
		t.Error("tags are never deleted automatically")
	}
}

func TestRelease(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	_, _ = Sync(ctx, s, 1, []string{"a", "b"}, false)
	_, _ = Sync(ctx, s, 2, []string{"a"}, false)
	if err := Release(ctx, s, 1, true); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"a": 1, "b": 0}, s.usage()); diff != "" {
		t.Errorf("usage (-want +got):\n%s", diff)
	}
}

// Any sequence of creates, replacements and releases leaves every counter
// equal to the number of pages carrying the tag.
func TestSyncUsageInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pool := []string{"a", "b", "c", "d", "e/f"}
	s := newMemStore()
	ctx := context.Background()
	created := map[int64]bool{}

	for i := 0; i < 500; i++ {
		page := int64(rng.Intn(6) + 1)
		var names []string
		for _, n := range pool {
			if rng.Intn(2) == 0 {
				names = append(names, n)
			}
		}
		if rng.Intn(5) == 0 && created[page] {
			if err := Release(ctx, s, page, true); err != nil {
				t.Fatal(err)
			}
			delete(created, page)
		} else {
			if _, err := Sync(ctx, s, page, names, created[page]); err != nil {
				t.Fatal(err)
			}
			created[page] = true
		}
		if diff := cmp.Diff(s.expectedUsage(), s.usage()); diff != "" {
			keys := make([]int64, 0, len(s.pages))
			for k := range s.pages {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
			t.Fatalf("step %d: usage drifted (-want +got):\n%s\npages=%v", i, diff, keys)
		}
	}
}
