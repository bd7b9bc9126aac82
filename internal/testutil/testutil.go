// Package testutil provides shared test helpers for setting up document stores and databases.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/starford/xwiki/internal/cache"
	"github.com/starford/xwiki/internal/docstore"
	"github.com/starford/xwiki/internal/models"
)

// DefaultProject is the project key seeded by TestDB.
const DefaultProject = "default"

// TestDB creates a temporary SQLite cache, seeded with DefaultProject, that is
// automatically cleaned up.
func TestDB(t *testing.T) *cache.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "xwiki-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := cache.Open(context.Background(), cache.DriverSQLite, dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	if err := db.EnsureProject(context.Background(), &models.Project{
		ID: DefaultProject, Title: "Default", Color: "bg-blue-500", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	return db
}

// TestStore creates a local document store in a temporary directory, with
// documents under "content".
func TestStore(t *testing.T) *docstore.Local {
	t.Helper()
	store, err := docstore.NewLocal(t.TempDir(), docstore.Layout{Root: "content"}, "http://wiki.test")
	if err != nil {
		t.Fatal(err)
	}
	return store
}
