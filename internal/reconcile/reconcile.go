// Package reconcile compares the document store with the page cache and
// repairs the divergence left behind by partial failures.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/starford/xwiki/internal/cache"
	"github.com/starford/xwiki/internal/docstore"
	"github.com/starford/xwiki/internal/pages"
)

// Finding kinds.
const (
	// KindOrphan is a source document whose archived copy was committed by a
	// move that never removed the source.
	KindOrphan = "orphan"
	// KindDrift is a cached page whose hash differs from the remote document.
	KindDrift = "drift"
	// KindRemoteOnly is a remote document with no cache row.
	KindRemoteOnly = "remote_only"
	// KindCacheOnly is a cache row whose remote document is gone.
	KindCacheOnly = "cache_only"
)

// Finding is one divergence between the stores.
type Finding struct {
	Kind       string `json:"kind"`
	Slug       string `json:"slug"`
	CacheHash  string `json:"cache_sha,omitempty"`
	RemoteHash string `json:"remote_sha,omitempty"`
	Fixed      bool   `json:"fixed"`
	Error      string `json:"error,omitempty"`
}

// Report is the outcome of one pass.
type Report struct {
	Findings []Finding     `json:"findings"`
	Fixed    int           `json:"fixed"`
	Failed   int           `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Options configure a Reconciler.
type Options struct {
	// Fix repairs findings instead of only reporting them.
	Fix bool
}

// Reconciler runs consistency passes.
type Reconciler struct {
	store docstore.Store
	db    *cache.DB
	pages *pages.Service
	opts  Options
}

// New creates a reconciler. Repairs go through svc so they follow the
// same write ordering as regular requests.
func New(store docstore.Store, db *cache.DB, svc *pages.Service, opts Options) *Reconciler {
	return &Reconciler{store: store, db: db, pages: svc, opts: opts}
}

// Run performs one pass.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	entries, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list remote: %w", err)
	}
	cached, err := r.db.PageHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list cache: %w", err)
	}
	remote := make(map[string]string, len(entries))
	for _, e := range entries {
		remote[e.Path] = e.Hash
	}

	findings := detect(remote, cached, r.pages.ArchiveSlug)
	rep := &Report{Findings: findings}
	for i := range rep.Findings {
		f := &rep.Findings[i]
		slog.Warn("reconcile: divergence", slog.String("kind", f.Kind), slog.String("slug", f.Slug),
			slog.String("cache_sha", f.CacheHash), slog.String("remote_sha", f.RemoteHash))
		if !r.opts.Fix {
			continue
		}
		if err := r.fix(ctx, f); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.Error = err.Error()
			rep.Failed++
			slog.Error("reconcile: repair failed", slog.String("kind", f.Kind), slog.String("slug", f.Slug), slog.Any("err", err))
			continue
		}
		f.Fixed = true
		rep.Fixed++
	}
	rep.Elapsed = time.Since(start)
	slog.Info("reconcile: pass complete", slog.Int("remote", len(remote)), slog.Int("cached", len(cached)),
		slog.Int("findings", len(rep.Findings)), slog.Int("fixed", rep.Fixed), slog.Int("failed", rep.Failed))
	return rep, nil
}

func (r *Reconciler) fix(ctx context.Context, f *Finding) error {
	switch f.Kind {
	case KindOrphan:
		_, err := r.pages.CompleteArchive(ctx, f.Slug)
		return err
	case KindDrift, KindRemoteOnly:
		_, err := r.pages.Resync(ctx, f.Slug)
		return err
	case KindCacheOnly:
		return r.pages.Forget(ctx, f.Slug)
	}
	return nil
}

// detect classifies every slug. A remote source is an orphan when its
// archived copy holds identical content and the copy has no cache row; the
// copy is then reported only through the orphan.
func detect(remote, cached map[string]string, archiveSlug func(string) string) []Finding {
	var out []Finding
	claimed := make(map[string]bool)

	for slug, hash := range remote {
		copySlug := archiveSlug(slug)
		copyHash, ok := remote[copySlug]
		if !ok || copyHash != hash {
			continue
		}
		if _, cachedCopy := cached[copySlug]; cachedCopy {
			continue
		}
		claimed[copySlug] = true
		out = append(out, Finding{Kind: KindOrphan, Slug: slug, CacheHash: cached[slug], RemoteHash: hash})
	}

	for slug, hash := range remote {
		if claimed[slug] {
			continue
		}
		cacheHash, ok := cached[slug]
		switch {
		case !ok:
			out = append(out, Finding{Kind: KindRemoteOnly, Slug: slug, RemoteHash: hash})
		case cacheHash != hash && !isOrphanSource(out, slug):
			out = append(out, Finding{Kind: KindDrift, Slug: slug, CacheHash: cacheHash, RemoteHash: hash})
		}
	}
	for slug, hash := range cached {
		if _, ok := remote[slug]; !ok {
			out = append(out, Finding{Kind: KindCacheOnly, Slug: slug, CacheHash: hash})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return kindOrder(out[i].Kind) < kindOrder(out[j].Kind)
		}
		return strings.Compare(out[i].Slug, out[j].Slug) < 0
	})
	return out
}

func isOrphanSource(fs []Finding, slug string) bool {
	for _, f := range fs {
		if f.Kind == KindOrphan && f.Slug == slug {
			return true
		}
	}
	return false
}

func kindOrder(kind string) int {
	switch kind {
	case KindOrphan:
		return 0
	case KindDrift:
		return 1
	case KindRemoteOnly:
		return 2
	default:
		return 3
	}
}

// Loop runs a pass every interval until ctx is cancelled. Failed passes are
// logged and retried on the next tick.
func (r *Reconciler) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	slog.Info("reconcile: periodic pass enabled", slog.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("reconcile: pass failed", slog.Any("err", err))
			}
		}
	}
}
