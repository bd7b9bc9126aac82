// Package search ranks cached pages against a free-text query. Queries of at
// most two characters use substring matching; longer ones use trigram
// similarity weighted 3:1 between title and body.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/cache"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	// ShortQueryRunes is the longest query handled by substring matching.
	ShortQueryRunes = 2

	// matchThreshold is the per-field similarity above which a field is
	// reported in MatchedIn.
	matchThreshold = 0.2

	shortTitleScore   = 0.9
	shortContentScore = 0.5
)

// Backend runs the two search strategies and loads tags for result rows.
type Backend interface {
	SearchSubstring(ctx context.Context, q string, f cache.SearchFilter) ([]cache.SearchRow, error)
	SearchTrigram(ctx context.Context, q string, f cache.SearchFilter) ([]cache.SearchRow, error)
	PageTags(ctx context.Context, pageIDs []int64) (map[int64][]string, error)
}

// Query is a search request.
type Query struct {
	Q         string
	ProjectID string
	Category  string
	Limit     int // 0 selects DefaultLimit
}

// Validate checks the query text and limit.
func (q Query) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Q, validation.Required),
		validation.Field(&q.Limit, validation.Min(0), validation.Max(MaxLimit)),
	)
}

// Result is one ranked page.
type Result struct {
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	Score     float64   `json:"relevance_score"`
	MatchedIn []string  `json:"matched_in"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Response is the outcome of a search.
type Response struct {
	Query     string   `json:"query"`
	Total     int      `json:"total"`
	ElapsedMS int64    `json:"search_time_ms"`
	Results   []Result `json:"results"`
}

// Service executes searches against a Backend.
type Service struct {
	backend    Backend
	snippetLen int
}

// New creates a search service.
func New(b Backend) *Service {
	return &Service{backend: b, snippetLen: DefaultSnippetLength}
}

// Search picks the strategy by query length and returns ranked results.
func (s *Service) Search(ctx context.Context, q Query) (*Response, error) {
	q.Q = strings.TrimSpace(q.Q)
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("search: %w: %v", apperr.ErrInvalidInput, err)
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	start := time.Now()
	filter := cache.SearchFilter{ProjectID: q.ProjectID, Category: q.Category, Limit: q.Limit}

	var (
		results []Result
		err     error
	)
	if utf8.RuneCountInString(q.Q) <= ShortQueryRunes {
		results, err = s.short(ctx, q.Q, filter)
	} else {
		results, err = s.trigram(ctx, q.Q, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	slog.Info("search completed", slog.String("query", q.Q), slog.Int("results", len(results)), slog.Int64("time_ms", elapsed))
	return &Response{Query: q.Q, Total: len(results), ElapsedMS: elapsed, Results: results}, nil
}

func (s *Service) short(ctx context.Context, q string, f cache.SearchFilter) ([]Result, error) {
	rows, err := s.backend.SearchSubstring(ctx, q, f)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, q, rows, func(r cache.SearchRow) (float64, []string) {
		matched := []string{}
		if containsFold(r.Title, q) {
			matched = append(matched, "title")
		}
		if containsFold(r.Content, q) {
			matched = append(matched, "content")
		}
		score := shortContentScore
		if len(matched) > 0 && matched[0] == "title" {
			score = shortTitleScore
		}
		return score, matched
	})
}

func (s *Service) trigram(ctx context.Context, q string, f cache.SearchFilter) ([]Result, error) {
	rows, err := s.backend.SearchTrigram(ctx, q, f)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, q, rows, func(r cache.SearchRow) (float64, []string) {
		matched := []string{}
		if r.TitleSim > matchThreshold {
			matched = append(matched, "title")
		}
		if r.ContentSim > matchThreshold {
			matched = append(matched, "content")
		}
		return round2(r.Score), matched
	})
}

func (s *Service) build(ctx context.Context, q string, rows []cache.SearchRow, score func(cache.SearchRow) (float64, []string)) ([]Result, error) {
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	tags, err := s.backend.PageTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(rows))
	for _, r := range rows {
		sc, matched := score(r)
		t := tags[r.ID]
		if t == nil {
			t = []string{}
		}
		out = append(out, Result{
			Slug:      r.Slug,
			Title:     r.Title,
			Snippet:   Snippet(r.Content, q, s.snippetLen),
			Score:     sc,
			MatchedIn: matched,
			Category:  r.Category,
			Tags:      t,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
