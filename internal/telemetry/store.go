package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/xwiki/internal/apperr"
	"github.com/starford/xwiki/internal/docstore"
)

const storeScopeName = "github.com/starford/xwiki/docstore"

// InstrumentedStore wraps a docstore.Store with a span per call and the
// xwiki.docstore.* metrics.
type InstrumentedStore struct {
	inner     docstore.Store
	tracer    trace.Tracer
	ops       metric.Int64Counter
	dur       metric.Float64Histogram
	errs      metric.Int64Counter
	conflicts metric.Int64Counter
}

// WrapStore decorates s. Disabled providers return s unchanged.
func WrapStore(s docstore.Store, p *Providers) docstore.Store {
	if p == nil || !p.Enabled {
		return s
	}
	m := p.Meter.Meter(storeScopeName)
	ops, _ := m.Int64Counter("xwiki.docstore.operations",
		metric.WithDescription("Document store calls"),
	)
	dur, _ := m.Float64Histogram("xwiki.docstore.operation.duration",
		metric.WithDescription("Document store call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("xwiki.docstore.errors",
		metric.WithDescription("Failed document store calls"),
	)
	conflicts, _ := m.Int64Counter("xwiki.docstore.conflicts",
		metric.WithDescription("Writes rejected by the content hash check"),
	)
	return &InstrumentedStore{
		inner:     s,
		tracer:    p.Tracer.Tracer(storeScopeName),
		ops:       ops,
		dur:       dur,
		errs:      errs,
		conflicts: conflicts,
	}
}

func (s *InstrumentedStore) op(ctx context.Context, name, path string) (context.Context, trace.Span, time.Time, []attribute.KeyValue) {
	attrs := []attribute.KeyValue{attribute.String("docstore.operation", name)}
	ctx, span := s.tracer.Start(ctx, "docstore."+name,
		trace.WithAttributes(append(attrs, attribute.String("docstore.path", path))...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, span, time.Now(), attrs
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
		if errors.Is(err, apperr.ErrConflict) {
			s.conflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
	}
	span.End()
}

func (s *InstrumentedStore) Get(ctx context.Context, p string) (*docstore.Document, bool, error) {
	ctx, span, t, attrs := s.op(ctx, "Get", p)
	doc, found, err := s.inner.Get(ctx, p)
	span.SetAttributes(attribute.Bool("docstore.found", found))
	s.done(ctx, span, t, err, attrs)
	return doc, found, err
}

func (s *InstrumentedStore) Create(ctx context.Context, p string, content []byte, message string) (docstore.WriteResult, error) {
	ctx, span, t, attrs := s.op(ctx, "Create", p)
	res, err := s.inner.Create(ctx, p, content, message)
	s.done(ctx, span, t, err, attrs)
	return res, err
}

func (s *InstrumentedStore) Update(ctx context.Context, p string, content []byte, message, expectedHash string) (docstore.WriteResult, error) {
	ctx, span, t, attrs := s.op(ctx, "Update", p)
	res, err := s.inner.Update(ctx, p, content, message, expectedHash)
	s.done(ctx, span, t, err, attrs)
	return res, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, p, message, expectedHash string) (string, error) {
	ctx, span, t, attrs := s.op(ctx, "Delete", p)
	commit, err := s.inner.Delete(ctx, p, message, expectedHash)
	s.done(ctx, span, t, err, attrs)
	return commit, err
}

func (s *InstrumentedStore) Move(ctx context.Context, oldPath, newPath, message, expectedHash string) (docstore.WriteResult, error) {
	ctx, span, t, attrs := s.op(ctx, "Move", oldPath)
	span.SetAttributes(attribute.String("docstore.new_path", newPath))
	res, err := s.inner.Move(ctx, oldPath, newPath, message, expectedHash)
	s.done(ctx, span, t, err, attrs)
	return res, err
}

func (s *InstrumentedStore) CreateBinary(ctx context.Context, p string, data []byte, message string) (docstore.WriteResult, error) {
	ctx, span, t, attrs := s.op(ctx, "CreateBinary", p)
	span.SetAttributes(attribute.Int("docstore.size", len(data)))
	res, err := s.inner.CreateBinary(ctx, p, data, message)
	s.done(ctx, span, t, err, attrs)
	return res, err
}

func (s *InstrumentedStore) List(ctx context.Context) ([]docstore.Entry, error) {
	ctx, span, t, attrs := s.op(ctx, "List", "")
	entries, err := s.inner.List(ctx)
	span.SetAttributes(attribute.Int("docstore.entries", len(entries)))
	s.done(ctx, span, t, err, attrs)
	return entries, err
}

func (s *InstrumentedStore) RawURL(p string) string {
	return s.inner.RawURL(p)
}
