package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"remedyboard/internal/coordinator"
	"remedyboard/internal/domain"
	"remedyboard/internal/query"
	"remedyboard/internal/stats"
)

const serviceScopeName = "remedyboard/actions"

// Service decorates a coordinator.Service with one span, one counter
// increment and one duration sample per call.
type Service struct {
	inner  coordinator.Service
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	counts metric.Int64Gauge
}

// Wrap returns svc unchanged when telemetry is disabled.
func Wrap(svc coordinator.Service) coordinator.Service {
	if !Enabled() {
		return svc
	}
	return newService(svc)
}

func newService(svc coordinator.Service) *Service {
	m := Meter(serviceScopeName)
	ops, _ := m.Int64Counter("rb.actions.operations",
		metric.WithDescription("Action store operations executed"),
	)
	dur, _ := m.Float64Histogram("rb.actions.operation.duration",
		metric.WithDescription("Action store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("rb.actions.errors",
		metric.WithDescription("Action store operation errors"),
	)
	counts, _ := m.Int64Gauge("rb.actions.count",
		metric.WithDescription("Actions per status, sampled from GetStats"),
	)
	return &Service{inner: svc, tracer: Tracer(serviceScopeName), ops: ops, dur: dur, errs: errs, counts: counts}
}

func (s *Service) op(ctx context.Context, name, orgID string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time, []attribute.KeyValue) {
	all := append([]attribute.KeyValue{
		attribute.String("rb.operation", name),
		attribute.String("rb.org", orgID),
	}, attrs...)
	ctx, span := s.tracer.Start(ctx, "actions."+name, trace.WithAttributes(all...))
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now(), all
}

func (s *Service) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		kind := string(coordinator.Classify(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("rb.error.kind", kind))...))
	}
	span.End()
}

func (s *Service) ListActions(ctx context.Context, orgID string, f query.Filter) (domain.ActionList, error) {
	ctx, span, t, attrs := s.op(ctx, "ListActions", orgID, attribute.String("rb.filter.status", string(f.Status)))
	v, err := s.inner.ListActions(ctx, orgID, f)
	if err == nil {
		span.SetAttributes(attribute.Int("rb.result.total", v.Total))
	}
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) GetStats(ctx context.Context, orgID string) (stats.Summary, error) {
	ctx, span, t, attrs := s.op(ctx, "GetStats", orgID)
	v, err := s.inner.GetStats(ctx, orgID)
	if err == nil {
		for st, n := range v.ByStatus {
			s.counts.Record(ctx, int64(n), metric.WithAttributes(
				attribute.String("rb.org", orgID),
				attribute.String("rb.status", string(st)),
			))
		}
	}
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) GetAction(ctx context.Context, orgID, id string) (domain.Action, error) {
	ctx, span, t, attrs := s.op(ctx, "GetAction", orgID, attribute.String("rb.action.id", id))
	v, err := s.inner.GetAction(ctx, orgID, id)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) CreateAction(ctx context.Context, orgID string, in domain.ActionInput) (domain.Action, error) {
	ctx, span, t, attrs := s.op(ctx, "CreateAction", orgID, attribute.String("rb.action.priority", string(in.Priority)))
	v, err := s.inner.CreateAction(ctx, orgID, in)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) UpdateAction(ctx context.Context, orgID, id string, p domain.ActionPatch) (domain.Action, error) {
	ctx, span, t, attrs := s.op(ctx, "UpdateAction", orgID, attribute.String("rb.action.id", id))
	v, err := s.inner.UpdateAction(ctx, orgID, id, p)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) DeleteAction(ctx context.Context, orgID, id string) error {
	ctx, span, t, attrs := s.op(ctx, "DeleteAction", orgID, attribute.String("rb.action.id", id))
	err := s.inner.DeleteAction(ctx, orgID, id)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *Service) SetActionStatus(ctx context.Context, orgID, id string, status domain.Status, comment string) (domain.Action, error) {
	ctx, span, t, attrs := s.op(ctx, "SetActionStatus", orgID,
		attribute.String("rb.action.id", id),
		attribute.String("rb.action.status", string(status)),
	)
	v, err := s.inner.SetActionStatus(ctx, orgID, id, status, comment)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) AssignAction(ctx context.Context, orgID, id, userID, comment string) (domain.Action, error) {
	ctx, span, t, attrs := s.op(ctx, "AssignAction", orgID, attribute.String("rb.action.id", id))
	v, err := s.inner.AssignAction(ctx, orgID, id, userID, comment)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) VerifyAction(ctx context.Context, orgID, id string, verified bool, comment string) (domain.Action, error) {
	ctx, span, t, attrs := s.op(ctx, "VerifyAction", orgID,
		attribute.String("rb.action.id", id),
		attribute.Bool("rb.verified", verified),
	)
	v, err := s.inner.VerifyAction(ctx, orgID, id, verified, comment)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) BulkAction(ctx context.Context, orgID string, req domain.BulkRequest) (domain.BulkResult, error) {
	ctx, span, t, attrs := s.op(ctx, "BulkAction", orgID,
		attribute.String("rb.bulk.operation", string(req.Operation)),
		attribute.Int("rb.bulk.count", len(req.ActionIDs)),
	)
	v, err := s.inner.BulkAction(ctx, orgID, req)
	if err == nil {
		span.SetAttributes(attribute.Int("rb.bulk.failed", v.Failed))
	}
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) ActionHistory(ctx context.Context, orgID, id string) ([]domain.Event, error) {
	ctx, span, t, attrs := s.op(ctx, "ActionHistory", orgID, attribute.String("rb.action.id", id))
	v, err := s.inner.ActionHistory(ctx, orgID, id)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *Service) ListUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	ctx, span, t, attrs := s.op(ctx, "ListUsers", orgID)
	v, err := s.inner.ListUsers(ctx, orgID)
	s.done(ctx, span, t, err, attrs)
	return v, err
}
