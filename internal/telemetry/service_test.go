package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"remedyboard/internal/coordinator"
	"remedyboard/internal/domain"
)

type stubService struct {
	coordinator.Service
}

func (stubService) SetActionStatus(ctx context.Context, org, id string, st domain.Status, comment string) (domain.Action, error) {
	if !st.Valid() {
		return domain.Action{}, domain.InvalidStatusError{Value: string(st)}
	}
	return domain.Action{ID: id, OrgID: org, Status: st}, nil
}

func TestWrapIsIdentityWhenDisabled(t *testing.T) {
	t.Setenv("REMEDYBOARD_OTEL_ENABLED", "")
	svc := stubService{}
	assert.Equal(t, coordinator.Service(svc), Wrap(svc))
}

func TestServiceRecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	svc := newService(stubService{})
	ctx := context.Background()
	a, err := svc.SetActionStatus(ctx, "org-1", "a-1", domain.StatusResolved, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, a.Status)

	_, err = svc.SetActionStatus(ctx, "org-1", "a-1", domain.Status("done"), "")
	var inv domain.InvalidStatusError
	require.True(t, errors.As(err, &inv))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "actions.SetActionStatus", spans[0].Name())
	assert.Len(t, spans[1].Events(), 1, "error is recorded on the span")
}
