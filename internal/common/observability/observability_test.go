package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestObservability_SpansAndMetrics(t *testing.T) {
	reg := promclient.NewRegistry()
	recorder := tracetest.NewSpanRecorder()

	obs, err := New("aptitude-test", WithRegisterer(reg), WithSpanProcessor(recorder))
	require.NoError(t, err)
	defer obs.Shutdown()

	ctx, span := obs.StartSpan(context.Background(), "command.start", attribute.Bool("force", true))
	EndSpan(span, errors.New("boom"))
	obs.RecordCommand(ctx, "start", "error", 12*time.Millisecond)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "command.start", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.Bool("force", true))

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "aptitude_commands") {
			found = true
		}
	}
	assert.True(t, found, "command counter should be exported")
}

func TestObservability_NilSafe(t *testing.T) {
	var obs *Observability

	ctx, span := obs.StartSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	EndSpan(span, nil)
	obs.RecordCommand(ctx, "status", "ok", time.Millisecond)
	assert.NoError(t, obs.Shutdown())
}
