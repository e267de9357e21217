package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
)

func TestInitDisabledStillPropagates(t *testing.T) {
	tp, err := Init(config.TracingConfig{Enabled: false}, "")
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())
}

func TestCreateSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), createSampler(config.SamplerConfig{}).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), createSampler(config.SamplerConfig{Type: "always_off"}).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(),
		createSampler(config.SamplerConfig{Type: "traceidratio", Param: 0.25}).Description())
}

func TestStartPublishSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(previous)

	_, span := StartPublishSpan(context.Background(), "cosmos_hub", "rabbitmq", "100")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "broker.publish", spans[0].Name())
	assert.Equal(t, trace.SpanKindProducer, spans[0].SpanKind())
	assert.Contains(t, spans[0].Attributes(), attribute.String("chain.id", "cosmos_hub"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("messaging.system", "rabbitmq"))
}
