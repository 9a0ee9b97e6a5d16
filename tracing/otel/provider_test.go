package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultProviderConfig(t *testing.T) {
	cfg := DefaultProviderConfig()

	require.Equal(t, "relayberry", cfg.ServiceName)
	require.Equal(t, "none", cfg.Exporter)
	require.Equal(t, 0.1, cfg.SampleRate)
}

func TestNewProvider_Exporters(t *testing.T) {
	for _, exporter := range []string{"none", "", "stdout", "zipkin"} {
		t.Run(exporter, func(t *testing.T) {
			provider, err := NewProvider(ProviderConfig{
				ServiceName: "test-service",
				Exporter:    exporter,
				SampleRate:  1.0,
			})
			require.NoError(t, err)
			require.NoError(t, provider.Shutdown(context.Background()))
		})
	}
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(ProviderConfig{
		ServiceName: "test-service",
		Exporter:    "invalid",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown exporter type")
}

func TestNewProvider_SampleRates(t *testing.T) {
	for _, rate := range []float64{0, 1, 0.5, -1, 2} {
		provider, err := NewProvider(ProviderConfig{
			ServiceName: "test-service",
			Exporter:    "none",
			SampleRate:  rate,
		})
		require.NoError(t, err)
		require.NoError(t, provider.Shutdown(context.Background()))
	}
}

func TestSetup_Disabled(t *testing.T) {
	tracer, shutdown, err := Setup(false, DefaultProviderConfig())
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_Enabled(t *testing.T) {
	cfg := DefaultProviderConfig()
	cfg.SampleRate = 1.0

	tracer, shutdown, err := Setup(true, cfg)
	require.NoError(t, err)

	ctx, span := tracer.StartSpan(context.Background(), "test-span")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(ctx))
}
