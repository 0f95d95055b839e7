package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProvider_DisabledIsNoop(t *testing.T) {
	for _, exporter := range []string{"", "none", " NONE "} {
		p, err := NewProvider(Config{Exporter: exporter})
		require.NoError(t, err)
		require.False(t, p.Enabled())
		require.NotNil(t, p.Tracer())

		_, span := p.Tracer().Start(context.Background(), "noop")
		require.False(t, span.SpanContext().IsValid())
		span.End()
		require.NoError(t, p.Shutdown(context.Background()))
	}
}

func TestNewProvider_Stdout(t *testing.T) {
	p, err := NewProvider(Config{Exporter: "stdout", ServiceName: "test"})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "arbitrate")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := NewProvider(Config{Exporter: "jaeger"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported exporter")
}
