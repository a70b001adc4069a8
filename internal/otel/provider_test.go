package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{ServiceName: "flowsim"})
	require.NoError(t, err)

	assert.Nil(t, p.LoggerProvider())
	assert.Equal(t, noop.Meter{}, p.Meter("x"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_NoSink(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "flowsim"})
	assert.ErrorIs(t, err, ErrNoSink)
}

func TestNew_LogWriterOnly(t *testing.T) {
	var logs bytes.Buffer
	p, err := New(Config{Enabled: true, ServiceName: "flowsim", ServiceVersion: "1.0.0", LogWriter: &logs})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())
	assert.Equal(t, noop.Meter{}, p.Meter("x"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_MetricWriterExportsOnFlush(t *testing.T) {
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	var metrics bytes.Buffer
	p, err := New(Config{Enabled: true, ServiceName: "flowsim", MetricWriter: &metrics})
	require.NoError(t, err)
	assert.Nil(t, p.LoggerProvider())

	counter, err := p.Meter("test").Int64Counter("flow.test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, metrics.String(), "flow.test.counter")
	assert.NoError(t, p.Shutdown(context.Background()))
}
