package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"trace": slog.LevelInfo,
	}

	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := NewLogger(&buf, "WARN", "")

	logger.Info("dropped")
	WithTaskID(WithQueue(logger, "task_created"), "t1").Warn("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "task_created", entry["queue"])
	assert.Equal(t, "t1", entry["task_id"])
}

func TestNewLogger_Text(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	NewLogger(&buf, "INFO", "text").Info("hello", "message_id", "m1")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "message_id=m1")
}

func TestLoggerContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	assert.Same(t, logger, FromContext(WithLogger(context.Background(), logger), fallback))
	assert.Same(t, fallback, FromContext(context.Background(), fallback))
	assert.Same(t, slog.Default(), FromContext(context.Background(), nil))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObservePublished("task_created")
	m.ObservePublished("task_created")
	m.ObservePublishFailure("notification_sent", "broker")
	m.ObserveDelivery("task_created", OutcomeAcked, 15*time.Millisecond)
	m.SetBrokerState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("task_created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures.WithLabelValues("notification_sent", "broker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("task_created", OutcomeAcked)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BrokerState))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DeliveryDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObservePublished("task_created")
		m.ObservePublishFailure("task_created", "unavailable")
		m.ObserveDelivery("task_created", OutcomeRejected, time.Second)
		m.SetBrokerState(3)
	})
}
