package mq_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaiso/taskpipe/internal/mq"
	"github.com/shaiso/taskpipe/internal/mq/mqtest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newConnection(b *mqtest.Broker, topology mq.TopologyConfig, maxRetries int) *mq.Connection {
	return mq.NewConnection(mq.ConnectionConfig{
		URL:        "amqp://test/",
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
		Dialer:     b.Dial,
		Setup:      topology.Setup(),
		Logger:     discardLogger(),
	})
}

// connect возвращает готовое соединение, закрываемое по окончании теста.
func connect(t *testing.T, b *mqtest.Broker) *mq.Connection {
	t.Helper()

	conn := newConnection(b, mq.TopologyConfig{}, 3)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { conn.Close() })

	return conn
}
