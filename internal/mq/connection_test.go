package mq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/taskpipe/internal/mq"
	"github.com/shaiso/taskpipe/internal/mq/mqtest"
)

func TestConnection_IdleBeforeConnect(t *testing.T) {
	b := mqtest.NewBroker()
	conn := newConnection(b, mq.TopologyConfig{}, 3)

	assert.Equal(t, mq.StateIdle, conn.State())
	assert.False(t, conn.IsReady())
	assert.Nil(t, conn.Channel())

	called := false
	err := conn.WithChannel(context.Background(), func(mq.Channel) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, mq.ErrUnavailable)
	assert.False(t, called, "fn must not run without a channel")
	assert.Zero(t, b.Dials())
}

func TestConnection_ConnectDeclaresTopology(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)

	assert.Equal(t, mq.StateReady, conn.State())
	assert.Equal(t, 1, b.Dials())

	for _, name := range []string{"task_created", "notification_sent"} {
		info, ok := b.Queue(name)
		require.True(t, ok, "queue %s should be declared", name)
		assert.True(t, info.Durable, "queue %s should be durable", name)
	}
}

func TestConnection_RetriesWithFixedDelay(t *testing.T) {
	b := mqtest.NewBroker()
	b.FailDials(2)

	conn := mq.NewConnection(mq.ConnectionConfig{
		MaxRetries: 5,
		RetryDelay: 20 * time.Millisecond,
		Dialer:     b.Dial,
		Logger:     discardLogger(),
	})
	defer conn.Close()

	start := time.Now()
	require.NoError(t, conn.Connect(context.Background()))

	assert.Equal(t, 3, b.Dials())
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "two pauses between three attempts")
	assert.True(t, conn.IsReady())
}

func TestConnection_RetriesExhausted(t *testing.T) {
	b := mqtest.NewBroker()
	b.SetDown(true)

	conn := newConnection(b, mq.TopologyConfig{}, 4)
	defer conn.Close()

	err := conn.Connect(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, mq.ErrUnavailable)
	assert.ErrorIs(t, err, mqtest.ErrRefused, "last dial error should be kept")
	assert.Equal(t, 4, b.Dials())
	assert.Equal(t, mq.StateFailed, conn.State())
}

func TestConnection_ContextCanceledDuringRetry(t *testing.T) {
	b := mqtest.NewBroker()
	b.SetDown(true)

	conn := mq.NewConnection(mq.ConnectionConfig{
		MaxRetries: 100,
		RetryDelay: time.Hour,
		Dialer:     b.Dial,
		Logger:     discardLogger(),
	})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := conn.Connect(ctx)

	assert.ErrorIs(t, err, mq.ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, b.Dials())
	assert.Equal(t, mq.StateFailed, conn.State())
}

func TestConnection_TopologyConflictIsNotRetried(t *testing.T) {
	b := mqtest.NewBroker()

	first := newConnection(b, mq.TopologyConfig{}, 3)
	require.NoError(t, first.Connect(context.Background()))
	defer first.Close()

	second := newConnection(b, mq.TopologyConfig{DeadLetter: true}, 3)
	defer second.Close()

	err := second.Connect(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, mq.ErrTopologyConflict)
	assert.False(t, errors.Is(err, mq.ErrUnavailable))
	assert.Equal(t, 2, b.Dials(), "conflict must not consume the retry budget")
	assert.Equal(t, mq.StateFailed, second.State())
}

func TestConnection_ConnectSignalsReady(t *testing.T) {
	b := mqtest.NewBroker()
	conn := newConnection(b, mq.TopologyConfig{}, 3)
	defer conn.Close()

	waiting := make(chan struct{})
	woke := make(chan struct{})
	go func() {
		close(waiting)
		<-conn.ReconnectNotify()
		close(woke)
	}()
	<-waiting

	require.NoError(t, conn.Connect(context.Background()))

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("Connect must wake goroutines waiting on ReconnectNotify")
	}
}

func TestConnection_ReconnectsAfterBrokerRestart(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)

	// Сигнал первого подключения
	<-conn.ReconnectNotify()

	b.Restart()

	select {
	case <-conn.ReconnectNotify():
	case <-time.After(2 * time.Second):
		t.Fatal("expected reconnect notification")
	}

	assert.True(t, conn.IsReady())
	assert.Equal(t, 2, b.Dials())
	assert.Equal(t, 2, b.Declares("task_created"), "topology is declared once per connection")
}

func TestConnection_FailedAfterReconnectRetriesExhausted(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)

	select {
	case <-conn.Failed():
		t.Fatal("healthy connection must not report failure")
	default:
	}

	b.SetDown(true)
	b.Restart()

	select {
	case <-conn.Failed():
	case <-time.After(2 * time.Second):
		t.Fatal("expected failure notification")
	}

	assert.Equal(t, mq.StateFailed, conn.State())
	assert.Equal(t, 4, b.Dials(), "initial dial plus three reconnect attempts")

	b.SetDown(false)
	assert.ErrorIs(t, conn.WithChannel(context.Background(), func(mq.Channel) error { return nil }), mq.ErrUnavailable)
}

func TestConnection_CloseIsNotFailure(t *testing.T) {
	b := mqtest.NewBroker()
	conn := newConnection(b, mq.TopologyConfig{}, 3)
	require.NoError(t, conn.Connect(context.Background()))

	require.NoError(t, conn.Close())

	select {
	case <-conn.Failed():
		t.Fatal("Close must not be reported as failure")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	b := mqtest.NewBroker()
	conn := newConnection(b, mq.TopologyConfig{}, 3)
	require.NoError(t, conn.Connect(context.Background()))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.Equal(t, mq.StateClosed, conn.State())
	assert.ErrorIs(t, conn.WithChannel(context.Background(), func(mq.Channel) error { return nil }), mq.ErrUnavailable)
	assert.ErrorIs(t, conn.Connect(context.Background()), mq.ErrConnectionClosed)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state mq.State
		want  string
	}{
		{mq.StateIdle, "idle"},
		{mq.StateConnecting, "connecting"},
		{mq.StateReady, "ready"},
		{mq.StateFailed, "failed"},
		{mq.StateClosed, "closed"},
		{mq.State(42), "state(42)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
