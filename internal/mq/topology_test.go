package mq_test

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/taskpipe/internal/mq"
	"github.com/shaiso/taskpipe/internal/mq/mqtest"
)

func TestSetupTopology_IdempotentKeepsMessages(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)

	b.Inject("task_created", []byte(`{"taskId":"t1","userId":"u1","title":"Buy milk"}`), true)

	err := conn.WithChannel(context.Background(), func(ch mq.Channel) error {
		return mq.SetupTopology(context.Background(), ch, mq.TopologyConfig{})
	})
	require.NoError(t, err)

	info, ok := b.Queue("task_created")
	require.True(t, ok)
	assert.True(t, info.Durable)
	assert.Equal(t, 1, info.Ready, "redeclaration must not touch queue contents")
	assert.Equal(t, 2, b.Declares("task_created"))
	assert.True(t, conn.IsReady())
}

func TestDeclareQueues_ConflictingArguments(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)

	err := conn.WithChannel(context.Background(), func(ch mq.Channel) error {
		return mq.DeclareQueues(ch, mq.QueueSpec{
			Name: mq.QueueTaskCreated,
			Args: amqp.Table{"x-dead-letter-routing-key": "elsewhere"},
		})
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, mq.ErrTopologyConflict)
	assert.Contains(t, err.Error(), "task_created")
}

func TestTopologyConfig_Queues(t *testing.T) {
	plain := mq.TopologyConfig{}.Queues()
	require.Len(t, plain, 2)
	assert.Equal(t, mq.QueueTaskCreated, plain[0].Name)
	assert.Equal(t, mq.QueueNotificationSent, plain[1].Name)
	assert.Nil(t, plain[0].Args)

	withDLQ := mq.TopologyConfig{DeadLetter: true}.Queues()
	require.Len(t, withDLQ, 3)
	assert.Equal(t, mq.QueueTaskCreatedDead, withDLQ[0].Name)
	assert.Equal(t, "task_created.dead", withDLQ[1].Args["x-dead-letter-routing-key"])
	assert.Equal(t, "", withDLQ[1].Args["x-dead-letter-exchange"])
}

func TestTopologyInfo(t *testing.T) {
	info := mq.TopologyInfo(mq.TopologyConfig{})
	assert.Contains(t, info, "task_created")
	assert.Contains(t, info, "notification_sent")
	assert.NotContains(t, info, "task_created.dead")

	assert.Contains(t, mq.TopologyInfo(mq.TopologyConfig{DeadLetter: true}), "task_created.dead")
}

func TestInspectQueues(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)

	b.Inject("task_created", []byte(`{}`), true)
	b.Inject("task_created", []byte(`{}`), true)

	status, err := mq.InspectQueues(context.Background(), conn, mq.TopologyConfig{})
	require.NoError(t, err)

	assert.Equal(t, []mq.QueueStatus{
		{Name: mq.QueueTaskCreated, Messages: 2},
		{Name: mq.QueueNotificationSent},
	}, status)
	assert.Equal(t, 2, b.Declares("notification_sent"))
}

func TestInspectQueues_Unavailable(t *testing.T) {
	b := mqtest.NewBroker()
	conn := newConnection(b, mq.TopologyConfig{}, 1)

	_, err := mq.InspectQueues(context.Background(), conn, mq.TopologyConfig{})

	assert.ErrorIs(t, err, mq.ErrUnavailable)
}
