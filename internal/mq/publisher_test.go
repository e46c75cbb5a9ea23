package mq_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/taskpipe/internal/domain"
	"github.com/shaiso/taskpipe/internal/mq"
	"github.com/shaiso/taskpipe/internal/mq/mqtest"
)

var buyMilk = domain.TaskRecord{ID: "t1", UserID: "u1", Title: "Buy milk"}

func TestPublisher_UnavailableBeforeConnect(t *testing.T) {
	b := mqtest.NewBroker()
	conn := newConnection(b, mq.TopologyConfig{}, 3)
	p := mq.NewPublisher(conn, discardLogger(), nil)

	_, err := p.PublishTaskCreated(context.Background(), buyMilk)

	assert.ErrorIs(t, err, mq.ErrUnavailable)
	assert.Zero(t, b.Dials(), "publish must not try to connect")
}

func TestPublisher_UnavailableWithoutConnection(t *testing.T) {
	p := mq.NewPublisher(nil, discardLogger(), nil)

	_, err := p.PublishTaskCreated(context.Background(), buyMilk)

	assert.ErrorIs(t, err, mq.ErrUnavailable)
}

func TestPublisher_UnavailableAfterRetriesExhausted(t *testing.T) {
	b := mqtest.NewBroker()
	b.SetDown(true)
	conn := newConnection(b, mq.TopologyConfig{}, 2)
	require.ErrorIs(t, conn.Connect(context.Background()), mq.ErrUnavailable)

	p := mq.NewPublisher(conn, discardLogger(), nil)
	_, err := p.PublishTaskCreated(context.Background(), buyMilk)

	assert.ErrorIs(t, err, mq.ErrUnavailable)
}

func TestPublisher_PublishTaskCreated(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)
	p := mq.NewPublisher(conn, discardLogger(), nil)

	evt, err := p.PublishTaskCreated(context.Background(), buyMilk)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCreatedEvent{TaskID: "t1", UserID: "u1", Title: "Buy milk"}, evt)

	msgs := b.Messages("task_created")
	require.Len(t, msgs, 1)

	pub := msgs[0].Publishing
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, string(mq.MessageTypeTaskCreated), pub.Type)
	assert.NotEmpty(t, pub.MessageId)
	assert.JSONEq(t, `{"taskId":"t1","userId":"u1","title":"Buy milk"}`, string(pub.Body))
}

func TestPublisher_RejectsIncompleteRecord(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)
	p := mq.NewPublisher(conn, discardLogger(), nil)

	_, err := p.PublishTaskCreated(context.Background(), domain.TaskRecord{ID: "t1", UserID: "u1"})

	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
	assert.Empty(t, b.Messages("task_created"))
}

func TestPublisher_BrokerErrorIsNotUnavailable(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)
	p := mq.NewPublisher(conn, discardLogger(), nil)

	b.FailPublishes("task_created", 1)
	_, err := p.PublishTaskCreated(context.Background(), buyMilk)

	require.Error(t, err)
	assert.ErrorIs(t, err, mqtest.ErrInjected)
	assert.NotErrorIs(t, err, mq.ErrUnavailable)
}

func TestPublisher_ClosedChannelIsUnavailable(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)
	p := mq.NewPublisher(conn, discardLogger(), nil)

	b.FailPublishesWith("task_created", 1, amqp.ErrClosed)
	_, err := p.PublishTaskCreated(context.Background(), buyMilk)

	require.Error(t, err)
	assert.ErrorIs(t, err, mq.ErrUnavailable)
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestPublisher_DurableAcrossBrokerRestart(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)
	p := mq.NewPublisher(conn, discardLogger(), nil)

	_, err := p.PublishTaskCreated(context.Background(), buyMilk)
	require.NoError(t, err)

	// Контрольное сообщение без persistence теряется при рестарте
	b.Inject("task_created", []byte(`{"taskId":"t2","userId":"u1","title":"transient"}`), false)
	require.Len(t, b.Messages("task_created"), 2)

	b.Restart()

	msgs := b.Messages("task_created")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"taskId":"t1","userId":"u1","title":"Buy milk"}`, string(msgs[0].Publishing.Body))
}

func TestPublisher_PublishNotificationSent(t *testing.T) {
	b := mqtest.NewBroker()
	conn := connect(t, b)
	p := mq.NewPublisher(conn, discardLogger(), nil)

	sentAt := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	evt := domain.NewNotificationSentEvent(domain.TaskCreatedEvent{TaskID: "t1", UserID: "u1", Title: "Buy milk"}, sentAt)

	require.NoError(t, p.PublishNotificationSent(context.Background(), evt))

	msgs := b.Messages("notification_sent")
	require.Len(t, msgs, 1)
	assert.Equal(t, amqp.Persistent, msgs[0].Publishing.DeliveryMode)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Publishing.Body, &got))
	assert.Equal(t, "t1", got["taskId"])
	assert.Equal(t, "Buy milk", got["title"])
	assert.Equal(t, "SENT", got["status"])
	assert.Equal(t, "2026-10-18T12:00:00Z", got["sent_at"])
}
