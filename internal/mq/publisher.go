package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/taskpipe/internal/domain"
	"github.com/shaiso/taskpipe/internal/telemetry"
)

// MessageType — тип сообщения в очереди (заголовок AMQP type).
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskCreated      MessageType = "task.created"
	MessageTypeNotificationSent MessageType = "notification.sent"
)

// Publisher публикует события в RabbitMQ.
type Publisher struct {
	conn    *Connection
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger, metrics *telemetry.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		conn:    conn,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Publish сериализует payload в JSON и кладёт его в очередь через default exchange.
//
// Сообщение публикуется с DeliveryMode=Persistent. Возврат nil означает,
// что сообщение передано брокеру; дальше за доставку отвечает брокер.
// Если канал не готов, возвращается ErrUnavailable без попытки публикации.
// Канал, закрытый во время публикации, тоже даёт ErrUnavailable.
func (p *Publisher) Publish(ctx context.Context, queue Queue, msgType MessageType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}

	msgID := uuid.New().String()

	err = p.conn.WithChannel(ctx, func(ch Channel) error {
		return ch.PublishWithContext(
			ctx,
			"",            // default exchange
			string(queue), // routing key = имя очереди
			false,         // mandatory
			false,         // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msgID,
				Timestamp:    p.now(),
				Type:         string(msgType),
				Body:         body,
			},
		)
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			p.metrics.ObservePublishFailure(string(queue), "unavailable")
			return err
		}
		// Канал умер раньше, чем это заметил watcher
		if errors.Is(err, amqp.ErrClosed) {
			p.metrics.ObservePublishFailure(string(queue), "unavailable")
			return fmt.Errorf("%w: publish to %s: %w", ErrUnavailable, queue, err)
		}
		p.metrics.ObservePublishFailure(string(queue), "broker")
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	p.metrics.ObservePublished(string(queue))
	p.logger.Debug("published message",
		"queue", queue,
		"message_id", msgID,
		"type", msgType,
	)

	return nil
}

// PublishTaskCreated публикует событие о созданной задаче.
// Потребитель: notification worker.
//
// Запись уже сохранена хранилищем. Если вернулся ErrUnavailable, вызывающий
// должен сообщить о частичном успехе (задача есть, события нет), а не
// маскировать это под общую ошибку.
func (p *Publisher) PublishTaskCreated(ctx context.Context, record domain.TaskRecord) (domain.TaskCreatedEvent, error) {
	evt, err := domain.NewTaskCreatedEvent(record)
	if err != nil {
		return domain.TaskCreatedEvent{}, err
	}

	if err := p.Publish(ctx, QueueTaskCreated, MessageTypeTaskCreated, evt); err != nil {
		return domain.TaskCreatedEvent{}, err
	}

	p.logger.Info("task created event enqueued",
		"task_id", evt.TaskID,
		"user_id", evt.UserID,
	)

	return evt, nil
}

// PublishNotificationSent публикует событие об отправленном уведомлении.
func (p *Publisher) PublishNotificationSent(ctx context.Context, evt domain.NotificationSentEvent) error {
	if err := evt.Validate(); err != nil {
		return err
	}

	return p.Publish(ctx, QueueNotificationSent, MessageTypeNotificationSent, evt)
}
