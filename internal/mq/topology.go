package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue — тип для имени очереди.
type Queue string

// Queues — имена очередей. Это контракт на проводе: имена должны
// совпадать во всех сервисах.
const (
	QueueTaskCreated      Queue = "task_created"
	QueueNotificationSent Queue = "notification_sent"
	QueueTaskCreatedDead  Queue = "task_created.dead"
)

// QueueSpec — описание объявляемой очереди.
type QueueSpec struct {
	Name Queue
	Args amqp.Table
}

// TopologyConfig — параметры топологии.
type TopologyConfig struct {
	// DeadLetter включает очередь task_created.dead: отклонённые без
	// requeue сообщения task_created попадают туда, а не удаляются брокером.
	//
	// Меняет аргументы task_created, поэтому на брокере, где очередь уже
	// объявлена без них, вызовет ErrTopologyConflict.
	DeadLetter bool
}

// Queues возвращает очереди в порядке объявления.
func (t TopologyConfig) Queues() []QueueSpec {
	if !t.DeadLetter {
		return []QueueSpec{
			{Name: QueueTaskCreated},
			{Name: QueueNotificationSent},
		}
	}

	// DLQ объявляется первой: на неё ссылается task_created
	return []QueueSpec{
		{Name: QueueTaskCreatedDead},
		{Name: QueueTaskCreated, Args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": string(QueueTaskCreatedDead),
		}},
		{Name: QueueNotificationSent},
	}
}

// Setup возвращает SetupFunc для ConnectionConfig.
func (t TopologyConfig) Setup() SetupFunc {
	return func(ctx context.Context, ch Channel) error {
		return SetupTopology(ctx, ch, t)
	}
}

// SetupTopology объявляет очереди пайплайна.
//
// Вызывается один раз на каждое установление соединения, до того как
// канал станет доступен producer'у и consumer'у.
func SetupTopology(ctx context.Context, ch Channel, cfg TopologyConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return DeclareQueues(ch, cfg.Queues()...)
}

// DeclareQueues объявляет durable очереди.
//
// Повторное объявление с теми же параметрами ничего не меняет и не трогает
// содержимое очереди. Объявление с другими параметрами брокер отвергает
// с PRECONDITION_FAILED; это возвращается как ErrTopologyConflict.
func DeclareQueues(ch Channel, queues ...QueueSpec) error {
	for _, q := range queues {
		if _, err := declareQueue(ch, q); err != nil {
			return err
		}
	}

	return nil
}

func declareQueue(ch Channel, q QueueSpec) (amqp.Queue, error) {
	info, err := ch.QueueDeclare(
		string(q.Name), // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		q.Args,         // arguments
	)
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
			return amqp.Queue{}, fmt.Errorf("%w: queue %s: %s", ErrTopologyConflict, q.Name, amqpErr.Reason)
		}
		return amqp.Queue{}, fmt.Errorf("declare queue %s: %w", q.Name, err)
	}
	return info, nil
}

// TopologyInfo возвращает описание топологии для логирования и CLI.
func TopologyInfo(cfg TopologyConfig) string {
	var b strings.Builder

	b.WriteString("taskpipe RabbitMQ topology (default exchange):\n")
	b.WriteString("  task_created      [durable]\n")
	b.WriteString("      Producer: taskctl / task service\n")
	b.WriteString("      Consumer: notification worker\n")
	if cfg.DeadLetter {
		b.WriteString("      DLQ: task_created.dead\n")
		b.WriteString("  task_created.dead [durable]\n")
		b.WriteString("      Manual processing\n")
	}
	b.WriteString("  notification_sent [durable]\n")
	b.WriteString("      Producer: notification worker\n")

	return b.String()
}

// QueueStatus — состояние очереди на брокере.
type QueueStatus struct {
	Name      Queue `json:"name"`
	Messages  int   `json:"messages"`
	Consumers int   `json:"consumers"`
}

// InspectQueues повторно объявляет очереди топологии и возвращает
// количество сообщений и consumer'ов в каждой.
//
// Повторное объявление с теми же параметрами ничего не меняет,
// поэтому безопасно для работающей системы.
func InspectQueues(ctx context.Context, conn *Connection, cfg TopologyConfig) ([]QueueStatus, error) {
	queues := cfg.Queues()
	out := make([]QueueStatus, 0, len(queues))

	err := conn.WithChannel(ctx, func(ch Channel) error {
		for _, q := range queues {
			info, err := declareQueue(ch, q)
			if err != nil {
				return err
			}
			out = append(out, QueueStatus{Name: q.Name, Messages: info.Messages, Consumers: info.Consumers})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
