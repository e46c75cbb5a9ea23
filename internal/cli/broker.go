package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/taskpipe/internal/domain"
	"github.com/shaiso/taskpipe/internal/mq"
)

// BrokerConfig — параметры подключения taskctl.
type BrokerConfig struct {
	URL        string
	MaxRetries int
	RetryDelay time.Duration
	Topology   mq.TopologyConfig

	// Dialer (опционально; если nil — AMQPDialer).
	Dialer mq.Dialer

	Logger *slog.Logger
}

// Broker — сессия taskctl с RabbitMQ.
type Broker struct {
	conn      *mq.Connection
	publisher *mq.Publisher
	topology  mq.TopologyConfig
}

// Connect подключается к брокеру и объявляет топологию.
// Если брокер недоступен, ошибка удовлетворяет errors.Is(err, mq.ErrUnavailable).
func Connect(ctx context.Context, cfg BrokerConfig) (*Broker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn := mq.NewConnection(mq.ConnectionConfig{
		URL:        cfg.URL,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Dialer:     cfg.Dialer,
		Setup:      cfg.Topology.Setup(),
		Logger:     logger,
	})

	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return &Broker{
		conn:      conn,
		publisher: mq.NewPublisher(conn, logger, nil),
		topology:  cfg.Topology,
	}, nil
}

// PublishTaskCreated публикует task_created для сохранённой задачи.
func (b *Broker) PublishTaskCreated(ctx context.Context, record domain.TaskRecord) (domain.TaskCreatedEvent, error) {
	return b.publisher.PublishTaskCreated(ctx, record)
}

// Queues возвращает состояние очередей топологии.
func (b *Broker) Queues(ctx context.Context) ([]mq.QueueStatus, error) {
	return mq.InspectQueues(ctx, b.conn, b.topology)
}

// Topology возвращает описание топологии.
func (b *Broker) Topology() string {
	return mq.TopologyInfo(b.topology)
}

// Close закрывает соединение.
func (b *Broker) Close() error {
	return b.conn.Close()
}
