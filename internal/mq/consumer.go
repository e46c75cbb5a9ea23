package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/taskpipe/internal/telemetry"
)

// Handler — функция обработки сообщения.
//
// Результат определяет судьбу доставки:
//   - nil — ack
//   - ошибка с ErrRequeue — nack с requeue (повторная доставка)
//   - любая другая ошибка — nack без requeue (сообщение отбрасывается
//     или уходит в DLQ, если она настроена на очереди)
//
// Handler не подтверждает доставку сам: это делает Consumer ровно один раз.
// В ctx лежит логгер доставки (queue, message_id), см. telemetry.FromContext.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Queue — очередь, из которой пришло сообщение.
	Queue Queue

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Body возвращает тело сообщения.
func (d *Delivery) Body() []byte {
	return d.Raw.Body
}

// Redelivered сообщает, доставлялось ли сообщение раньше.
func (d *Delivery) Redelivered() bool {
	return d.Raw.Redelivered
}

// DeliveryCount возвращает заголовок x-delivery-count. Брокер ставит его
// только для quorum очередей; для classic очередей ok=false.
func (d *Delivery) DeliveryCount() (n int64, ok bool) {
	switch v := d.Raw.Headers["x-delivery-count"].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	queue    Queue
	handler  Handler
	prefetch int

	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue Queue

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений брокер отдаёт заранее.
	// Столько же доставок обрабатывается параллельно.
	Prefetch int

	Metrics *telemetry.Metrics
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		metrics:  cfg.Metrics,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start запускает потребление сообщений и блокируется до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer cancel()

	// Запускаем основной цикл потребления
	return c.consume(ctx)
}

// consume — основной цикл потребления.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Получаем канал доставки
		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
			// Ждём переподключения
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
				continue
			}
		}

		c.logger.Info("consumer started", "queue", c.queue, "prefetch", c.prefetch)

		// Обрабатываем сообщения
		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, reconnecting", "queue", c.queue)
			// Канал закрыт, ждём переподключения
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrUnavailable
	}

	var deliveries <-chan amqp.Delivery
	err := c.conn.Serialize(func() error {
		// Устанавливаем prefetch
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}

		// Начинаем потребление
		var err error
		deliveries, err = ch.Consume(
			string(c.queue), // queue
			"",              // consumer tag (auto-generated)
			false,           // auto-ack (мы ack вручную)
			false,           // exclusive
			false,           // no-local
			false,           // no-wait
			nil,             // args
		)
		if err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return deliveries, nil
}

// processDeliveries обрабатывает сообщения из канала.
//
// Каждая доставка обрабатывается в своей горутине, одновременно не больше
// prefetch штук. Перед возвратом дожидается всех начатых обработок.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	var g errgroup.Group
	g.SetLimit(c.prefetch)
	defer g.Wait()

	// Обработка не прерывается остановкой consumer'а: начатая доставка
	// доводится до ack/nack.
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}

			g.Go(func() error {
				c.handleDelivery(handlerCtx, raw)
				return nil
			})
		}
	}
}

// handleDelivery обрабатывает одно сообщение и разрешает доставку ровно один раз.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	start := time.Now()
	logger := telemetry.WithMessageID(telemetry.WithQueue(c.logger, string(c.queue)), raw.MessageId)

	delivery := &Delivery{Queue: c.queue, Raw: raw}
	ctx = telemetry.WithLogger(ctx, logger)

	logger.Debug("received message",
		"delivery_tag", raw.DeliveryTag,
		"redelivered", raw.Redelivered,
	)

	err := c.invoke(ctx, delivery)

	var outcome string
	var resolveErr error
	switch {
	case err == nil:
		outcome = telemetry.OutcomeAcked
		resolveErr = c.conn.Serialize(func() error { return raw.Ack(false) })

	case errors.Is(err, ErrRequeue):
		outcome = telemetry.OutcomeRequeued
		logger.Warn("handler asked for redelivery", "error", err)
		resolveErr = c.conn.Serialize(func() error { return raw.Nack(false, true) })

	case errors.Is(err, ErrMalformed):
		outcome = telemetry.OutcomeMalformed
		// Некорректное сообщение — отклоняем без requeue, тело в лог для разбора
		logger.Error("rejecting malformed message",
			"error", err,
			"body", string(raw.Body),
		)
		resolveErr = c.conn.Serialize(func() error { return raw.Nack(false, false) })

	default:
		outcome = telemetry.OutcomeRejected
		logger.Error("handler failed, rejecting message",
			"error", err,
			"body", string(raw.Body),
		)
		resolveErr = c.conn.Serialize(func() error { return raw.Nack(false, false) })
	}

	if resolveErr != nil {
		// Канал уже закрыт: брокер сам вернёт сообщение в очередь
		logger.Warn("failed to resolve delivery",
			"outcome", outcome,
			"error", resolveErr,
		)
		return
	}

	c.metrics.ObserveDelivery(string(c.queue), outcome, time.Since(start))
}

// invoke вызывает handler; паника превращается в ошибку обработки,
// чтобы одно сообщение не остановило цикл потребления.
func (c *Consumer) invoke(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return c.handler(ctx, d)
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}
