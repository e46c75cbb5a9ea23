package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/taskpipe/internal/domain"
	"github.com/shaiso/taskpipe/internal/mq"
	"github.com/shaiso/taskpipe/internal/telemetry"
)

// Default configuration values.
const (
	defaultPrefetch     = 5
	defaultRequeueDelay = time.Second
)

// EventPublisher публикует notification_sent.
// В проде это *mq.Publisher.
type EventPublisher interface {
	PublishNotificationSent(ctx context.Context, evt domain.NotificationSentEvent) error
}

// Worker — notification service.
//
// Получает TaskCreatedEvent из очереди task_created, отправляет
// уведомление через Notifier и публикует NotificationSentEvent.
// Исходное сообщение подтверждается только после успешной публикации.
type Worker struct {
	// MQ
	conn      *mq.Connection
	publisher EventPublisher
	consumer  *mq.Consumer

	notifier     Notifier
	prefetch     int
	requeueDelay time.Duration
	now          func() time.Time

	// Lifecycle
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// MQ
	Conn      *mq.Connection
	Publisher EventPublisher // если nil — mq.NewPublisher(Conn, ...)

	// Notifier (опционально; если nil — LogNotifier)
	Notifier Notifier

	// Prefetch — сколько сообщений обрабатывается параллельно (default: 5).
	Prefetch int

	// RequeueDelay — пауза перед возвратом сообщения в очередь, если
	// notification_sent не опубликовался (default: 1s, < 0 — без паузы).
	RequeueDelay time.Duration

	// Clock (опционально) — источник времени для sent_at.
	Clock func() time.Time

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = mq.NewPublisher(cfg.Conn, logger, cfg.Metrics)
	}

	requeueDelay := cfg.RequeueDelay
	if requeueDelay == 0 {
		requeueDelay = defaultRequeueDelay
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Worker{
		conn:         cfg.Conn,
		publisher:    publisher,
		notifier:     notifier,
		prefetch:     prefetch,
		requeueDelay: requeueDelay,
		now:          now,
		logger:       logger,
		metrics:      cfg.Metrics,
	}
}

// Start запускает consumer task_created и возвращается сразу.
// Остановка — через отмену ctx или Stop.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil {
		return ErrNoConnection
	}

	w.stoppedMu.Lock()
	defer w.stoppedMu.Unlock()
	if w.stopped {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting notification worker", "prefetch", w.prefetch)

	// Создаём consumer
	consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    mq.QueueTaskCreated,
		Handler:  w.handleTaskCreated,
		Prefetch: w.prefetch,
		Metrics:  w.metrics,
	})
	w.consumer = consumer

	// Запускаем consumer
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("task_created consumer error", "error", err)
		}
	}()

	w.logger.Info("notification worker started")
	return nil
}

// Stop останавливает Worker и ждёт, пока начатые доставки
// будут разрешены (ack/nack).
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	cancel, consumer := w.cancelFunc, w.consumer
	w.stoppedMu.Unlock()

	w.logger.Info("stopping notification worker...")

	if cancel != nil {
		cancel()
	}

	if consumer != nil {
		consumer.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("notification worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
