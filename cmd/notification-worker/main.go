// Notification worker — потребляет task_created и публикует notification_sent.
//
// Worker:
//   - Подключается к RabbitMQ с ограниченным числом попыток
//   - Объявляет очереди task_created и notification_sent
//   - Отправляет уведомление (лог и, если задан, webhook)
//   - Подтверждает сообщение только после публикации notification_sent
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaiso/taskpipe/internal/api"
	"github.com/shaiso/taskpipe/internal/config"
	"github.com/shaiso/taskpipe/internal/mq"
	"github.com/shaiso/taskpipe/internal/telemetry"
	"github.com/shaiso/taskpipe/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Логгер ещё не настроен
		telemetry.SetupLogger().Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting notification-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	// RabbitMQ
	conn := mq.NewConnection(mq.ConnectionConfig{
		URL:        cfg.RabbitMQ.URL,
		MaxRetries: cfg.RabbitMQ.MaxRetries,
		RetryDelay: cfg.RabbitMQ.RetryDelay,
		Setup:      cfg.Topology().Setup(),
		Logger:     logger,
		Metrics:    metrics,
	})
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		// Без брокера worker'у нечего делать
		logger.Error("RabbitMQ not available, exiting", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected", "dead_letter", cfg.RabbitMQ.DeadLetter)

	// Канал уведомлений
	notifier := worker.MultiNotifier{worker.NewLogNotifier(logger)}
	if cfg.Notify.WebhookURL != "" {
		notifier = append(notifier, worker.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
		logger.Info("webhook notifications enabled")
	}

	// WORKER_REQUEUE_DELAY=0s — без паузы
	requeueDelay := cfg.Worker.RequeueDelay
	if requeueDelay == 0 {
		requeueDelay = -1
	}

	// Создаём worker
	w := worker.New(worker.Config{
		Conn:         conn,
		Publisher:    mq.NewPublisher(conn, logger, metrics),
		Notifier:     notifier,
		Prefetch:     cfg.RabbitMQ.Prefetch,
		RequeueDelay: requeueDelay,
		Metrics:      metrics,
		Logger:       logger,
	})

	// Запускаем worker
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP: /healthz, /readyz, /metrics
	mux := http.NewServeMux()
	api.NewHandler(api.Config{
		Broker:   conn,
		Gatherer: registry,
		Logger:   logger,
	}).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения или потерю брокера
	exitCode := 0
	select {
	case <-ctx.Done():
	case <-conn.Failed():
		// Как и при старте: без брокера worker'у нечего делать
		logger.Error("RabbitMQ reconnect retries exhausted, exiting")
		exitCode = 1
	}

	// Останавливаем worker: начатые доставки доводятся до ack/nack
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	shutdownCancel()

	logger.Info("notification-worker stopped")

	if exitCode != 0 {
		conn.Close()
		os.Exit(exitCode)
	}
}
