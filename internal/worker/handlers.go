package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/taskpipe/internal/domain"
	"github.com/shaiso/taskpipe/internal/mq"
	"github.com/shaiso/taskpipe/internal/telemetry"
)

// handleTaskCreated обрабатывает событие из очереди task_created.
//
// Результат переводится consumer'ом в ack/nack, см. документацию пакета.
func (w *Worker) handleTaskCreated(ctx context.Context, delivery *mq.Delivery) error {
	// Received → Parsed
	evt, err := domain.DecodeTaskCreated(delivery.Body())
	if err != nil {
		return fmt.Errorf("%w: %w", mq.ErrMalformed, err)
	}

	logger := telemetry.WithTaskID(telemetry.FromContext(ctx, w.logger), evt.TaskID)
	ctx = telemetry.WithLogger(ctx, logger)

	if delivery.Redelivered() {
		// notification_sent по этой задаче мог уже уйти
		logger.Info("processing redelivered task_created event")
	} else {
		logger.Debug("received task_created event", "user_id", evt.UserID)
	}

	// Parsed → Processed
	if err := w.notifier.Notify(ctx, evt); err != nil {
		return fmt.Errorf("%w: task %s: %w", ErrNotifyFailed, evt.TaskID, err)
	}

	// Processed → Published
	sent := domain.NewNotificationSentEvent(evt, w.now())
	if err := w.publisher.PublishNotificationSent(ctx, sent); err != nil {
		attrs := []any{"error", err, "redelivered", delivery.Redelivered(), "requeue_delay", w.requeueDelay}
		if n, ok := delivery.DeliveryCount(); ok {
			attrs = append(attrs, "delivery_count", n)
		}
		logger.Warn("failed to publish notification_sent, returning message to queue", attrs...)

		// Сообщение не подтверждаем: оно вернётся в очередь
		w.pause(ctx, w.requeueDelay)
		return fmt.Errorf("%w: publish notification_sent for task %s: %w", mq.ErrRequeue, evt.TaskID, err)
	}

	logger.Info("notification sent event published",
		"title", evt.Title,
		"sent_at", sent.SentAt,
	)

	// Published → Acknowledged делает consumer
	return nil
}

// pause ждёт d или отмены ctx.
func (w *Worker) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
