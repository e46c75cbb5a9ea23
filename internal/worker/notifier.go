package worker

import (
	"context"
	"log/slog"

	"github.com/shaiso/taskpipe/internal/domain"
	"github.com/shaiso/taskpipe/internal/telemetry"
)

// Notifier — канал доставки уведомления пользователю.
//
// Вызывается синхронно внутри обработки сообщения. nil означает, что
// уведомление отправлено; ошибка отклоняет сообщение без requeue.
type Notifier interface {
	Notify(ctx context.Context, evt domain.TaskCreatedEvent) error
}

// NotifierFunc позволяет использовать функцию как Notifier.
type NotifierFunc func(ctx context.Context, evt domain.TaskCreatedEvent) error

// Notify вызывает f.
func (f NotifierFunc) Notify(ctx context.Context, evt domain.TaskCreatedEvent) error {
	return f(ctx, evt)
}

// LogNotifier — заглушка вместо email/push: пишет уведомление в лог.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify пишет уведомление в лог. Ошибок не возвращает.
// Если в ctx есть логгер доставки, запись идёт через него.
func (n *LogNotifier) Notify(ctx context.Context, evt domain.TaskCreatedEvent) error {
	telemetry.FromContext(ctx, n.logger).Info("NEW TASK",
		"title", evt.Title,
		"payload", evt,
	)
	return nil
}

// MultiNotifier вызывает notifier'ы по порядку и останавливается
// на первой ошибке.
type MultiNotifier []Notifier

// Notify реализует Notifier.
func (m MultiNotifier) Notify(ctx context.Context, evt domain.TaskCreatedEvent) error {
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
