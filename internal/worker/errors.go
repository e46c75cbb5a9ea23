package worker

import "errors"

// Ошибки воркера.
var (
	// ErrNotifyFailed — канал уведомлений вернул ошибку.
	ErrNotifyFailed = errors.New("notification failed")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrNoConnection — в Config не передано соединение с брокером.
	ErrNoConnection = errors.New("worker: connection is required")

	// ErrWebhook — HTTP-запрос к webhook завершился ошибкой.
	ErrWebhook = errors.New("webhook request failed")
)
