// Package worker — notification service: потребляет task_created,
// отправляет уведомление и публикует notification_sent.
//
// # Обзор
//
// Worker — stateless компонент пайплайна. На каждое сообщение из
// очереди task_created он проходит цепочку состояний:
//
//	Received → Parsed → Processed → Published → Acknowledged
//	    ↘          ↘           ↘
//	                 Rejected
//
// Экземпляры масштабируются горизонтально: несколько worker'ов
// потребляют из одной очереди task_created.
//
// # Ключевые компоненты
//
// ## Worker
//
// Создаётся через New(cfg Config) и запускается методом Start(ctx).
//
//	w := worker.New(worker.Config{
//	    Conn:      conn,
//	    Publisher: mq.NewPublisher(conn, logger, metrics),
//	    Notifier:  worker.NewLogNotifier(logger),
//	    Logger:    logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// ## Notifier
//
// Канал уведомлений:
//
//	type Notifier interface {
//	    Notify(ctx context.Context, evt domain.TaskCreatedEvent) error
//	}
//
// Реализации:
//   - LogNotifier — пишет уведомление в лог
//   - WebhookNotifier — POST события на внешний URL
//   - MultiNotifier — несколько каналов по порядку
//
// # Подтверждение
//
// Worker не подтверждает сообщения сам: handler возвращает результат,
// а mq.Consumer превращает его ровно в один ack или nack.
//
//   - Parsed не удалось → mq.ErrMalformed, nack без requeue
//   - Notifier вернул ошибку → nack без requeue
//   - Публикация notification_sent не удалась → mq.ErrRequeue, сообщение
//     вернётся в очередь
//   - Всё успешно → ack, строго после публикации
//
// Доставка at-least-once: падение между публикацией и ack приводит
// к повторной доставке и дублю notification_sent. Потребители
// notification_sent должны быть идемпотентны по taskId.
package worker
