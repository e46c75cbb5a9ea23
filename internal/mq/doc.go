// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - channel.go    — интерфейсы Channel/BrokerConn поверх amqp091-go
//   - connection.go — менеджер соединения (retry, состояние, reconnect, graceful shutdown)
//   - topology.go   — объявление durable очередей
//   - publisher.go  — публикация событий в очереди
//   - consumer.go   — потребление сообщений с ручным ack/nack
//
// Очереди (default exchange, routing key = имя очереди):
//   - task_created      — задача создана, потребитель: notification worker
//   - notification_sent — уведомление отправлено
//   - task_created.dead — DLQ для task_created (включается конфигом)
//
// Гарантии:
//   - Каждое сообщение публикуется с DeliveryMode=Persistent
//   - Подтверждение только ручное; доставка разрешается ровно один раз
//   - publish/ack/nack на общем канале сериализованы (Connection.WithChannel,
//     Connection.Serialize)
package mq
