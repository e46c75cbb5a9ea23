// Package cli реализует taskctl — инструмент командной строки пайплайна.
//
// # Обзор
//
// taskctl подключается к RabbitMQ напрямую (через internal/mq) и нужен
// для ручной работы с пайплайном: опубликовать task_created для уже
// сохранённой задачи, объявить и посмотреть топологию.
//
// # Ключевые компоненты
//
// ## Broker
//
// Сессия с брокером: Connection с объявленной топологией и Publisher.
//
//	b, err := cli.Connect(ctx, cli.BrokerConfig{URL: url})
//	defer b.Close()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
//
// ## Commands
//
//   - publish: публикация task_created
//   - topology: объявление очередей и их состояние
//
// Команды создаются фабричными функциями (NewPublishCmd и т.д.),
// принимающими brokerFn и outputFn — замыкания для ленивого создания
// Broker и Output после парсинга PersistentFlags.
//
// # Коды выхода
//
//   - 0 — успех
//   - 1 — ошибка (некорректные флаги, конфликт топологии)
//   - 3 — брокер недоступен (ExitUnavailable)
//   - 4 — publish: задача сохранена, но брокер отверг task_created (ExitNotEnqueued)
package cli
