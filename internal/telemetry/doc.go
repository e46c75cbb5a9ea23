// Package telemetry обеспечивает наблюдаемость пайплайна.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики брокера, публикаций и доставок
//
// Все сервисы используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
