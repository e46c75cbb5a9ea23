// Package api содержит служебный HTTP сервер процесса.
//
// Структура:
//   - handler.go    — Handler с DI (состояние брокера, registry, logger)
//   - routes.go     — регистрация маршрутов
//   - middleware.go — middleware (logging, recovery)
//   - response.go   — унифицированные JSON-ответы
//
// Endpoints:
//   - GET /healthz — процесс жив
//   - GET /readyz  — соединение с RabbitMQ в состоянии ready, иначе 503
//   - GET /metrics — Prometheus
package api
