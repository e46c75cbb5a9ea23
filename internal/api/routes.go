package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует служебные маршруты.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// healthz и readyz без логирования запросов
	healthChain := Chain(
		Recovery(h.logger),
	)

	mux.Handle("GET /healthz", healthChain(http.HandlerFunc(h.Healthz)))
	mux.Handle("GET /readyz", healthChain(http.HandlerFunc(h.Readyz)))

	mux.Handle("GET /metrics", chain(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{
		ErrorLog: slogErrorLog{h.logger},
	})))
}

// slogErrorLog адаптирует slog к promhttp.Logger.
type slogErrorLog struct {
	logger *slog.Logger
}

func (l slogErrorLog) Println(v ...any) {
	l.logger.Error("metrics handler error", "error", v)
}
