package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/taskpipe/internal/mq"
)

// BrokerState сообщает текущее состояние соединения с брокером.
// Реализуется *mq.Connection.
type BrokerState interface {
	State() mq.State
}

// Handler — обработчик служебных endpoint'ов.
type Handler struct {
	broker   BrokerState
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Broker BrokerState

	// Gatherer — источник метрик для /metrics
	// (если nil — prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		broker:   cfg.Broker,
		gatherer: gatherer,
		logger:   logger,
	}
}

// HealthResponse — тело ответа /healthz и /readyz.
type HealthResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker,omitempty"`
}

// Healthz — liveness: процесс отвечает.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz — readiness: можно ли прямо сейчас работать с очередями.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	state := mq.StateIdle
	if h.broker != nil {
		state = h.broker.State()
	}

	if state != mq.StateReady {
		JSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unavailable",
			Broker: state.String(),
		})
		return
	}

	JSON(w, http.StatusOK, HealthResponse{Status: "ok", Broker: state.String()})
}
