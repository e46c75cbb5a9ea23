package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы обработки доставки (label outcome).
const (
	OutcomeAcked     = "acked"
	OutcomeRequeued  = "requeued"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
)

// Metrics — Prometheus инструменты пайплайна.
//
// Регистрируются один раз через NewMetrics и передаются по указателю.
// Все методы безопасны для nil-получателя: компоненты без метрик
// (CLI, тесты) просто передают nil.
type Metrics struct {
	MessagesPublished *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	DeliveryDuration  *prometheus.HistogramVec
	BrokerState       prometheus.Gauge
}

// NewMetrics регистрирует инструменты в reg.
// Отдельный registry вместо prometheus.DefaultRegisterer изолирует тесты.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpipe_messages_published_total",
			Help: "Total messages handed to the broker with persistence requested.",
		}, []string{"queue"}),

		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpipe_publish_failures_total",
			Help: "Total publish attempts that did not reach the broker.",
		}, []string{"queue", "reason"}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpipe_deliveries_total",
			Help: "Total consumed deliveries by final outcome.",
		}, []string{"queue", "outcome"}),

		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskpipe_delivery_duration_seconds",
			Help:    "Time from receiving a delivery to resolving it with ack or nack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),

		BrokerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpipe_broker_state",
			Help: "Broker connection state: 0 idle, 1 connecting, 2 ready, 3 failed, 4 closed.",
		}),
	}

	reg.MustRegister(
		m.MessagesPublished,
		m.PublishFailures,
		m.Deliveries,
		m.DeliveryDuration,
		m.BrokerState,
	)

	return m
}

// ObservePublished учитывает успешную публикацию.
func (m *Metrics) ObservePublished(queue string) {
	if m == nil {
		return
	}
	m.MessagesPublished.WithLabelValues(queue).Inc()
}

// ObservePublishFailure учитывает неудачную публикацию.
func (m *Metrics) ObservePublishFailure(queue, reason string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(queue, reason).Inc()
}

// ObserveDelivery учитывает разрешённую доставку и время её обработки.
func (m *Metrics) ObserveDelivery(queue, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(queue, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// SetBrokerState выставляет текущее состояние соединения.
func (m *Metrics) SetBrokerState(state int) {
	if m == nil {
		return
	}
	m.BrokerState.Set(float64(state))
}
