// internal/pkg/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OrderingMetrics 汇总订单流程的 Prometheus 指标
type OrderingMetrics struct {
	Transitions     *prometheus.CounterVec
	GuardRejections *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	RemindersFired  *prometheus.CounterVec
	TurnDuration    *prometheus.HistogramVec
}

// NewOrderingMetrics 创建并注册指标; reg 为 nil 时使用默认注册表
func NewOrderingMetrics(reg prometheus.Registerer) *OrderingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &OrderingMetrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordering",
			Name:      "transitions_total",
			Help:      "Order status transitions committed.",
		}, []string{"from", "to"}),
		GuardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordering",
			Name:      "guard_rejections_total",
			Help:      "Transitions rejected by the status guard.",
		}, []string{"operation", "reason"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordering",
			Name:      "events_published_total",
			Help:      "Integration events published.",
		}, []string{"event"}),
		RemindersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordering",
			Name:      "reminders_fired_total",
			Help:      "Reminders delivered to an order process.",
		}, []string{"name"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ordering",
			Name:      "turn_duration_seconds",
			Help:      "Duration of a single order process turn.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.Transitions, m.GuardRejections, m.EventsPublished, m.RemindersFired, m.TurnDuration)
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}
