// Package metrics holds the Prometheus collectors of the monitor. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"ewintr.nl/shortwatch/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	QuotaUsed       *prometheus.GaugeVec
	APIAttempts     *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	ChannelsChecked *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. When reg is also a
// Gatherer, Handler serves exactly what was registered there.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QuotaUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shortwatch_quota_used",
				Help: "Quota units used today, by api key identifier.",
			},
			[]string{"key"},
		),
		APIAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortwatch_api_attempts_total",
				Help: "YouTube API attempts, by outcome.",
			},
			[]string{"outcome"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortwatch_notifications_total",
				Help: "Notification deliveries, by result.",
			},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shortwatch_cycle_duration_seconds",
				Help:    "Duration of a full monitoring cycle.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		ChannelsChecked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortwatch_channels_checked_total",
				Help: "Channel refreshes, by result.",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.QuotaUsed, m.APIAttempts, m.Notifications, m.CycleDuration, m.ChannelsChecked)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.APIAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveChannel(result string) {
	if m == nil {
		return
	}
	m.ChannelsChecked.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) SetQuota(status []model.QuotaStatus) {
	if m == nil {
		return
	}
	for _, s := range status {
		m.QuotaUsed.WithLabelValues(s.Identifier).Set(float64(s.Used))
	}
}
