// Package metrics exports Prometheus metrics for campaign sends.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the mailcenter Prometheus collectors.
type Metrics struct {
	EmailsSentTotal         *prometheus.CounterVec
	EmailsFailedTotal       *prometheus.CounterVec
	CampaignsCompletedTotal prometheus.Counter
	CampaignsPartialTotal   prometheus.Counter
	SendPassDurationSeconds prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcenter_emails_sent_total",
				Help: "Total number of campaign emails accepted by the provider",
			},
			[]string{"category"},
		),
		EmailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcenter_emails_failed_total",
				Help: "Total number of campaign emails that failed to send",
			},
			[]string{"category"},
		),
		CampaignsCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailcenter_campaigns_completed_total",
				Help: "Total number of send passes where every recipient succeeded",
			},
		),
		CampaignsPartialTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailcenter_campaigns_partial_total",
				Help: "Total number of send passes with at least one failed recipient",
			},
		),
		SendPassDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailcenter_send_pass_duration_seconds",
				Help:    "Duration of full send passes",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.EmailsSentTotal,
		m.EmailsFailedTotal,
		m.CampaignsCompletedTotal,
		m.CampaignsPartialTotal,
		m.SendPassDurationSeconds,
	)

	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
