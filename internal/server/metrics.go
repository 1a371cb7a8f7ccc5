package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agdt/internal/domain"
)

// Metrics counts task lifecycle changes. It is a tasks.Observer.
type Metrics struct {
	// TasksTotal counts status changes.
	// Labels: command, status (pending, running, succeeded, failed)
	TasksTotal *prometheus.CounterVec
	// TaskDuration observes running-to-terminal time of finished tasks.
	TaskDuration *prometheus.HistogramVec
	// WebhookDeliveries counts webhook posts.
	// Labels: result (ok, error)
	WebhookDeliveries *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agdt",
				Subsystem: "tasks",
				Name:      "transitions_total",
				Help:      "Task status transitions by action and status",
			},
			[]string{"command", "status"},
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agdt",
				Subsystem: "tasks",
				Name:      "duration_seconds",
				Help:      "Run time of finished tasks in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command", "status"},
		),
		WebhookDeliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agdt",
				Subsystem: "webhooks",
				Name:      "deliveries_total",
				Help:      "Webhook deliveries by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) TaskChanged(_ context.Context, rec domain.TaskRecord) error {
	if m == nil {
		return nil
	}
	m.TasksTotal.WithLabelValues(rec.Command, string(rec.Status)).Inc()
	if rec.Status.Terminal() && rec.StartedAt != nil && rec.FinishedAt != nil {
		start, err1 := time.Parse(time.RFC3339Nano, *rec.StartedAt)
		end, err2 := time.Parse(time.RFC3339Nano, *rec.FinishedAt)
		if err1 == nil && err2 == nil && !end.Before(start) {
			m.TaskDuration.WithLabelValues(rec.Command, string(rec.Status)).Observe(end.Sub(start).Seconds())
		}
	}
	return nil
}

func (m *Metrics) webhookDelivered(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.WebhookDeliveries.WithLabelValues("error").Inc()
		return
	}
	m.WebhookDeliveries.WithLabelValues("ok").Inc()
}
