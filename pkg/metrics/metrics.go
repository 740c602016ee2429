package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konnectsphere",
		Name:      "webhook_events_total",
		Help:      "Billing gateway webhook deliveries by event type and result.",
	}, []string{"type", "result"})

	SweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konnectsphere",
		Name:      "sweep_runs_total",
		Help:      "Scheduled sweep executions by job and result.",
	}, []string{"job", "result"})

	SweepAffected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konnectsphere",
		Name:      "sweep_records_total",
		Help:      "Records changed by scheduled sweeps.",
	}, []string{"job"})

	EmailsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konnectsphere",
		Name:      "emails_total",
		Help:      "Transactional emails by template and result.",
	}, []string{"template", "result"})

	Registry = prometheus.NewRegistry()
)

func init() {
	Registry.MustRegister(
		WebhookEvents,
		SweepRuns,
		SweepAffected,
		EmailsSent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
