package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the reporting funnel.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	PagesSubmitted   prometheus.Counter
	ReportsCompleted prometheus.Counter
	AliasConflicts   prometheus.Counter
	SMSInbound       prometheus.Counter
	SMSReplies       prometheus.Counter
	SpecRebuilds     prometheus.Counter
}

// New creates and registers all metrics against the given registerer. Tests
// pass a fresh prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "haven_sessions_started_total",
			Help: "Reporting sessions created across both channels",
		}),
		PagesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "haven_pages_submitted_total",
			Help: "Successfully validated and persisted page submissions",
		}),
		ReportsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "haven_reports_completed_total",
			Help: "Reports that reached the terminal what-next state",
		}),
		AliasConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "haven_alias_conflicts_total",
			Help: "Alias claims rejected because another report owns the alias",
		}),
		SMSInbound: factory.NewCounter(prometheus.CounterOpts{
			Name: "haven_sms_inbound_total",
			Help: "Inbound SMS webhook deliveries",
		}),
		SMSReplies: factory.NewCounter(prometheus.CounterOpts{
			Name: "haven_sms_replies_total",
			Help: "Outbound SMS replies dispatched",
		}),
		SpecRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "haven_spec_rebuilds_total",
			Help: "Explicit form specification cache rebuilds",
		}),
	}
}
