// Package obsmetrics exposes the fabric's Prometheus metrics
// (SPEC_FULL.md §4.B/§6: Risk Gate admits/rejects, Arbiter supersedes,
// Order Verifier retries, ingress queue depth), modeled after the
// teacher's metrics.WebSocketMetrics: one struct of pre-registered
// collectors built in a constructor that takes a prometheus.Registerer.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the fabric-wide collector set. Every subsystem is handed
// the whole struct at construction and touches only its own collectors
// (e.g. risk.Gate uses RiskAdmits, RiskRejects, EmergencyStops,
// CurrentDrawdown and DailyLossPct).
type Metrics struct {
	RiskAdmits      *prometheus.CounterVec
	RiskRejects     *prometheus.CounterVec
	EmergencyStops  prometheus.Counter
	CurrentDrawdown prometheus.Gauge
	DailyLossPct    prometheus.Gauge

	ArbiterSupersedes *prometheus.CounterVec
	ArbiterWinners    *prometheus.CounterVec

	VerifierRetries     prometheus.Counter
	VerifierOutstanding prometheus.Gauge
	VerifierTimeouts    prometheus.Counter

	IngressQueueDepth *prometheus.GaugeVec
	TicksDropped      prometheus.Counter
}

// New builds and registers every collector against registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		RiskAdmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradefabric_risk_admits_total",
			Help: "Number of trades admitted by the Risk Gate.",
		}, []string{"scrip_code"}),
		RiskRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradefabric_risk_rejects_total",
			Help: "Number of trades rejected by the Risk Gate, by reason.",
		}, []string{"reason"}),
		EmergencyStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradefabric_emergency_stops_total",
			Help: "Number of times the emergency-stop latch has tripped.",
		}),
		CurrentDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradefabric_current_drawdown_pct",
			Help: "Current drawdown from peak portfolio value, as a fraction.",
		}),
		DailyLossPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradefabric_daily_loss_pct",
			Help: "Today's realized loss as a fraction of start-of-day value.",
		}),

		ArbiterSupersedes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradefabric_arbiter_supersedes_total",
			Help: "Number of signals superseded by a dedup/batch winner, by lane.",
		}, []string{"lane"}),
		ArbiterWinners: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradefabric_arbiter_winners_total",
			Help: "Number of signals forwarded as a batch winner, by lane.",
		}, []string{"lane"}),

		VerifierRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradefabric_verifier_retries_total",
			Help: "Number of order re-submissions after a REJECTED/CANCELLED/FAILED poll.",
		}),
		VerifierOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradefabric_verifier_outstanding",
			Help: "Number of broker orders currently tracked by the Order Verifier.",
		}),
		VerifierTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradefabric_verifier_timeouts_total",
			Help: "Number of orders that hit the hard verification timeout.",
		}),

		IngressQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradefabric_ingress_queue_depth",
			Help: "Current depth of an ingress queue.",
		}, []string{"queue"}),
		TicksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradefabric_price_ticks_dropped_total",
			Help: "Number of PriceTick deliveries dropped under the drop-newest overflow policy.",
		}),
	}

	registry.MustRegister(
		m.RiskAdmits, m.RiskRejects, m.EmergencyStops, m.CurrentDrawdown, m.DailyLossPct,
		m.ArbiterSupersedes, m.ArbiterWinners,
		m.VerifierRetries, m.VerifierOutstanding, m.VerifierTimeouts,
		m.IngressQueueDepth, m.TicksDropped,
	)
	return m
}
