// Package metrics holds the Prometheus collectors shared by the daemon
// loop and the audit scheduler. Exposed on the API server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pinner agent.
// A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	// Event ingestion
	EventsIngested *prometheus.CounterVec
	CursorLedger   prometheus.Gauge

	// Offer pipeline
	OffersSeen     prometheus.Counter
	OffersRejected *prometheus.CounterVec
	OffersQueued   prometheus.Counter

	// Pin pipeline
	PinsTotal     *prometheus.CounterVec
	PinDuration   prometheus.Histogram
	BytesPinned   prometheus.Counter
	ClaimsTotal   *prometheus.CounterVec
	EarningsTotal prometheus.Counter

	// Audit cycles
	VerificationChecks *prometheus.CounterVec
	CyclesTotal        prometheus.Counter
	CycleDuration      prometheus.Histogram
	FlagsSubmitted     prometheus.Counter

	// Wallet
	WalletBalance prometheus.Gauge
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinner_events_ingested_total",
				Help: "Contract events decoded from the ledger",
			},
			[]string{"kind"}, // kind: pin, pinned, unpin
		),
		CursorLedger: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pinner_cursor_ledger",
				Help: "Last ledger the event cursor has advanced past",
			},
		),
		OffersSeen: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinner_offers_seen_total",
				Help: "PIN offers observed on the contract",
			},
		),
		OffersRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinner_offers_rejected_total",
				Help: "Offers rejected by the policy filter",
			},
			[]string{"reason"},
		),
		OffersQueued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinner_offers_queued_total",
				Help: "Offers queued for operator approval",
			},
		),
		PinsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinner_pins_total",
				Help: "Pin pipeline executions",
			},
			[]string{"result"}, // result: success, failed
		),
		PinDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pinner_pin_duration_seconds",
				Help:    "Duration of the gateway-fetch pin pipeline",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		BytesPinned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinner_bytes_pinned_total",
				Help: "Content bytes pinned locally",
			},
		),
		ClaimsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinner_claims_total",
				Help: "collect_pin submissions",
			},
			[]string{"result"}, // result: success, failed
		),
		EarningsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinner_earnings_stroops_total",
				Help: "Stroops earned from successful claims",
			},
		),
		VerificationChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinner_verification_checks_total",
				Help: "Per-pin verification outcomes",
			},
			[]string{"outcome"}, // outcome: passed, failed, flagged, skipped, error
		),
		CyclesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinner_verification_cycles_total",
				Help: "Completed verification cycles",
			},
		),
		CycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pinner_verification_cycle_duration_seconds",
				Help:    "Duration of full verification cycles",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900},
			},
		),
		FlagsSubmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinner_flags_submitted_total",
				Help: "flag_pinner transactions submitted",
			},
		),
		WalletBalance: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pinner_wallet_balance_stroops",
				Help: "Native balance of the agent account",
			},
		),
	}
}

// RecordEvent counts one decoded contract event.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(kind).Inc()
}

// RecordCursor tracks the cursor's ledger position.
func (m *Metrics) RecordCursor(ledger uint32) {
	if m == nil {
		return
	}
	m.CursorLedger.Set(float64(ledger))
}

// RecordOfferSeen counts one observed PIN offer.
func (m *Metrics) RecordOfferSeen() {
	if m == nil {
		return
	}
	m.OffersSeen.Inc()
}

// RecordOfferQueued counts one offer queued for operator approval.
func (m *Metrics) RecordOfferQueued() {
	if m == nil {
		return
	}
	m.OffersQueued.Inc()
}

// RecordWalletBalance tracks the agent account's native balance.
func (m *Metrics) RecordWalletBalance(stroops int64) {
	if m == nil {
		return
	}
	m.WalletBalance.Set(float64(stroops))
}

// RecordRejection counts a policy rejection by reason.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.OffersRejected.WithLabelValues(reason).Inc()
}

// RecordPin records a pin pipeline outcome.
func (m *Metrics) RecordPin(success bool, bytes int64, durationSecs float64) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
		m.BytesPinned.Add(float64(bytes))
	}
	m.PinsTotal.WithLabelValues(result).Inc()
	m.PinDuration.Observe(durationSecs)
}

// RecordClaim records a collect_pin outcome.
func (m *Metrics) RecordClaim(success bool, earnedStroops int64) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
		m.EarningsTotal.Add(float64(earnedStroops))
	}
	m.ClaimsTotal.WithLabelValues(result).Inc()
}

// RecordCycle records an audit cycle's aggregate outcomes.
func (m *Metrics) RecordCycle(passed, failed, flagged, skipped, errors int, durationSecs float64) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(durationSecs)
	m.VerificationChecks.WithLabelValues("passed").Add(float64(passed))
	m.VerificationChecks.WithLabelValues("failed").Add(float64(failed))
	m.VerificationChecks.WithLabelValues("flagged").Add(float64(flagged))
	m.VerificationChecks.WithLabelValues("skipped").Add(float64(skipped))
	m.VerificationChecks.WithLabelValues("error").Add(float64(errors))
	m.FlagsSubmitted.Add(float64(flagged))
}
