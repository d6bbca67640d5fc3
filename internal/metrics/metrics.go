// Package metrics exposes Prometheus collectors for key reconciliation,
// proof-of-work and gateway traffic. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "authwallet"

// Metrics holds the module's collectors.
type Metrics struct {
	reconcile   *prometheus.CounterVec
	powSolve    prometheus.Histogram
	links       *prometheus.CounterVec
	gatewayReqs *prometheus.CounterVec
	gatewayTime *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused, so several clients may share reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Key reconciliations by outcome.",
		}, []string{"outcome"}),
		powSolve: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pow_solve_seconds",
			Help:      "Time spent searching for proof-of-work nonces.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_submissions_total",
			Help:      "PQ key link transactions by result.",
		}, []string{"result"}),
		gatewayReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Encrypted gateway calls by HTTP status code.",
		}, []string{"code"}),
		gatewayTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_seconds",
			Help:      "Latency of encrypted gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.reconcile, err = register(reg, m.reconcile)
	if err != nil {
		return nil, err
	}
	m.powSolve, err = register(reg, m.powSolve)
	if err != nil {
		return nil, err
	}
	m.links, err = register(reg, m.links)
	if err != nil {
		return nil, err
	}
	m.gatewayReqs, err = register(reg, m.gatewayReqs)
	if err != nil {
		return nil, err
	}
	m.gatewayTime, err = register(reg, m.gatewayTime)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Reconciled counts one reconciliation outcome, such as "linked",
// "relinked", "generated", "mismatch" or "unavailable".
func (m *Metrics) Reconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(outcome).Inc()
}

// PowSolved records a proof-of-work search duration.
func (m *Metrics) PowSolved(d time.Duration) {
	if m == nil {
		return
	}
	m.powSolve.Observe(d.Seconds())
}

// LinkSubmitted counts a link transaction result: "ok", "rejected" or "error".
func (m *Metrics) LinkSubmitted(result string) {
	if m == nil {
		return
	}
	m.links.WithLabelValues(result).Inc()
}

// GatewayCall records one gateway exchange. A status of zero means the
// request failed before a response arrived.
func (m *Metrics) GatewayCall(path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.gatewayReqs.WithLabelValues(code).Inc()
	m.gatewayTime.WithLabelValues(path).Observe(d.Seconds())
}
