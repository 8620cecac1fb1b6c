package metrics

import (
	"strconv"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "solverd"

// Metrics is the prometheus backed decision log of the solver.
type Metrics struct {
	intentsDiscovered *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	decisions         *prometheus.CounterVec
	reservations      *prometheus.CounterVec
	settlements       *prometheus.CounterVec
	receipts          *prometheus.CounterVec
	watcherHeight     *prometheus.GaugeVec
	rpcErrors         *prometheus.CounterVec
}

var _ ports.Metrics = (*Metrics)(nil)

// New creates the solver metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		intentsDiscovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intents",
			Name:      "discovered_total",
			Help:      "Intents discovered segmented by source chain.",
		}, []string{"chain"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intents",
			Name:      "transitions_total",
			Help:      "Intent status transitions segmented by source and target status.",
		}, []string{"from", "to"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "decisions_total",
			Help:      "Strategy decisions segmented by outcome and reject reason.",
		}, []string{"outcome", "reason"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "reservations_total",
			Help:      "Liquidity reservation attempts segmented by chain, token and outcome.",
		}, []string{"chain", "token", "outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "executions_total",
			Help:      "Finished executions segmented by final stage.",
		}, []string{"stage"}),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attestation",
			Name:      "receipts_total",
			Help:      "Received transfer receipts segmented by outcome.",
		}, []string{"outcome"}),
		watcherHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "head_height",
			Help:      "Latest head height seen by the chain watcher.",
		}, []string{"chain"}),
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_errors_total",
			Help:      "Failed chain rpc interactions segmented by chain.",
		}, []string{"chain"}),
	}

	for _, c := range []prometheus.Collector{
		m.intentsDiscovered, m.transitions, m.decisions, m.reservations,
		m.settlements, m.receipts, m.watcherHeight, m.rpcErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) IntentDiscovered(chainId uint64) {
	m.intentsDiscovered.WithLabelValues(chainLabel(chainId)).Inc()
}

func (m *Metrics) IntentTransitioned(from, to domain.IntentStatus) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) DecisionMade(accept bool, reason domain.RejectReason) {
	outcome := "rejected"
	if accept {
		outcome = "accepted"
	}
	m.decisions.WithLabelValues(outcome, string(reason)).Inc()
}

func (m *Metrics) ReservationAttempted(chainId uint64, token string, ok bool) {
	m.reservations.WithLabelValues(chainLabel(chainId), token, outcomeLabel(ok)).Inc()
}

func (m *Metrics) SettlementFinished(stage domain.SettlementStage) {
	m.settlements.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) ReceiptProcessed(outcome string) {
	m.receipts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WatcherHeight(chainId uint64, height uint64) {
	m.watcherHeight.WithLabelValues(chainLabel(chainId)).Set(float64(height))
}

func (m *Metrics) RpcError(chainId uint64) {
	m.rpcErrors.WithLabelValues(chainLabel(chainId)).Inc()
}

func chainLabel(chainId uint64) string {
	return strconv.FormatUint(chainId, 10)
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
