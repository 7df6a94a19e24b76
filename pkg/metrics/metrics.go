// Package metrics exports flow node lifecycle metrics to Prometheus.
//
//	m, err := metrics.New(prometheus.DefaultRegisterer)
//	engine := processengine.New(models, processengine.WithLifecycleHooks(m.Hooks()))
package metrics

import (
	"context"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "processengine"

// Metrics implements the engine lifecycle hooks with Prometheus collectors.
type Metrics struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	suspended   *prometheus.GaugeVec

	// entered holds the enter time of running instances; waiting the
	// suspended ones. Both are keyed by flow node instance id.
	entered sync.Map
	waiting sync.Map
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "flow_node_transitions_total",
				Help:      "Total number of flow node lifecycle transitions.",
			},
			[]string{"process_model_id", "flow_node_kind", "state"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "flow_node_duration_seconds",
				Help:      "Time from entering a flow node to its terminal state.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"process_model_id", "flow_node_kind", "state"},
		),
		suspended: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "flow_nodes_suspended",
				Help:      "Flow node instances currently suspended by this engine.",
			},
			[]string{"process_model_id", "flow_node_kind"},
		),
	}
	for _, c := range []prometheus.Collector{m.transitions, m.duration, m.suspended} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns the lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnFlowNodeEnter: func(_ context.Context, ev *domain.FlowNodeEvent) {
			m.count(ev)
			m.entered.Store(ev.FlowNodeInstanceID, ev)
		},
		OnFlowNodeSuspend: func(_ context.Context, ev *domain.FlowNodeEvent) {
			m.count(ev)
			if _, loaded := m.waiting.LoadOrStore(ev.FlowNodeInstanceID, struct{}{}); !loaded {
				m.suspended.WithLabelValues(ev.ProcessModelID, string(ev.FlowNodeKind)).Inc()
			}
		},
		OnFlowNodeResume: func(_ context.Context, ev *domain.FlowNodeEvent) {
			m.count(ev)
			m.wake(ev)
		},
		OnFlowNodeExit:   m.terminal,
		OnFlowNodeError:  m.terminal,
		OnFlowNodeCancel: m.terminal,
	}
}

func (m *Metrics) count(ev *domain.FlowNodeEvent) {
	m.transitions.WithLabelValues(ev.ProcessModelID, string(ev.FlowNodeKind), string(ev.State)).Inc()
}

func (m *Metrics) wake(ev *domain.FlowNodeEvent) {
	if _, ok := m.waiting.LoadAndDelete(ev.FlowNodeInstanceID); ok {
		m.suspended.WithLabelValues(ev.ProcessModelID, string(ev.FlowNodeKind)).Dec()
	}
}

func (m *Metrics) terminal(_ context.Context, ev *domain.FlowNodeEvent) {
	m.count(ev)
	m.wake(ev)
	// Instances resumed after a restart have no enter time here.
	if v, ok := m.entered.LoadAndDelete(ev.FlowNodeInstanceID); ok {
		start := v.(*domain.FlowNodeEvent).Timestamp
		m.duration.WithLabelValues(ev.ProcessModelID, string(ev.FlowNodeKind), string(ev.State)).
			Observe(ev.Timestamp.Sub(start).Seconds())
	}
}
