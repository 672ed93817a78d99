package modhost

import (
	"context"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports lifecycle metrics. It is fed entirely by host events, so
// it is attached with RegisterObserver like any other observer.
type Metrics struct {
	ModuleState         *prometheus.GaugeVec
	ModuleFailuresTotal *prometheus.CounterVec
	ModuleEventsTotal   *prometheus.CounterVec
	OperationsTotal     *prometheus.CounterVec
	ModulesTotal        prometheus.Gauge
	FailingModules      prometheus.Gauge
}

// NewMetrics creates and registers the lifecycle metrics.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ModuleState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "modhost_module_state",
				Help: "1 for the current lifecycle state of each module, 0 otherwise",
			},
			[]string{"module", "state"},
		),
		ModuleFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_module_failures_total",
				Help: "Total number of contained module failures",
			},
			[]string{"module"},
		),
		ModuleEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_module_events_total",
				Help: "Total number of module lifecycle events emitted by the host",
			},
			[]string{"type"},
		),
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_lifecycle_operations_total",
				Help: "Total number of completed lifecycle operations",
			},
			[]string{"operation"},
		),
		ModulesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modhost_modules",
			Help: "Number of loaded modules",
		}),
		FailingModules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modhost_failing_modules",
			Help: "Number of modules holding a failure record",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ModuleState, m.ModuleFailuresTotal, m.ModuleEventsTotal,
		m.OperationsTotal, m.ModulesTotal, m.FailingModules,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return m, nil
}

// ObserverID identifies the metrics observer.
func (m *Metrics) ObserverID() string { return "modhost.metrics" }

// OnEvent updates the metrics from one host event.
func (m *Metrics) OnEvent(_ context.Context, event cloudevents.Event) error {
	switch event.Type() {
	case EventTypeHostStateChanged:
		var data HostStateEventData
		if err := event.DataAs(&data); err != nil {
			return fmt.Errorf("decoding %s: %w", event.Type(), err)
		}
		m.OperationsTotal.WithLabelValues(data.Operation).Inc()
		m.ModulesTotal.Set(float64(len(data.States)))
		m.FailingModules.Set(float64(data.Failures))
		m.ModuleState.Reset()
		for id, state := range data.States {
			for s := range stateNames {
				v := 0.0
				if s == state {
					v = 1
				}
				m.ModuleState.WithLabelValues(id, s.String()).Set(v)
			}
		}
	case EventTypeModuleFailed:
		data, err := DecodeModuleEvent(event)
		if err != nil {
			return err
		}
		m.ModuleFailuresTotal.WithLabelValues(data.ModuleID).Inc()
		m.ModuleEventsTotal.WithLabelValues(event.Type()).Inc()
	default:
		m.ModuleEventsTotal.WithLabelValues(event.Type()).Inc()
	}
	return nil
}
