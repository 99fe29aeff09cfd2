package usbshell

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usbshell_dispatch_total",
		Help: "The total number of commands dispatched, by command code",
	}, []string{"command"})

	protocolFatalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usbshell_protocol_fatal_total",
		Help: "The total number of sequence/transport failures that aborted a session",
	})

	protectionViolationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usbshell_protection_violation_total",
		Help: "The total number of protection-violation results, by command code",
	}, []string{"command"})

	streamBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usbshell_stream_bytes_total",
		Help: "Bytes moved by a streaming sub-protocol, by command code",
	}, []string{"command"})

	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "usbshell_stream_duration_seconds",
		Help:    "Duration of one streaming exchange, by command code",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "usbshell_sessions_active",
		Help: "The number of dispatcher sessions currently running",
	})
)

// counterValue reads the current value of a plain counter through the
// default gatherer, so the session summary can report process-lifetime
// totals without threading counter handles around.
func counterValue(name string) float64 {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range families {
		if mf.GetName() != name || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) == 0 {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
