package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink counts admissions and mesh writes. Labels stay low
// cardinality: topic and point ids are not labels.
type PrometheusSink struct {
	admissions   *prometheus.CounterVec
	writes       *prometheus.CounterVec
	writeLatency prometheus.Histogram
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	f := promauto.With(reg)
	return &PrometheusSink{
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civicmesh",
			Name:      "vote_admissions_total",
			Help:      "Vote admission decisions by outcome and denial reason.",
		}, []string{"admitted", "reason"}),
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civicmesh",
			Name:      "mesh_writes_total",
			Help:      "Terminal mesh write outcomes.",
		}, []string{"success", "error"}),
		writeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "civicmesh",
			Name:      "mesh_write_latency_seconds",
			Help:      "Time from issuing a mesh write to its terminal outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
	}
}

func (p *PrometheusSink) Admission(e AdmissionEvent) {
	p.admissions.WithLabelValues(strconv.FormatBool(e.Admitted), e.Reason).Inc()
}

func (p *PrometheusSink) MeshWrite(e WriteEvent) {
	errLabel := e.Error
	switch {
	case errLabel == "":
	case errLabel == "timeout":
	case ExpectedUnavailable(errLabel):
		errLabel = "unavailable"
	default:
		errLabel = "other"
	}
	p.writes.WithLabelValues(strconv.FormatBool(e.Success), errLabel).Inc()
	p.writeLatency.Observe(float64(e.LatencyMs) / 1000)
}
