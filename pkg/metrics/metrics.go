package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var HistogramBuckets = []float64{
	// fast responses (0 - 500ms)
	5, 10, 25, 50, 75, 100, 150, 200, 300, 400, 500,
	// slow responses (500ms - 10s)
	750, 1000, 1500, 2000, 3000, 5000, 10000,
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	ID          string
	Name        string
	Description string
	Type        string
	Args        []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	var metric prometheus.Collector
	switch m.Type {
	case "counter_vec":
		metric = prometheus.NewCounterVec(
			prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "counter":
		metric = prometheus.NewCounter(
			prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
		)
	case "gauge_vec":
		metric = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "gauge":
		metric = prometheus.NewGauge(
			prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
		)
	case "histogram_vec":
		metric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets},
			m.Args,
		)
	case "summary_vec":
		metric = prometheus.NewSummaryVec(
			prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	}
	return metric
}

var metricLifecycleOps = &Metric{
	ID:          "lifecycleOps",
	Name:        "lifecycle_ops_total",
	Description: "Membership lifecycle operations, partitioned by operation and result.",
	Type:        "counter_vec",
	Args:        []string{"op", "result"},
}

var metricLifecycleDur = &Metric{
	ID:          "lifecycleDur",
	Name:        "lifecycle_dur_ms",
	Description: "Membership lifecycle operation latency in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"op"},
}

var metricSweep = &Metric{
	ID:          "sweep",
	Name:        "sweep_records_total",
	Description: "Records visited by the expiry sweep, partitioned by outcome.",
	Type:        "counter_vec",
	Args:        []string{"outcome"},
}

// Business holds the membership domain collectors.
type Business struct {
	ops   *prometheus.CounterVec
	dur   *prometheus.HistogramVec
	sweep *prometheus.CounterVec
}

// NewBusiness registers the membership collectors on reg. A nil reg keeps the
// collectors unregistered, which is what tests want.
func NewBusiness(reg prometheus.Registerer) *Business {
	b := &Business{
		ops:   NewMetric(metricLifecycleOps, "membership").(*prometheus.CounterVec),
		dur:   NewMetric(metricLifecycleDur, "membership").(*prometheus.HistogramVec),
		sweep: NewMetric(metricSweep, "membership").(*prometheus.CounterVec),
	}
	if reg == nil {
		return b
	}
	b.ops = registerOrExisting(reg, b.ops).(*prometheus.CounterVec)
	b.dur = registerOrExisting(reg, b.dur).(*prometheus.HistogramVec)
	b.sweep = registerOrExisting(reg, b.sweep).(*prometheus.CounterVec)
	return b
}

func registerOrExisting(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
	}
	return c
}

// ObserveOp records one lifecycle operation.
func (b *Business) ObserveOp(op string, start time.Time, err error) {
	if b == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	b.ops.WithLabelValues(op, result).Inc()
	b.dur.WithLabelValues(op).Observe(MillisecondsSince(start))
}

// ObserveSweep records the outcome counts of one sweep run.
func (b *Business) ObserveSweep(expired, skipped, failed int) {
	if b == nil {
		return
	}
	b.sweep.WithLabelValues("expired").Add(float64(expired))
	b.sweep.WithLabelValues("skipped").Add(float64(skipped))
	b.sweep.WithLabelValues("failed").Add(float64(failed))
}
