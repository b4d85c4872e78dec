package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	lifecycleOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yatcc_se",
		Name:      "codespace_lifecycle_operations_total",
		Help:      "Codespace lifecycle operations by kind and result.",
	}, []string{"operation", "result"})

	evictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yatcc_se",
		Name:      "codespace_evictions_total",
		Help:      "Codespaces stopped by the watcher for exhausted quota.",
	})

	watchSweep = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "yatcc_se",
		Name:      "watch_sweep_duration_seconds",
		Help:      "Duration of full watcher sweeps.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	studentsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yatcc_se",
		Name:      "students_total",
		Help:      "Number of enrolled students.",
	})
)

func RecordOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	lifecycleOps.WithLabelValues(operation, result).Inc()
}

func RecordEviction() {
	evictions.Inc()
}

func ObserveSweep(d time.Duration) {
	watchSweep.Observe(d.Seconds())
}

func SetStudentsTotal(n int) {
	studentsTotal.Set(float64(n))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
