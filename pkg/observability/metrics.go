package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iec_meter",
			Subsystem: "session",
			Name:      "cycles_total",
			Help:      "Poll cycles by result.",
		},
		[]string{"meter", "success"},
	)
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iec_meter",
			Subsystem: "session",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a poll cycle in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"meter", "success"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iec_meter",
			Subsystem: "session",
			Name:      "frame_errors_total",
			Help:      "Receive failures by kind (timeout, crc, invalid).",
		},
		[]string{"meter", "kind"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iec_meter",
			Subsystem: "session",
			Name:      "consecutive_failures",
			Help:      "Failed cycles since the last success.",
		},
		[]string{"meter"},
	)
	sessionActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "iec_meter",
			Subsystem: "session",
			Name:      "active",
			Help:      "1 while a session with the meter is open.",
		},
		[]string{"meter"},
	)
	published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iec_meter",
			Subsystem: "dispatch",
			Name:      "values_total",
			Help:      "Sensor values by publish result.",
		},
		[]string{"meter", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(cycles, cycleDuration, frameErrors, consecutiveFailures, sessionActive, published)
	})
}

// MeterMetrics records session engine events.
type MeterMetrics struct{}

func NewMeterMetrics() MeterMetrics {
	RegisterMetrics()
	return MeterMetrics{}
}

func (MeterMetrics) CycleFinished(meter string, ok bool, d time.Duration) {
	label := strconv.FormatBool(ok)
	cycles.WithLabelValues(meter, label).Inc()
	cycleDuration.WithLabelValues(meter, label).Observe(d.Seconds())
}

func (MeterMetrics) FrameError(meter, kind string) {
	frameErrors.WithLabelValues(meter, kind).Inc()
}

func (MeterMetrics) ConsecutiveFailures(meter string, n int) {
	consecutiveFailures.WithLabelValues(meter).Set(float64(n))
}

func (MeterMetrics) SessionActive(meter string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	sessionActive.WithLabelValues(meter).Set(v)
}

func (MeterMetrics) Published(meter string, ok, failed int) {
	published.WithLabelValues(meter, "true").Add(float64(ok))
	published.WithLabelValues(meter, "false").Add(float64(failed))
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
