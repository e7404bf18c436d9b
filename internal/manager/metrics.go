package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the generation collectors. A nil *Metrics records nothing.
type Metrics struct {
	duration  prometheus.Histogram
	outcomes  *prometheus.CounterVec
	queueWait prometheus.Histogram
	state     *prometheus.GaugeVec
}

var allStates = []State{StateUnloaded, StateLoading, StateReady, StateLoadFailed, StateDraining}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistd_generation_duration_seconds",
			Help:    "Wall time of successful generations (encode to extract).",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistd_generations_total",
			Help: "Generations by outcome.",
		}, []string{"outcome"}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistd_generation_queue_wait_seconds",
			Help:    "Time spent waiting for the in-flight generation slot.",
			Buckets: prometheus.DefBuckets,
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "assistd_model_state",
			Help: "1 for the current model lifecycle state, 0 otherwise.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.duration, m.outcomes, m.queueWait, m.state)
	}
	m.setState(StateUnloaded)
	return m
}

func (m *Metrics) observeDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(d.Seconds())
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}
