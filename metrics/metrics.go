// Package metrics exports closed profz trees as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zoobzio/profz"
)

// Recorder observes every span of a closed tree.
// Span names become label values, so instrument with a bounded set of names.
type Recorder struct {
	registry     *prometheus.Registry
	duration     *prometheus.HistogramVec
	unprofiled   *prometheus.HistogramVec
	sessions     prometheus.Counter
	observeFails prometheus.Counter
}

// NewRecorder registers the profz collectors on a fresh registry.
func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "span_duration_seconds",
				Help:      "Elapsed time of profiled spans.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"span", "depth"},
		),
		unprofiled: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "span_unprofiled_seconds",
				Help:      "Time spans spent outside their direct children.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"span"},
		),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Closed profiling sessions.",
		}),
		observeFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observe_failures_total",
			Help:      "Closed trees that could not be measured.",
		}),
	}
	r.registry.MustRegister(r.duration, r.unprofiled, r.sessions, r.observeFails)
	return r
}

// Registry returns the registry holding the profz collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Attach registers the recorder as a close handler on t.
func (r *Recorder) Attach(t *profz.Tracker) uint64 {
	return t.OnClose(func(tree *profz.Tree) { _ = r.Observe(tree) })
}

// Observe records one sample per span of a closed tree.
// Nothing is recorded if any span is still open.
func (r *Recorder) Observe(tree *profz.Tree) error {
	type sample struct {
		name       string
		depth      int
		elapsed    float64
		unprofiled float64
	}

	var samples []sample
	err := tree.Walk(func(id profz.NodeID, n profz.Node) error {
		elapsed, err := tree.ElapsedMs(id)
		if err != nil {
			return err
		}
		unprofiled, err := tree.UnaccountedMs(id)
		if err != nil {
			return err
		}
		samples = append(samples, sample{name: n.Name, depth: n.Depth, elapsed: elapsed, unprofiled: unprofiled})
		return nil
	})
	if err != nil {
		r.observeFails.Inc()
		return err
	}

	for _, s := range samples {
		r.duration.WithLabelValues(s.name, depthLabel(s.depth)).Observe(s.elapsed / 1000)
		if s.unprofiled > 0 {
			r.unprofiled.WithLabelValues(s.name).Observe(s.unprofiled / 1000)
		}
	}
	r.sessions.Inc()
	return nil
}

func depthLabel(depth int) string {
	const maxDepthLabel = 9
	if depth > maxDepthLabel {
		return "10+"
	}
	return strconv.Itoa(depth)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr in the background.
func (r *Recorder) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() { _ = srv.ListenAndServe() }()

	return srv
}
