// Package metrics counts download activity and writes it in the Prometheus
// text format, suitable for the node_exporter textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the counters for one run. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	bytes    prometheus.Counter
	attempts prometheus.Counter
	requests *prometheus.CounterVec
}

// New registers the hsdl counters on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hsdl",
			Name:      "downloads_total",
			Help:      "Download outcomes by result.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hsdl",
			Name:      "download_bytes_total",
			Help:      "Bytes written by successful downloads.",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hsdl",
			Name:      "download_attempts_total",
			Help:      "Streaming GET attempts, including retries.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hsdl",
			Name:      "api_requests_total",
			Help:      "API requests by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(r.outcomes, r.bytes, r.attempts, r.requests)
	return r
}

// Outcome counts one finished download.
func (r *Recorder) Outcome(outcome string, bytes int64, attempts int) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		r.bytes.Add(float64(bytes))
	}
	if attempts > 0 {
		r.attempts.Add(float64(attempts))
	}
}

// Request counts one API call; result is "ok" or an error class.
func (r *Recorder) Request(result string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(result).Inc()
}

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteFile writes the current values to path atomically.
func (r *Recorder) WriteFile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
