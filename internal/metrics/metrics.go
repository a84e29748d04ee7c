package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/cashtos/internal/review"
	"github.com/zombor/cashtos/internal/scanning"
)

const namespace = "cashtos"

// Extraction outcomes besides the scanning error kinds
const (
	OutcomeOK        = "ok"
	OutcomeCancelled = "cancelled"
)

// Recorder turns review session events into prometheus series
type Recorder struct {
	transitions *prometheus.CounterVec
	extractions *prometheus.CounterVec
	duration    prometheus.Histogram
	saved       prometheus.Counter
}

// NewRecorder registers the collectors on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Review session state transitions.",
		}, []string{"from", "to"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Ticket extractions by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time from image import to extraction result.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		saved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_saved_total",
			Help:      "Confirmed tickets handed to storage.",
		}),
	}
	reg.MustRegister(r.transitions, r.extractions, r.duration, r.saved)
	return r
}

// Observe is a review.Observer
func (r *Recorder) Observe(ev review.Event) {
	r.transitions.WithLabelValues(ev.From.String(), ev.To.String()).Inc()

	if ev.From == review.Scanning {
		switch {
		case ev.To == review.AwaitingConfirmation:
			r.extractions.WithLabelValues(OutcomeOK).Inc()
			r.duration.Observe(ev.Duration.Seconds())
		case ev.Err != nil:
			r.extractions.WithLabelValues(scanning.Kind(ev.Err)).Inc()
			r.duration.Observe(ev.Duration.Seconds())
		default:
			r.extractions.WithLabelValues(OutcomeCancelled).Inc()
		}
	}

	if ev.To == review.Saved {
		r.saved.Inc()
	}
}

// Handler serves the registry in the prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument wraps next with request counters and latency histograms
func Instrument(reg prometheus.Registerer, next http.Handler) http.Handler {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by status code and method.",
	}, []string{"code", "method"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"code", "method"})
	reg.MustRegister(requests, latency)

	return promhttp.InstrumentHandlerDuration(latency, promhttp.InstrumentHandlerCounter(requests, next))
}
