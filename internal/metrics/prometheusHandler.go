package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "Total number of requests labelled by path and status",
}, []string{"path", "status"})

var countEventsInQueue = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "count_events_in_queue",
	Help: "Number of chat events waiting for a worker",
})

var dispatcherSignalCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dispatcher_signal_count",
	Help: "How often the dispatcher has signaled to start worker",
})

var activeWorkerCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "active_worker_count",
	Help: "Number of active workers",
})

var activeSessionCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "active_session_count",
	Help: "Number of sessions not yet in a terminal state",
})

var scoringInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "scoring_requests_in_flight",
	Help: "Scoring calls currently held against the concurrency cap",
})

var sessionOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "session_outcome_total",
	Help: "Finished sessions labelled by terminal state and error kind",
}, []string{"state", "error"})

type HttpStatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *HttpStatusRecorder) CaptureWriteHeaderMetrics(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func IncrementEventsInQueue() {
	countEventsInQueue.Inc()
}

func DecrementEventsInQueue() {
	countEventsInQueue.Dec()
}

func StartDispatcherSignalCount() {
	dispatcherSignalCount.Inc()
}

func IncrementActiveWorkerCount() {
	activeWorkerCount.Inc()
}
func DecrementActiveWorkerCount() {
	activeWorkerCount.Dec()
}

func IncrementActiveSessionCount() {
	activeSessionCount.Inc()
}

func DecrementActiveSessionCount() {
	activeSessionCount.Dec()
}

func IncrementScoringInFlight() {
	scoringInFlight.Inc()
}

func DecrementScoringInFlight() {
	scoringInFlight.Dec()
}

func CountSessionOutcome(state string, errorKind string) {
	sessionOutcomeTotal.WithLabelValues(state, errorKind).Inc()
}

var sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "session_duration_seconds",
	Help:    "Total time from document upload to terminal state.",
	Buckets: []float64{.5, 1, 2, 5, 10, 30, 60, 120},
}, []string{"state"})

var extractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "extraction_duration_seconds",
	Help:    "Time spent extracting text from an uploaded document.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
}, []string{"format"})

var dependencyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dependency_latency_seconds",
	Help:    "Latency of external service calls.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
}, []string{"service"})

func CaptureDependencyLatency(label string, timeElapsed time.Duration) {
	dependencyLatency.WithLabelValues(label).Observe(timeElapsed.Seconds())
}

func CaptureExtractionMetrics(format string, timeElapsed time.Duration) {
	extractionDuration.WithLabelValues(format).Observe(timeElapsed.Seconds())
}

func CaptureSessionMetrics(state string, timeElapsed time.Duration) {
	sessionDuration.WithLabelValues(state).Observe(timeElapsed.Seconds())
}
