// Package metrics is the passive aggregator for both sides of the
// pipeline: request-outcome counters, connection and queue-depth
// gauges, and fixed-bucket histograms for latency, time-to-first-token
// and throughput. It observes the control path but never influences
// it; every method is safe for concurrent use and a no-op receiver
// would not change correctness.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Request outcome labels.
const (
	OutcomeSuccess    = "success"
	OutcomeError      = "error"
	OutcomeDisconnect = "disconnect"
)

var (
	latencyBuckets = []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0}
	ttftBuckets    = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0}
	tpsBuckets     = []float64{1, 5, 10, 20, 50, 100, 200}
)

// Histogram is a fixed-bucket cumulative histogram. Buckets hold
// counts of observations less than or equal to each bound; a final
// implicit +Inf bucket catches the rest.
type Histogram struct {
	mu      sync.Mutex
	bounds  []float64
	counts  []uint64
	sum     float64
	samples uint64
}

func NewHistogram(bounds []float64) *Histogram {
	return &Histogram{
		bounds: bounds,
		counts: make([]uint64, len(bounds)+1),
	}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := len(h.bounds)
	for i, b := range h.bounds {
		if v <= b {
			idx = i
			break
		}
	}
	h.counts[idx]++
	h.sum += v
	h.samples++
}

// HistogramSnapshot is the JSON form of a histogram.
type HistogramSnapshot struct {
	Bounds  []float64 `json:"bounds"`
	Counts  []uint64  `json:"counts"`
	Sum     float64   `json:"sum"`
	Samples uint64    `json:"samples"`
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := HistogramSnapshot{
		Bounds:  h.bounds,
		Counts:  make([]uint64, len(h.counts)),
		Sum:     h.sum,
		Samples: h.samples,
	}
	copy(s.Counts, h.counts)
	return s
}

type Aggregator struct {
	requestsSuccess    atomic.Int64
	requestsError      atomic.Int64
	requestsDisconnect atomic.Int64
	tokensGenerated    atomic.Int64
	activeConnections  atomic.Int64
	queueDepth         atomic.Int64

	latency *Histogram
	ttft    *Histogram
	tps     *Histogram
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latency: NewHistogram(latencyBuckets),
		ttft:    NewHistogram(ttftBuckets),
		tps:     NewHistogram(tpsBuckets),
	}
}

// IncRequest counts one finished request by outcome.
func (a *Aggregator) IncRequest(outcome string) {
	switch outcome {
	case OutcomeSuccess:
		a.requestsSuccess.Add(1)
	case OutcomeError:
		a.requestsError.Add(1)
	case OutcomeDisconnect:
		a.requestsDisconnect.Add(1)
	}
}

func (a *Aggregator) AddTokens(n int)          { a.tokensGenerated.Add(int64(n)) }
func (a *Aggregator) ConnOpened()              { a.activeConnections.Add(1) }
func (a *Aggregator) ConnClosed()              { a.activeConnections.Add(-1) }
func (a *Aggregator) SetQueueDepth(n int)      { a.queueDepth.Store(int64(n)) }
func (a *Aggregator) ObserveLatency(d time.Duration) { a.latency.Observe(d.Seconds()) }
func (a *Aggregator) ObserveTTFT(d time.Duration)    { a.ttft.Observe(d.Seconds()) }
func (a *Aggregator) ObserveTokensPerSecond(v float64) {
	if v > 0 {
		a.tps.Observe(v)
	}
}

// Snapshot is the aggregator's externally visible state, served by the
// gateway's /metrics endpoint and published in monitoring reports.
type Snapshot struct {
	Timestamp          time.Time         `json:"timestamp"`
	RequestsSuccess    int64             `json:"requests_success"`
	RequestsError      int64             `json:"requests_error"`
	RequestsDisconnect int64             `json:"requests_disconnect"`
	TokensGenerated    int64             `json:"tokens_generated_total"`
	ActiveConnections  int64             `json:"active_connections"`
	QueueDepth         int64             `json:"queue_depth"`
	RequestLatency     HistogramSnapshot `json:"request_latency_seconds"`
	TimeToFirstToken   HistogramSnapshot `json:"time_to_first_token_seconds"`
	TokensPerSecond    HistogramSnapshot `json:"tokens_per_second"`
}

func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:          time.Now(),
		RequestsSuccess:    a.requestsSuccess.Load(),
		RequestsError:      a.requestsError.Load(),
		RequestsDisconnect: a.requestsDisconnect.Load(),
		TokensGenerated:    a.tokensGenerated.Load(),
		ActiveConnections:  a.activeConnections.Load(),
		QueueDepth:         a.queueDepth.Load(),
		RequestLatency:     a.latency.Snapshot(),
		TimeToFirstToken:   a.ttft.Snapshot(),
		TokensPerSecond:    a.tps.Snapshot(),
	}
}
