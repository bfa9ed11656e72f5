package metrics

import (
	"testing"
	"time"
)

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram([]float64{1, 5, 10})

	for _, v := range []float64{0.5, 1.0, 3.0, 7.0, 100.0} {
		h.Observe(v)
	}

	s := h.Snapshot()
	if s.Samples != 5 {
		t.Errorf("samples = %d, want 5", s.Samples)
	}
	// 0.5 and 1.0 land in <=1; 3.0 in <=5; 7.0 in <=10; 100 overflows.
	want := []uint64{2, 1, 1, 1}
	for i, c := range want {
		if s.Counts[i] != c {
			t.Errorf("bucket %d count = %d, want %d", i, s.Counts[i], c)
		}
	}
	if s.Sum != 111.5 {
		t.Errorf("sum = %v, want 111.5", s.Sum)
	}
}

func TestAggregatorOutcomes(t *testing.T) {
	a := NewAggregator()

	a.IncRequest(OutcomeSuccess)
	a.IncRequest(OutcomeSuccess)
	a.IncRequest(OutcomeError)
	a.IncRequest(OutcomeDisconnect)
	a.IncRequest("bogus") // unknown outcomes are ignored

	s := a.Snapshot()
	if s.RequestsSuccess != 2 || s.RequestsError != 1 || s.RequestsDisconnect != 1 {
		t.Errorf("outcomes = %d/%d/%d, want 2/1/1", s.RequestsSuccess, s.RequestsError, s.RequestsDisconnect)
	}
}

func TestAggregatorGaugesAndObservations(t *testing.T) {
	a := NewAggregator()

	a.ConnOpened()
	a.ConnOpened()
	a.ConnClosed()
	a.SetQueueDepth(7)
	a.AddTokens(120)
	a.ObserveTTFT(300 * time.Millisecond)
	a.ObserveLatency(2 * time.Second)
	a.ObserveTokensPerSecond(15)
	a.ObserveTokensPerSecond(0) // non-positive rates are skipped

	s := a.Snapshot()
	if s.ActiveConnections != 1 {
		t.Errorf("active connections = %d, want 1", s.ActiveConnections)
	}
	if s.QueueDepth != 7 {
		t.Errorf("queue depth = %d, want 7", s.QueueDepth)
	}
	if s.TokensGenerated != 120 {
		t.Errorf("tokens = %d, want 120", s.TokensGenerated)
	}
	if s.TimeToFirstToken.Samples != 1 {
		t.Errorf("ttft samples = %d, want 1", s.TimeToFirstToken.Samples)
	}
	if s.RequestLatency.Samples != 1 {
		t.Errorf("latency samples = %d, want 1", s.RequestLatency.Samples)
	}
	if s.TokensPerSecond.Samples != 1 {
		t.Errorf("tps samples = %d, want 1", s.TokensPerSecond.Samples)
	}
}
