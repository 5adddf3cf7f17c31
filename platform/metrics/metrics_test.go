package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFailOpenCounter(t *testing.T) {
	m := New()
	m.RateLimitFailOpen("api")
	m.RateLimitFailOpen("api")

	if got := testutil.ToFloat64(m.rateLimitFailOpen.WithLabelValues("api")); got != 2 {
		t.Fatalf("expected 2 fail-open events, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RateLimitDecision("api", true)
	m.EnrichmentResult("places", "succeeded", time.Second)
	m.LifecycleTransition("archived")
	m.SweepDuration(time.Second)
	if m.Handler() == nil {
		t.Fatalf("expected a handler even for nil metrics")
	}
}
