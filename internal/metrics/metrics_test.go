package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveMessage(t *testing.T) {
	m := New()
	m.ObserveMessage("asset", "created")
	m.ObserveMessage("asset", "created")
	m.ObserveMessage("datapoints", "schema_mismatch")

	if got := testutil.ToFloat64(m.messages.WithLabelValues("asset", "created")); got != 2 {
		t.Errorf("asset/created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues("datapoints", "schema_mismatch")); got != 1 {
		t.Errorf("datapoints/schema_mismatch = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m := New()
	m.SetStoreSize(3, 2)
	m.SetPendingLinks(4)
	m.ObserveAttributions(5)

	if got := testutil.ToFloat64(m.assets); got != 3 {
		t.Errorf("assets = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.permits); got != 2 {
		t.Errorf("permits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pendingLinks); got != 4 {
		t.Errorf("pending = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.attributions); got != 5 {
		t.Errorf("attributions = %v, want 5", got)
	}

	m.SetStreamStale("work-permit", true)
	if got := testutil.ToFloat64(m.streamStale.WithLabelValues("work-permit")); got != 1 {
		t.Errorf("work-permit stale = %v, want 1", got)
	}
	m.SetStreamStale("work-permit", false)
	if got := testutil.ToFloat64(m.streamStale.WithLabelValues("work-permit")); got != 0 {
		t.Errorf("work-permit stale = %v, want 0", got)
	}
}

func TestHandler_ExposesEngineMetrics(t *testing.T) {
	m := New()
	m.ObserveSinkError("postgres")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"permitlink_sink_errors_total", "permitlink_assets", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	// Two engines in one process must not panic on duplicate registration.
	a, b := New(), New()
	if a.Registry() == b.Registry() {
		t.Error("expected distinct registries")
	}
}
