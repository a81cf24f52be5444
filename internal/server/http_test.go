package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/activity"
	"github.com/alfredjeanlab/permitlink/internal/correlate"
	"github.com/alfredjeanlab/permitlink/internal/metrics"
	"github.com/alfredjeanlab/permitlink/internal/model"
	"github.com/alfredjeanlab/permitlink/internal/store"
)

var shiftStart = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// newTestServer builds a server over a store with one asset linked to one
// active permit, plus an unlinked asset and a second permit with id 11.
func newTestServer(t *testing.T, opts Options) (*httptest.Server, *store.Store) {
	t.Helper()
	s := store.New()
	s.InsertAsset(model.Asset{ID: 1, Tag: "P-101", Name: "Feed pump"})
	s.InsertAsset(model.Asset{ID: 2, Tag: "V-7", Name: "Valve"})
	s.InsertPermit(model.WorkPermit{ID: 10, PermitNumber: "WP-010", Status: "active",
		ValidFrom: shiftStart, ValidTo: shiftStart.Add(8 * time.Hour)})
	s.InsertPermit(model.WorkPermit{ID: 11, PermitNumber: "WP-011", Status: "draft"})
	s.LinkAsset(10, 1)

	r := correlate.NewResolver(s, correlate.ResolverOptions{})
	a := correlate.NewAttributor(s, correlate.AttributorOptions{})
	srv := httptest.NewServer(New(s, r, a, opts).NewHTTPHandler(""))
	t.Cleanup(srv.Close)
	return srv, s
}

func getJSON(t *testing.T, url string, wantStatus int, dst any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: status %d, want %d: %s", url, resp.StatusCode, wantStatus, body)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	var body map[string]string
	getJSON(t, srv.URL+"/v1/health", http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	var st StatsResponse
	getJSON(t, srv.URL+"/v1/stats", http.StatusOK, &st)
	if st != (StatsResponse{Assets: 2, Permits: 2, Links: 1}) {
		t.Errorf("stats = %+v", st)
	}
}

func TestAssets(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	var list struct {
		Assets []model.Asset `json:"assets"`
	}
	getJSON(t, srv.URL+"/v1/assets", http.StatusOK, &list)
	if len(list.Assets) != 2 || list.Assets[0].ID != 1 {
		t.Errorf("assets = %+v", list.Assets)
	}

	var a model.Asset
	getJSON(t, srv.URL+"/v1/assets/2", http.StatusOK, &a)
	if a.Tag != "V-7" {
		t.Errorf("asset = %+v", a)
	}

	getJSON(t, srv.URL+"/v1/assets/99", http.StatusNotFound, nil)
	getJSON(t, srv.URL+"/v1/assets/abc", http.StatusBadRequest, nil)
}

func TestPermits(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	var list struct {
		Permits []model.WorkPermit `json:"permits"`
	}
	getJSON(t, srv.URL+"/v1/permits", http.StatusOK, &list)
	if len(list.Permits) != 2 {
		t.Fatalf("permits = %d, want 2", len(list.Permits))
	}
	if len(list.Permits[0].Assets) != 1 || list.Permits[0].Assets[0].ID != 1 {
		t.Errorf("WP-010 assets = %+v", list.Permits[0].Assets)
	}

	getJSON(t, srv.URL+"/v1/permits?asset_id=1", http.StatusOK, &list)
	if len(list.Permits) != 1 || list.Permits[0].PermitNumber != "WP-010" {
		t.Errorf("permits for asset 1 = %+v", list.Permits)
	}
	getJSON(t, srv.URL+"/v1/permits?asset_id=x", http.StatusBadRequest, nil)

	getJSON(t, srv.URL+"/v1/permits/11", http.StatusOK, &list)
	if len(list.Permits) != 1 || list.Permits[0].PermitNumber != "WP-011" {
		t.Errorf("permit 11 = %+v", list.Permits)
	}
	getJSON(t, srv.URL+"/v1/permits/404", http.StatusNotFound, nil)
}

func TestAttribution(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	var resp AttributionResponse
	at := shiftStart.Add(time.Hour).Format(time.RFC3339)
	getJSON(t, srv.URL+"/v1/attribution?asset_id=1&at="+at, http.StatusOK, &resp)
	if resp.AssetID != 1 || len(resp.Permits) != 1 {
		t.Fatalf("attribution = %+v", resp)
	}
	if resp.Permits[0].Permit.PermitNumber != "WP-010" || !resp.Permits[0].WithinValidity {
		t.Errorf("permit = %+v", resp.Permits[0])
	}

	// Outside the window the permit is still reported, flagged as such.
	getJSON(t, srv.URL+"/v1/attribution?asset_id=1&at=2030-01-01T00:00:00Z", http.StatusOK, &resp)
	if len(resp.Permits) != 1 || resp.Permits[0].WithinValidity {
		t.Errorf("outside window = %+v", resp.Permits)
	}

	getJSON(t, srv.URL+"/v1/attribution?asset_id=2", http.StatusOK, &resp)
	if resp.Permits == nil || len(resp.Permits) != 0 {
		t.Errorf("unlinked asset = %+v", resp.Permits)
	}

	getJSON(t, srv.URL+"/v1/attribution", http.StatusBadRequest, nil)
	getJSON(t, srv.URL+"/v1/attribution?asset_id=1&at=yesterday", http.StatusBadRequest, nil)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.SetStoreSize(2, 2)
	srv, _ := newTestServer(t, Options{Metrics: m})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "permitlink_assets 2") {
		t.Errorf("metrics body missing gauge:\n%s", body)
	}
}

func TestMetricsEndpoint_AbsentWithoutMetrics(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	getJSON(t, srv.URL+"/metrics", http.StatusNotFound, nil)
}

func TestStreams(t *testing.T) {
	tr := activity.New(nil)
	tr.RecordMessage("asset", "created", false)
	tr.RecordMessage("asset", "schema_mismatch", true)
	srv, _ := newTestServer(t, Options{Activity: tr})

	var body struct {
		Streams []activity.Entry `json:"streams"`
	}
	getJSON(t, srv.URL+"/v1/streams", http.StatusOK, &body)
	if len(body.Streams) != 1 {
		t.Fatalf("streams = %+v", body.Streams)
	}
	if e := body.Streams[0]; e.Stream != "asset" || e.Messages != 2 || e.Failures != 1 {
		t.Errorf("entry = %+v", e)
	}
}

func TestStreams_AbsentWithoutTracker(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	getJSON(t, srv.URL+"/v1/streams", http.StatusNotFound, nil)
}
