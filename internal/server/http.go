package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/assets", s.handleListAssets)
	mux.HandleFunc("GET /v1/assets/{id}", s.handleGetAsset)
	mux.HandleFunc("GET /v1/permits", s.handleListPermits)
	mux.HandleFunc("GET /v1/permits/{id}", s.handleGetPermits)
	mux.HandleFunc("GET /v1/attribution", s.handleAttribution)
	if s.activity != nil {
		mux.HandleFunc("GET /v1/streams", s.handleStreams)
	}
	if s.hub != nil {
		mux.HandleFunc("GET /v1/attributions/stream", s.handleAttributionStream)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return RecoveryMiddleware(s.logger, AuthMiddleware(authToken, mux))
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Assets       int `json:"assets"`
	Permits      int `json:"permits"`
	Links        int `json:"links"`
	PendingLinks int `json:"pending_links"`
}

// AttributionResponse is the body of GET /v1/attribution.
type AttributionResponse struct {
	AssetID   int64              `json:"asset_id"`
	Timestamp time.Time          `json:"timestamp"`
	Permits   []AttributedPermit `json:"permits"`
}

// AttributedPermit is one permit an asset's reading would be attributed to.
type AttributedPermit struct {
	Permit         model.WorkPermit `json:"permit"`
	WithinValidity bool             `json:"within_validity"`
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Stats()
	resp := StatsResponse{Assets: st.Assets, Permits: st.Permits, Links: st.Links}
	if s.resolver != nil {
		resp.PendingLinks = s.resolver.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStreams handles GET /v1/streams.
func (s *Server) handleStreams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"streams": s.activity.Streams()})
}

// handleListAssets handles GET /v1/assets.
func (s *Server) handleListAssets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": s.store.Assets()})
}

// handleGetAsset handles GET /v1/assets/{id}.
func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, found := s.store.FindAssetByID(id)
	if !found {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleListPermits handles GET /v1/permits, optionally filtered by
// ?asset_id=N to the permits linked to that asset.
func (s *Server) handleListPermits(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("asset_id"); raw != "" {
		assetID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid asset_id")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permits": s.store.PermitsForAsset(assetID)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permits": s.store.Permits()})
}

// handleGetPermits handles GET /v1/permits/{id}. Permit ids are not unique in
// the store, so every permit carrying the id is returned.
func (s *Server) handleGetPermits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	permits := s.store.PermitsByID(id)
	if len(permits) == 0 {
		writeError(w, http.StatusNotFound, "permit not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permits": permits})
}

// handleAttribution handles GET /v1/attribution?asset_id=N[&at=T]. It
// answers which permits a reading from the asset at time T (RFC 3339,
// default now) would be attributed to, without recording anything.
func (s *Server) handleAttribution(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assetID, err := strconv.ParseInt(q.Get("asset_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "asset_id is required and must be an integer")
		return
	}

	at := time.Now().UTC()
	if raw := q.Get("at"); raw != "" {
		at, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
			return
		}
	}

	attrs := s.attributor.Attribute(model.Datapoint{AssetID: assetID, Timestamp: at})
	resp := AttributionResponse{AssetID: assetID, Timestamp: at, Permits: make([]AttributedPermit, 0, len(attrs))}
	for _, a := range attrs {
		resp.Permits = append(resp.Permits, AttributedPermit{Permit: a.Permit, WithinValidity: a.WithinValidity})
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return 0, false
	}
	return id, true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
