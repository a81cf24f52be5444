// Package server exposes the entity store and attribution engine over a
// read-only HTTP/JSON status API, a server-sent event stream of attributions,
// and the Prometheus metrics endpoint.
package server

import (
	"log/slog"

	"github.com/alfredjeanlab/permitlink/internal/activity"
	"github.com/alfredjeanlab/permitlink/internal/correlate"
	"github.com/alfredjeanlab/permitlink/internal/metrics"
	"github.com/alfredjeanlab/permitlink/internal/store"
)

// Server serves the status API. It never mutates the store.
type Server struct {
	store      *store.Store
	resolver   *correlate.Resolver
	attributor *correlate.Attributor
	metrics    *metrics.Metrics
	hub        *Hub
	activity   *activity.Tracker
	logger     *slog.Logger
}

// Options configures a Server. Metrics, Hub and Activity are optional;
// without them the corresponding endpoints are not registered.
type Options struct {
	Metrics  *metrics.Metrics
	Hub      *Hub
	Activity *activity.Tracker
	Logger   *slog.Logger
}

// New returns a Server reading from s.
func New(s *store.Store, r *correlate.Resolver, a *correlate.Attributor, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      s,
		resolver:   r,
		attributor: a,
		metrics:    opts.Metrics,
		hub:        opts.Hub,
		activity:   opts.Activity,
		logger:     logger,
	}
}
