package main

import (
	"github.com/alfredjeanlab/permitlink/internal/correlate"
	"github.com/alfredjeanlab/permitlink/internal/dispatch"
	"github.com/alfredjeanlab/permitlink/internal/store"
)

// engine bundles the in-memory correlation state shared by serve and replay.
type engine struct {
	store      *store.Store
	resolver   *correlate.Resolver
	attributor *correlate.Attributor
}

func newEngine(pendingLinks int, statuses []string) *engine {
	s := store.New()
	return &engine{
		store:      s,
		resolver:   correlate.NewResolver(s, correlate.ResolverOptions{PendingLimit: pendingLinks}),
		attributor: correlate.NewAttributor(s, correlate.AttributorOptions{Statuses: statuses}),
	}
}

func (e *engine) dispatcher(opts dispatch.Options) *dispatch.Dispatcher {
	return dispatch.New(e.store, e.resolver, e.attributor, opts)
}
