// Package correlate implements the join between work permits, assets and
// sensor datapoints: the relationship resolver that applies permit-asset
// association events, and the attribution engine that answers which permits
// cover the asset behind a datapoint.
package correlate

import (
	"sync"

	"github.com/alfredjeanlab/permitlink/internal/model"
	"github.com/alfredjeanlab/permitlink/internal/store"
)

// Outcome is the result category of a link attempt.
type Outcome int

const (
	Linked Outcome = iota
	AlreadyLinked
	AssetNotFound
	PermitNotFound
)

func (o Outcome) String() string {
	switch o {
	case Linked:
		return "linked"
	case AlreadyLinked:
		return "already_linked"
	case AssetNotFound:
		return "asset_not_found"
	case PermitNotFound:
		return "permit_not_found"
	default:
		return "unknown"
	}
}

// LinkResult reports the outcome of one association event.
type LinkResult struct {
	Outcome       Outcome
	PermitID      int64
	AssetID       int64
	PermitsLinked int
	// Deferred is set when a missed link was parked for a later retry.
	Deferred bool
	// Evicted is the oldest parked link, dropped to make room for this one.
	Evicted *model.PermitAsset
}

// OK reports whether the association is now reflected in the store.
func (r LinkResult) OK() bool {
	return r.Outcome == Linked || r.Outcome == AlreadyLinked
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// PendingLimit bounds the number of association events kept for retry
	// when their asset or permit has not arrived yet. Zero disables
	// buffering: missed links are dropped.
	PendingLimit int
}

// Resolver applies permit-asset association events to the store.
type Resolver struct {
	store *store.Store
	limit int

	mu      sync.Mutex
	pending []model.PermitAsset
}

// NewResolver creates a resolver over s.
func NewResolver(s *store.Store, opts ResolverOptions) *Resolver {
	return &Resolver{store: s, limit: opts.PendingLimit}
}

// Link attaches the stored asset to every stored permit with the requested
// id. An unknown asset yields AssetNotFound and an unknown permit
// PermitNotFound; neither changes the store.
func (r *Resolver) Link(pa model.PermitAsset) LinkResult {
	res := r.apply(pa)
	if !res.OK() && r.limit > 0 {
		res.Evicted = r.park(pa)
		res.Deferred = true
	}
	return res
}

func (r *Resolver) apply(pa model.PermitAsset) LinkResult {
	sr := r.store.LinkAsset(pa.PermitID, pa.AssetID)
	res := LinkResult{PermitID: pa.PermitID, AssetID: pa.AssetID, PermitsLinked: sr.PermitsLinked}
	switch {
	case !sr.AssetFound:
		res.Outcome = AssetNotFound
	case sr.PermitsMatched == 0:
		res.Outcome = PermitNotFound
	case sr.PermitsLinked == 0:
		res.Outcome = AlreadyLinked
	default:
		res.Outcome = Linked
	}
	return res
}

// park buffers pa for retry and returns the link evicted to make room, if
// any.
func (r *Resolver) park(pa model.PermitAsset) *model.PermitAsset {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pending {
		if p == pa {
			return nil
		}
	}
	var evicted *model.PermitAsset
	if len(r.pending) >= r.limit {
		oldest := r.pending[0]
		evicted = &oldest
		r.pending = r.pending[1:]
	}
	r.pending = append(r.pending, pa)
	return evicted
}

// RetryForAsset re-applies parked links that reference the asset and returns
// the ones that now succeeded.
func (r *Resolver) RetryForAsset(assetID int64) []LinkResult {
	return r.retry(func(pa model.PermitAsset) bool { return pa.AssetID == assetID })
}

// RetryForPermit re-applies parked links that reference the permit and
// returns the ones that now succeeded.
func (r *Resolver) RetryForPermit(permitID int64) []LinkResult {
	return r.retry(func(pa model.PermitAsset) bool { return pa.PermitID == permitID })
}

func (r *Resolver) retry(match func(model.PermitAsset) bool) []LinkResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var done []LinkResult
	kept := r.pending[:0]
	for _, pa := range r.pending {
		if match(pa) {
			if res := r.apply(pa); res.OK() {
				done = append(done, res)
				continue
			}
		}
		kept = append(kept, pa)
	}
	r.pending = kept
	return done
}

// Pending returns the number of parked association events.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
