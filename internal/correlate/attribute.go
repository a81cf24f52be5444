package correlate

import (
	"strings"

	"github.com/alfredjeanlab/permitlink/internal/model"
	"github.com/alfredjeanlab/permitlink/internal/store"
)

// Attribution pairs a datapoint with one permit linked to its asset.
type Attribution struct {
	Permit model.WorkPermit
	// WithinValidity tells whether the datapoint timestamp falls inside the
	// permit's validity window. It is informational; permits outside their
	// window are still attributed.
	WithinValidity bool
}

// AttributorOptions configures an Attributor.
type AttributorOptions struct {
	// Statuses restricts attribution to permits whose status matches one of
	// these values (case-insensitive). Empty means every permit qualifies.
	Statuses []string
}

// Attributor answers which stored permits cover a datapoint's asset.
type Attributor struct {
	store    *store.Store
	statuses []string
}

// NewAttributor creates an attributor over s.
func NewAttributor(s *store.Store, opts AttributorOptions) *Attributor {
	var statuses []string
	for _, st := range opts.Statuses {
		if st = strings.TrimSpace(st); st != "" {
			statuses = append(statuses, st)
		}
	}
	return &Attributor{store: s, statuses: statuses}
}

// Attribute returns every permit linked to the datapoint's asset, in store
// insertion order. It never mutates the store; the returned permits are
// copies.
func (a *Attributor) Attribute(dp model.Datapoint) []Attribution {
	permits := a.store.PermitsForAsset(dp.AssetID)
	out := make([]Attribution, 0, len(permits))
	for _, p := range permits {
		if !a.statusAllowed(p.Status) {
			continue
		}
		out = append(out, Attribution{Permit: p, WithinValidity: p.Covers(dp.Timestamp)})
	}
	return out
}

func (a *Attributor) statusAllowed(status string) bool {
	if len(a.statuses) == 0 {
		return true
	}
	for _, st := range a.statuses {
		if strings.EqualFold(st, status) {
			return true
		}
	}
	return false
}
