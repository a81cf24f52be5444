// Package store holds the in-memory entity state of the correlation engine:
// every known Asset and WorkPermit, keyed by identity.
//
// The store is append-only. Mutations arrive from a single consumption loop,
// but all methods take the store lock and every read returns copies, so the
// status API and snapshot exporter can read while the loop writes.
package store

import (
	"sort"
	"sync"

	"github.com/alfredjeanlab/permitlink/internal/model"
)

// InsertResult tells whether InsertAsset added a new asset or refreshed an
// existing one.
type InsertResult int

const (
	Created InsertResult = iota
	Updated
)

func (r InsertResult) String() string {
	if r == Updated {
		return "updated"
	}
	return "created"
}

// LinkResult describes what LinkAsset did.
type LinkResult struct {
	AssetFound     bool
	PermitsMatched int // stored permits with the requested id
	PermitsLinked  int // permits whose asset list grew
}

// Stats is a point-in-time count of the store contents.
type Stats struct {
	Assets  int `json:"assets"`
	Permits int `json:"permits"`
	Links   int `json:"links"`
}

// Store is the in-memory entity store.
type Store struct {
	mu sync.RWMutex

	assets     map[int64]*model.Asset
	assetOrder []int64

	// permits is in insertion order; its indexes are stable because
	// permits are never removed.
	permits     []*model.WorkPermit
	permitsByID map[int64][]int
	// permitsByAsset maps an asset id to the sorted indexes of the permits
	// linked to it.
	permitsByAsset map[int64][]int
	links          int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		assets:         make(map[int64]*model.Asset),
		permitsByID:    make(map[int64][]int),
		permitsByAsset: make(map[int64][]int),
	}
}

// InsertAsset stores a. When an asset with the same id already exists its
// fields are overwritten in place, so permits that link it see the update.
func (s *Store) InsertAsset(a model.Asset) InsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.assets[a.ID]; ok {
		*existing = a
		return Updated
	}
	s.assets[a.ID] = &a
	s.assetOrder = append(s.assetOrder, a.ID)
	return Created
}

// InsertPermit appends p. The stored permit always starts with an empty
// linked-asset list. Permit ids are not required to be unique.
func (s *Store) InsertPermit(p model.WorkPermit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.Assets = nil
	s.permits = append(s.permits, &p)
	s.permitsByID[p.ID] = append(s.permitsByID[p.ID], len(s.permits)-1)
}

// FindAssetByID returns a copy of the asset with the given id.
func (s *Store) FindAssetByID(id int64) (model.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return model.Asset{}, false
	}
	return *a, true
}

// HasPermit reports whether at least one permit with the given id is stored.
func (s *Store) HasPermit(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.permitsByID[id]) > 0
}

// ForEachPermit calls fn on every stored permit in insertion order while
// holding the write lock. fn may mutate the permit, including its linked
// assets, but must not call back into the store. The asset index and link
// count are rebuilt afterwards so attribution sees the changes.
func (s *Store) ForEachPermit(fn func(p *model.WorkPermit)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.permits {
		fn(p)
	}
	s.reindex()
}

// reindex rebuilds permitsByAsset and the link count from the permits'
// asset lists. Linked assets that are stored are swapped for the stored
// pointer so later asset updates reach them. Nil and repeated entries are
// dropped.
func (s *Store) reindex() {
	s.permitsByAsset = make(map[int64][]int)
	s.links = 0
	for idx, p := range s.permits {
		kept := p.Assets[:0]
		for _, a := range p.Assets {
			if a == nil || hasAssetID(kept, a.ID) {
				continue
			}
			if stored, ok := s.assets[a.ID]; ok {
				a = stored
			}
			kept = append(kept, a)
			s.permitsByAsset[a.ID] = append(s.permitsByAsset[a.ID], idx)
			s.links++
		}
		p.Assets = kept
	}
}

func hasAssetID(assets []*model.Asset, id int64) bool {
	for _, a := range assets {
		if a.ID == id {
			return true
		}
	}
	return false
}

// LinkAsset appends the stored asset to the linked-asset list of every permit
// whose id is permitID. A permit that already links the asset is left as is.
// Nothing changes when the asset is unknown.
func (s *Store) LinkAsset(permitID, assetID int64) LinkResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res LinkResult
	asset, ok := s.assets[assetID]
	if !ok {
		return res
	}
	res.AssetFound = true

	for _, idx := range s.permitsByID[permitID] {
		res.PermitsMatched++
		p := s.permits[idx]
		if p.HasAsset(assetID) {
			continue
		}
		p.Assets = append(p.Assets, asset)
		s.indexLink(assetID, idx)
		s.links++
		res.PermitsLinked++
	}
	return res
}

func (s *Store) indexLink(assetID int64, idx int) {
	list := s.permitsByAsset[assetID]
	pos := sort.SearchInts(list, idx)
	list = append(list, 0)
	copy(list[pos+1:], list[pos:])
	list[pos] = idx
	s.permitsByAsset[assetID] = list
}

// PermitsForAsset returns copies of every permit linked to the asset, in
// permit insertion order.
func (s *Store) PermitsForAsset(assetID int64) []model.WorkPermit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idxs := s.permitsByAsset[assetID]
	out := make([]model.WorkPermit, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, s.permits[idx].Clone())
	}
	return out
}

// PermitsByID returns copies of every stored permit with the given id.
func (s *Store) PermitsByID(id int64) []model.WorkPermit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idxs := s.permitsByID[id]
	out := make([]model.WorkPermit, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, s.permits[idx].Clone())
	}
	return out
}

// Assets returns copies of all assets in first-insertion order.
func (s *Store) Assets() []model.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Asset, 0, len(s.assetOrder))
	for _, id := range s.assetOrder {
		out = append(out, *s.assets[id])
	}
	return out
}

// Permits returns copies of all permits in insertion order.
func (s *Store) Permits() []model.WorkPermit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.WorkPermit, 0, len(s.permits))
	for _, p := range s.permits {
		out = append(out, p.Clone())
	}
	return out
}

// Stats returns the current entity counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Assets: len(s.assets), Permits: len(s.permits), Links: s.links}
}
