package model

import "time"

// WorkPermit authorizes work on a set of linked assets. Assets is grown by
// permit-asset association events; it never shrinks.
type WorkPermit struct {
	ID                int64     `json:"id"`
	PermitNumber      string    `json:"permit_number"`
	Description       string    `json:"description"`
	Status            string    `json:"status"`
	Type              *string   `json:"type"`
	ResponsiblePerson string    `json:"responsible_person"`
	AuthorizedBy      string    `json:"authorized_by"`
	Location          string    `json:"location"`
	ValidFrom         time.Time `json:"valid_from"`
	ValidTo           time.Time `json:"valid_to"`
	Assets            []*Asset  `json:"assets"`
}

// HasAsset reports whether the asset with the given id is linked to the permit.
func (p *WorkPermit) HasAsset(assetID int64) bool {
	for _, a := range p.Assets {
		if a.ID == assetID {
			return true
		}
	}
	return false
}

// AssetIDs returns the ids of the linked assets in link order.
func (p *WorkPermit) AssetIDs() []int64 {
	ids := make([]int64, 0, len(p.Assets))
	for _, a := range p.Assets {
		ids = append(ids, a.ID)
	}
	return ids
}

// Covers reports whether t falls inside the permit's validity window
// (inclusive on both ends).
func (p *WorkPermit) Covers(t time.Time) bool {
	return !t.Before(p.ValidFrom) && !t.After(p.ValidTo)
}

// Clone returns a deep copy of the permit. The copy's asset list holds copies
// of the linked assets, so it is safe to read after the store has moved on.
func (p *WorkPermit) Clone() WorkPermit {
	c := *p
	if p.Type != nil {
		typ := *p.Type
		c.Type = &typ
	}
	c.Assets = make([]*Asset, 0, len(p.Assets))
	for _, a := range p.Assets {
		ac := *a
		c.Assets = append(c.Assets, &ac)
	}
	return c
}
