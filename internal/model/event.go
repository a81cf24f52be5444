package model

import "time"

// PermitAsset is an association event declaring that an asset is linked to a
// work permit. It is consumed immediately and never stored.
type PermitAsset struct {
	PermitID int64 `json:"permit_id"`
	AssetID  int64 `json:"asset_id"`
}

// Datapoint is a single sensor reading. It triggers an attribution lookup
// and is never stored.
type Datapoint struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	AssetID   int64     `json:"asset_id"`
}
