package decode

import "github.com/alfredjeanlab/permitlink/internal/model"

// Required after-image fields per stream. Optional fields (the permit type)
// and ignored fields (the permit assets list) are not listed.
var (
	assetRequired = []string{
		"id", "tag", "name", "description", "status", "date_created", "last_updated",
	}
	permitRequired = []string{
		"id", "description", "status", "responsible_person", "valid_from", "valid_to",
		"authorized_by", "location", "permit_number",
	}
	permitAssetRequired = []string{"permit_id", "asset_id"}
	datapointRequired   = []string{"id", "timestamp", "value", "asset_id"}
)

type wireAsset struct {
	ID          int64             `json:"id"`
	Tag         string            `json:"tag"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      string            `json:"status"`
	DateCreated model.EpochMillis `json:"date_created"`
	LastUpdated model.EpochMillis `json:"last_updated"`
}

func (w wireAsset) toModel() *model.Asset {
	return &model.Asset{
		ID:          w.ID,
		Tag:         w.Tag,
		Name:        w.Name,
		Description: w.Description,
		Status:      w.Status,
		DateCreated: w.DateCreated.Time(),
		LastUpdated: w.LastUpdated.Time(),
	}
}

// wirePermit has no assets field: any asset list carried by the row image is
// dropped, and the store starts every permit with an empty list.
type wirePermit struct {
	ID                int64             `json:"id"`
	Description       string            `json:"description"`
	Status            string            `json:"status"`
	Type              *string           `json:"type"`
	ResponsiblePerson string            `json:"responsible_person"`
	ValidFrom         model.EpochMillis `json:"valid_from"`
	ValidTo           model.EpochMillis `json:"valid_to"`
	AuthorizedBy      string            `json:"authorized_by"`
	Location          string            `json:"location"`
	PermitNumber      string            `json:"permit_number"`
}

func (w wirePermit) toModel() *model.WorkPermit {
	return &model.WorkPermit{
		ID:                w.ID,
		PermitNumber:      w.PermitNumber,
		Description:       w.Description,
		Status:            w.Status,
		Type:              w.Type,
		ResponsiblePerson: w.ResponsiblePerson,
		AuthorizedBy:      w.AuthorizedBy,
		Location:          w.Location,
		ValidFrom:         w.ValidFrom.Time(),
		ValidTo:           w.ValidTo.Time(),
	}
}

type wireDatapoint struct {
	ID        int64            `json:"id"`
	Timestamp model.EpochNanos `json:"timestamp"`
	Value     float64          `json:"value"`
	AssetID   int64            `json:"asset_id"`
}

func (w wireDatapoint) toModel() *model.Datapoint {
	return &model.Datapoint{
		ID:        w.ID,
		Timestamp: w.Timestamp.Time(),
		Value:     w.Value,
		AssetID:   w.AssetID,
	}
}
