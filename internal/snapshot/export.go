// Package snapshot periodically exports the entity store as JSONL to one or
// more destinations. Snapshots are write-only; the engine never reloads them.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/model"
)

// Source is the read side of the entity store.
type Source interface {
	Assets() []model.Asset
	Permits() []model.WorkPermit
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	AssetCount  int       `json:"asset_count"`
	PermitCount int       `json:"permit_count"`
	LinkCount   int       `json:"link_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// permitRecord is a permit with its linked assets flattened to ids.
type permitRecord struct {
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
	AssetIDs          []int64   `json:"asset_ids"`
}

func newPermitRecord(p *model.WorkPermit) permitRecord {
	ids := p.AssetIDs()
	if ids == nil {
		ids = []int64{}
	}
	return permitRecord{
		ID:                p.ID,
		PermitNumber:      p.PermitNumber,
		Description:       p.Description,
		Status:            p.Status,
		Type:              p.Type,
		ResponsiblePerson: p.ResponsiblePerson,
		AuthorizedBy:      p.AuthorizedBy,
		Location:          p.Location,
		ValidFrom:         p.ValidFrom,
		ValidTo:           p.ValidTo,
		AssetIDs:          ids,
	}
}

// ExportJSONL writes a header, every asset in first-insertion order and
// every permit in insertion order as JSONL to w. id names the snapshot.
func ExportJSONL(ctx context.Context, s Source, id string, w io.Writer) error {
	assets := s.Assets()
	permits := s.Permits()

	links := 0
	for i := range permits {
		links += len(permits[i].Assets)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     "1",
		Type:        "header",
		ID:          id,
		Timestamp:   time.Now().UTC(),
		AssetCount:  len(assets),
		PermitCount: len(permits),
		LinkCount:   links,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(record{Type: "asset", Data: a}); err != nil {
			return fmt.Errorf("encode asset %d: %w", a.ID, err)
		}
	}

	for i := range permits {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(record{Type: "permit", Data: newPermitRecord(&permits[i])}); err != nil {
			return fmt.Errorf("encode permit %d: %w", permits[i].ID, err)
		}
	}

	return nil
}
