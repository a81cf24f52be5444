// Package client provides a transport-agnostic interface for the permitlink
// status API and an HTTP/JSON implementation.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/activity"
	"github.com/alfredjeanlab/permitlink/internal/model"
	"github.com/alfredjeanlab/permitlink/internal/server"
)

// Client is the interface the pl query commands use to talk to a running
// engine.
type Client interface {
	Health(ctx context.Context) (string, error)
	Stats(ctx context.Context) (*server.StatsResponse, error)
	// Streams returns per-stream message activity.
	Streams(ctx context.Context) ([]activity.Entry, error)

	ListAssets(ctx context.Context) ([]model.Asset, error)
	GetAsset(ctx context.Context, id int64) (*model.Asset, error)

	ListPermits(ctx context.Context) ([]model.WorkPermit, error)
	// ListPermitsForAsset returns only the permits linked to assetID.
	ListPermitsForAsset(ctx context.Context, assetID int64) ([]model.WorkPermit, error)
	GetPermits(ctx context.Context, id int64) ([]model.WorkPermit, error)

	// Attribution reports which permits a reading from assetID at the given
	// time would be attributed to. A zero time means now.
	Attribution(ctx context.Context, assetID int64, at time.Time) (*server.AttributionResponse, error)

	Close() error
}
