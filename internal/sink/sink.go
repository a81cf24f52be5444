// Package sink delivers attribution records to downstream systems. A sink
// only receives records; it never answers queries.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/correlate"
	"github.com/alfredjeanlab/permitlink/internal/idgen"
	"github.com/alfredjeanlab/permitlink/internal/model"
)

// Attribution is one datapoint attributed to one permit.
type Attribution struct {
	ID             string    `json:"id"`
	DatapointID    int64     `json:"datapoint_id"`
	AssetID        int64     `json:"asset_id"`
	Value          float64   `json:"value"`
	ObservedAt     time.Time `json:"observed_at"`
	PermitID       int64     `json:"permit_id"`
	PermitNumber   string    `json:"permit_number"`
	PermitStatus   string    `json:"permit_status"`
	WithinValidity bool      `json:"within_validity"`
	AttributedAt   time.Time `json:"attributed_at"`
}

// Sink receives attribution records.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	Record(ctx context.Context, records []Attribution) error
	Close() error
}

// NewRecords builds one record per attribution of dp.
func NewRecords(dp model.Datapoint, attrs []correlate.Attribution, now time.Time) ([]Attribution, error) {
	out := make([]Attribution, 0, len(attrs))
	for _, a := range attrs {
		id, err := idgen.Attribution()
		if err != nil {
			return nil, err
		}
		out = append(out, Attribution{
			ID:             id,
			DatapointID:    dp.ID,
			AssetID:        dp.AssetID,
			Value:          dp.Value,
			ObservedAt:     dp.Timestamp,
			PermitID:       a.Permit.ID,
			PermitNumber:   a.Permit.PermitNumber,
			PermitStatus:   a.Permit.Status,
			WithinValidity: a.WithinValidity,
			AttributedAt:   now.UTC(),
		})
	}
	return out, nil
}

// Multi fans records out to several sinks.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

// Record writes to every sink, even after a failure, and returns the joined
// errors tagged with the failing sink names.
func (m Multi) Record(ctx context.Context, records []Attribution) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, records); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Error is a failure of one named sink.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FailedSinks returns the names of the sinks that failed in err.
func FailedSinks(err error) []string {
	if err == nil {
		return nil
	}
	var names []string
	var collect func(error)
	collect = func(err error) {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				collect(e)
			}
			return
		}
		var se *Error
		if errors.As(err, &se) {
			names = append(names, se.Sink)
		}
	}
	collect(err)
	return names
}
