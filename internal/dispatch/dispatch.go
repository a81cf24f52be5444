// Package dispatch routes decoded CDC messages to the entity store, the
// relationship resolver and the attribution engine, and runs the consumption
// loop that feeds it from the bus.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/activity"
	"github.com/alfredjeanlab/permitlink/internal/correlate"
	"github.com/alfredjeanlab/permitlink/internal/decode"
	"github.com/alfredjeanlab/permitlink/internal/metrics"
	"github.com/alfredjeanlab/permitlink/internal/model"
	"github.com/alfredjeanlab/permitlink/internal/sink"
	"github.com/alfredjeanlab/permitlink/internal/store"
)

// Result labels reported in Outcome.Result and the messages metric.
const (
	ResultIgnored      = "ignored"
	ResultCreated      = "created"
	ResultUpdated      = "updated"
	ResultInserted     = "inserted"
	ResultAttributed   = "attributed"
	ResultUnattributed = "unattributed"
)

// Outcome describes how one message was handled.
type Outcome struct {
	Stream string
	Kind   decode.Kind
	// Result is a short label: a decode error category, a link outcome, or
	// one of the Result constants.
	Result string
	// Err is the decode error, if decoding failed.
	Err error

	Asset        *model.Asset
	Permit       *model.WorkPermit
	Link         *correlate.LinkResult
	Datapoint    *model.Datapoint
	Attributions []correlate.Attribution
	// Relinked holds parked links resolved by this message.
	Relinked []correlate.LinkResult
	// SinkErr is set when attribution records could not be delivered.
	SinkErr error
}

// DecodeFailed reports whether the message could not be decoded.
func (o Outcome) DecodeFailed() bool {
	return o.Err != nil
}

// Options configures a Dispatcher. All fields are optional.
type Options struct {
	Sink    sink.Sink
	Metrics *metrics.Metrics
	// Activity, when set, is told about every message.
	Activity *activity.Tracker
	Logger   *slog.Logger
	// Now overrides the clock used to stamp attribution records.
	Now func() time.Time
}

// Dispatcher applies one message at a time. It holds no state of its own;
// all entity state lives in the store.
type Dispatcher struct {
	store      *store.Store
	resolver   *correlate.Resolver
	attributor *correlate.Attributor
	sink       sink.Sink
	metrics    *metrics.Metrics
	activity   *activity.Tracker
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a dispatcher over the given store, resolver and attributor.
func New(s *store.Store, r *correlate.Resolver, a *correlate.Attributor, opts Options) *Dispatcher {
	d := &Dispatcher{
		store:      s,
		resolver:   r,
		attributor: a,
		sink:       opts.Sink,
		metrics:    opts.Metrics,
		activity:   opts.Activity,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Handle decodes raw as a message of stream and applies it. Every message of
// a known stream produces exactly one log line; unknown streams are noted at
// debug level and otherwise ignored. Handle never fails: problems are
// reported in the returned Outcome.
func (d *Dispatcher) Handle(ctx context.Context, stream string, raw []byte) Outcome {
	out := d.handle(ctx, stream, raw)
	if d.metrics != nil {
		d.metrics.ObserveMessage(stream, out.Result)
		st := d.store.Stats()
		d.metrics.SetStoreSize(st.Assets, st.Permits)
		d.metrics.SetPendingLinks(d.resolver.Pending())
		d.metrics.ObserveAttributions(len(out.Attributions))
	}
	if d.activity != nil {
		d.activity.RecordMessage(stream, out.Result, out.DecodeFailed())
	}
	return out
}

func (d *Dispatcher) handle(ctx context.Context, stream string, raw []byte) Outcome {
	if decode.KindOf(stream) == decode.KindUnknown {
		d.logger.Debug("dispatch: ignoring message from unknown stream", "stream", stream)
		return Outcome{Stream: stream, Kind: decode.KindUnknown, Result: ResultIgnored}
	}

	ev, err := decode.Decode(stream, raw)
	if err != nil {
		out := Outcome{Stream: stream, Kind: decode.KindOf(stream), Result: decode.Category(err), Err: err}
		d.logger.Warn("dispatch: dropping undecodable message",
			"stream", stream, "reason", out.Result, "err", err)
		return out
	}

	switch ev.Kind {
	case decode.KindAsset:
		return d.handleAsset(ev)
	case decode.KindWorkPermit:
		return d.handlePermit(ev)
	case decode.KindPermitAsset:
		return d.handleLink(ev)
	default:
		return d.handleDatapoint(ctx, ev)
	}
}

func (d *Dispatcher) handleAsset(ev decode.Event) Outcome {
	res := d.store.InsertAsset(*ev.Asset)
	out := Outcome{Stream: ev.Stream, Kind: ev.Kind, Asset: ev.Asset, Result: ResultCreated}
	if res == store.Updated {
		out.Result = ResultUpdated
	}
	out.Relinked = d.resolver.RetryForAsset(ev.Asset.ID)

	d.logger.Info("dispatch: asset received",
		"asset_id", ev.Asset.ID,
		"tag", ev.Asset.Tag,
		"status", ev.Asset.Status,
		"result", out.Result,
		"relinked", len(out.Relinked),
	)
	return out
}

func (d *Dispatcher) handlePermit(ev decode.Event) Outcome {
	d.store.InsertPermit(*ev.Permit)
	out := Outcome{Stream: ev.Stream, Kind: ev.Kind, Permit: ev.Permit, Result: ResultInserted}
	out.Relinked = d.resolver.RetryForPermit(ev.Permit.ID)

	d.logger.Info("dispatch: work permit received",
		"permit_id", ev.Permit.ID,
		"permit_number", ev.Permit.PermitNumber,
		"status", ev.Permit.Status,
		"relinked", len(out.Relinked),
	)
	return out
}

func (d *Dispatcher) handleLink(ev decode.Event) Outcome {
	res := d.resolver.Link(*ev.Link)
	out := Outcome{Stream: ev.Stream, Kind: ev.Kind, Link: &res, Result: res.Outcome.String()}

	attrs := []any{
		"permit_id", res.PermitID,
		"asset_id", res.AssetID,
		"result", out.Result,
	}
	switch {
	case res.OK():
		d.logger.Info("dispatch: asset linked to permit", append(attrs, "permits_linked", res.PermitsLinked)...)
	case res.Deferred:
		if res.Evicted != nil {
			attrs = append(attrs,
				"evicted_permit_id", res.Evicted.PermitID,
				"evicted_asset_id", res.Evicted.AssetID)
		}
		d.logger.Warn("dispatch: link deferred until referents arrive", attrs...)
	default:
		d.logger.Warn("dispatch: link dropped", attrs...)
	}
	return out
}

func (d *Dispatcher) handleDatapoint(ctx context.Context, ev decode.Event) Outcome {
	dp := *ev.Datapoint
	attributions := d.attributor.Attribute(dp)
	out := Outcome{
		Stream:       ev.Stream,
		Kind:         ev.Kind,
		Datapoint:    ev.Datapoint,
		Attributions: attributions,
		Result:       ResultUnattributed,
	}

	if len(attributions) == 0 {
		d.logger.Info("dispatch: datapoint has no covering permit",
			"datapoint_id", dp.ID, "asset_id", dp.AssetID)
		return out
	}
	out.Result = ResultAttributed

	numbers := make([]string, 0, len(attributions))
	outside := 0
	for _, a := range attributions {
		numbers = append(numbers, a.Permit.PermitNumber)
		if !a.WithinValidity {
			outside++
		}
	}

	out.SinkErr = d.record(ctx, dp, attributions)

	attrs := []any{
		"datapoint_id", dp.ID,
		"asset_id", dp.AssetID,
		"value", dp.Value,
		"permits", numbers,
		"outside_validity", outside,
	}
	if out.SinkErr != nil {
		d.logger.Warn("dispatch: datapoint attributed, sink delivery failed",
			append(attrs, "sink_err", out.SinkErr)...)
		return out
	}
	d.logger.Info("dispatch: datapoint attributed", attrs...)
	return out
}

func (d *Dispatcher) record(ctx context.Context, dp model.Datapoint, attributions []correlate.Attribution) error {
	if d.sink == nil {
		return nil
	}
	records, err := sink.NewRecords(dp, attributions, d.now())
	if err != nil {
		return err
	}
	err = d.sink.Record(ctx, records)
	if err != nil && d.metrics != nil {
		failed := sink.FailedSinks(err)
		if len(failed) == 0 {
			failed = []string{d.sink.Name()}
		}
		for _, name := range failed {
			d.metrics.ObserveSinkError(name)
		}
	}
	return err
}
