// Package decode turns raw change-data-capture messages into typed entity
// records.
//
// Messages follow the CDC envelope convention: an outer object with a
// "payload" field whose "after" field holds the row image as it exists after
// the change. Decoding is pure; it never touches the entity store.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/alfredjeanlab/permitlink/internal/model"
)

// Stream names, as published by the CDC connector.
const (
	StreamDatapoints  = "datapoints"
	StreamWorkPermit  = "work-permit"
	StreamAsset       = "asset"
	StreamPermitAsset = "permit-asset"
)

// Streams lists every stream the engine understands.
var Streams = []string{StreamDatapoints, StreamWorkPermit, StreamAsset, StreamPermitAsset}

// Kind identifies which record an Event carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindAsset
	KindWorkPermit
	KindPermitAsset
	KindDatapoint
)

func (k Kind) String() string {
	switch k {
	case KindAsset:
		return "asset"
	case KindWorkPermit:
		return "work-permit"
	case KindPermitAsset:
		return "permit-asset"
	case KindDatapoint:
		return "datapoint"
	default:
		return "unknown"
	}
}

// KindOf returns the record kind carried by the named stream, or KindUnknown.
func KindOf(stream string) Kind {
	switch stream {
	case StreamAsset:
		return KindAsset
	case StreamWorkPermit:
		return KindWorkPermit
	case StreamPermitAsset:
		return KindPermitAsset
	case StreamDatapoints:
		return KindDatapoint
	}
	return KindUnknown
}

// Event is a decoded message. Exactly one record field is set, matching Kind;
// none are set for KindUnknown.
type Event struct {
	Kind      Kind
	Stream    string
	Asset     *model.Asset
	Permit    *model.WorkPermit
	Link      *model.PermitAsset
	Datapoint *model.Datapoint
}

// Decode extracts the after image from raw and parses it into the record type
// implied by stream. The envelope is checked before the stream name, so a
// message without an after image fails with ErrNoAfterImage on every stream.
// Unknown streams yield an Event of KindUnknown and a nil error.
func Decode(stream string, raw []byte) (Event, error) {
	after, err := afterImage(raw)
	if err != nil {
		return Event{Stream: stream}, err
	}

	ev := Event{Kind: KindOf(stream), Stream: stream}
	switch ev.Kind {
	case KindAsset:
		var w wireAsset
		if err := parseRecord(stream, after, assetRequired, &w); err != nil {
			return Event{Stream: stream}, err
		}
		ev.Asset = w.toModel()
	case KindWorkPermit:
		var w wirePermit
		if err := parseRecord(stream, after, permitRequired, &w); err != nil {
			return Event{Stream: stream}, err
		}
		ev.Permit = w.toModel()
	case KindPermitAsset:
		var w model.PermitAsset
		if err := parseRecord(stream, after, permitAssetRequired, &w); err != nil {
			return Event{Stream: stream}, err
		}
		ev.Link = &w
	case KindDatapoint:
		var w wireDatapoint
		if err := parseRecord(stream, after, datapointRequired, &w); err != nil {
			return Event{Stream: stream}, err
		}
		ev.Datapoint = w.toModel()
	}
	return ev, nil
}

// afterImage returns the raw payload.after object.
func afterImage(raw []byte) (json.RawMessage, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: top-level value is null", ErrMalformedPayload)
	}

	payload, ok := objectField(root, "payload")
	if !ok {
		return nil, fmt.Errorf("%w: envelope has no payload object", ErrNoAfterImage)
	}
	after, ok := payload["after"]
	if !ok || !isObject(after) {
		return nil, fmt.Errorf("%w: payload has no after object", ErrNoAfterImage)
	}
	return after, nil
}

func objectField(obj map[string]json.RawMessage, name string) (map[string]json.RawMessage, bool) {
	raw, ok := obj[name]
	if !ok || !isObject(raw) {
		return nil, false
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// parseRecord checks that every required field is present and non-null, then
// unmarshals the image into dst. Extra fields are ignored.
func parseRecord(stream string, after json.RawMessage, required []string, dst any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(after, &fields); err != nil {
		return &SchemaMismatchError{Stream: stream, Details: err.Error()}
	}

	var missing, null []string
	for _, name := range required {
		v, ok := fields[name]
		switch {
		case !ok:
			missing = append(missing, name)
		case bytes.Equal(bytes.TrimSpace(v), []byte("null")):
			null = append(null, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &SchemaMismatchError{Stream: stream, Details: fmt.Sprintf("missing fields %q", missing)}
	}
	if len(null) > 0 {
		sort.Strings(null)
		return &SchemaMismatchError{Stream: stream, Details: fmt.Sprintf("null fields %q", null)}
	}

	if err := json.Unmarshal(after, dst); err != nil {
		return &SchemaMismatchError{Stream: stream, Details: typeErrorDetails(err)}
	}
	return nil
}

func typeErrorDetails(err error) string {
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) && ute.Field != "" {
		return fmt.Sprintf("field %q: cannot use %s as %s", ute.Field, ute.Value, ute.Type)
	}
	return err.Error()
}
