package decode

import (
	"errors"
	"testing"
	"time"
)

// envelope wraps an after image in the CDC envelope.
func envelope(after string) []byte {
	return []byte(`{"schema":{},"payload":{"before":null,"after":` + after + `,"op":"c"}}`)
}

const (
	assetImage = `{"id":1,"tag":"P-101","name":"Feed pump","description":"Crude feed pump",
		"status":"in-service","date_created":1700000000000,"last_updated":1700000360000}`
	permitImage = `{"id":10,"description":"Seal replacement","status":"active","type":"hot-work",
		"responsible_person":"R. Ortiz","valid_from":1700000000000,"valid_to":1700028800000,
		"authorized_by":"K. Lind","location":"Unit 3","permit_number":"WP-001"}`
	linkImage      = `{"permit_id":10,"asset_id":1}`
	datapointImage = `{"id":500,"timestamp":1700000100000000000,"value":42.5,"asset_id":1}`
)

func TestDecode_Asset(t *testing.T) {
	ev, err := Decode(StreamAsset, envelope(assetImage))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Kind != KindAsset || ev.Asset == nil {
		t.Fatalf("got kind %v, asset %v", ev.Kind, ev.Asset)
	}
	a := ev.Asset
	if a.ID != 1 || a.Tag != "P-101" || a.Name != "Feed pump" || a.Status != "in-service" {
		t.Errorf("unexpected asset: %+v", a)
	}
	if want := time.UnixMilli(1700000000000).UTC(); !a.DateCreated.Equal(want) {
		t.Errorf("DateCreated = %v, want %v", a.DateCreated, want)
	}
	if want := time.UnixMilli(1700000360000).UTC(); !a.LastUpdated.Equal(want) {
		t.Errorf("LastUpdated = %v, want %v", a.LastUpdated, want)
	}
}

func TestDecode_WorkPermit(t *testing.T) {
	ev, err := Decode(StreamWorkPermit, envelope(permitImage))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p := ev.Permit
	if ev.Kind != KindWorkPermit || p == nil {
		t.Fatalf("got kind %v, permit %v", ev.Kind, p)
	}
	if p.ID != 10 || p.PermitNumber != "WP-001" || p.Location != "Unit 3" {
		t.Errorf("unexpected permit: %+v", p)
	}
	if p.Type == nil || *p.Type != "hot-work" {
		t.Errorf("Type = %v, want hot-work", p.Type)
	}
	if p.ValidTo.Sub(p.ValidFrom) != 8*time.Hour {
		t.Errorf("validity window = %v, want 8h", p.ValidTo.Sub(p.ValidFrom))
	}
	if len(p.Assets) != 0 {
		t.Errorf("expected empty asset list, got %d", len(p.Assets))
	}
}

func TestDecode_WorkPermitOptionalType(t *testing.T) {
	for _, image := range []string{
		`{"id":11,"description":"d","status":"s","type":null,"responsible_person":"r",
			"valid_from":0,"valid_to":0,"authorized_by":"a","location":"l","permit_number":"WP-2"}`,
		`{"id":11,"description":"d","status":"s","responsible_person":"r",
			"valid_from":0,"valid_to":0,"authorized_by":"a","location":"l","permit_number":"WP-2"}`,
	} {
		ev, err := Decode(StreamWorkPermit, envelope(image))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if ev.Permit.Type != nil {
			t.Errorf("Type = %q, want nil", *ev.Permit.Type)
		}
	}
}

func TestDecode_WorkPermitIgnoresInboundAssets(t *testing.T) {
	image := `{"id":12,"description":"d","status":"s","responsible_person":"r",
		"valid_from":0,"valid_to":0,"authorized_by":"a","location":"l","permit_number":"WP-3",
		"assets":[{"id":1,"tag":"t","name":"n","description":"d","status":"s","date_created":0,"last_updated":0}]}`
	ev, err := Decode(StreamWorkPermit, envelope(image))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(ev.Permit.Assets) != 0 {
		t.Errorf("inbound assets were kept: %d", len(ev.Permit.Assets))
	}
}

func TestDecode_PermitAsset(t *testing.T) {
	ev, err := Decode(StreamPermitAsset, envelope(linkImage))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Kind != KindPermitAsset || ev.Link.PermitID != 10 || ev.Link.AssetID != 1 {
		t.Errorf("unexpected link event: %+v", ev.Link)
	}
}

func TestDecode_Datapoint(t *testing.T) {
	ev, err := Decode(StreamDatapoints, envelope(datapointImage))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	dp := ev.Datapoint
	if ev.Kind != KindDatapoint || dp.ID != 500 || dp.AssetID != 1 || dp.Value != 42.5 {
		t.Errorf("unexpected datapoint: %+v", dp)
	}
	if got := dp.Timestamp.UnixNano(); got != 1700000100000000000 {
		t.Errorf("Timestamp = %d ns", got)
	}
}

func TestDecode_UnknownStream(t *testing.T) {
	ev, err := Decode("audit-log", envelope(`{"anything":true}`))
	if err != nil {
		t.Fatalf("unknown stream should not be an error, got %v", err)
	}
	if ev.Kind != KindUnknown {
		t.Errorf("Kind = %v, want unknown", ev.Kind)
	}
}

func TestDecode_NoAfterImageOnEveryStream(t *testing.T) {
	payloads := map[string][]byte{
		"no payload":       []byte(`{"schema":{}}`),
		"null payload":     []byte(`{"payload":null}`),
		"payload scalar":   []byte(`{"payload":"x"}`),
		"no after":         []byte(`{"payload":{"op":"d"}}`),
		"null after":       []byte(`{"payload":{"before":{"id":1},"after":null,"op":"d"}}`),
		"after not object": []byte(`{"payload":{"after":[1,2]}}`),
	}
	streams := append([]string{"unknown-stream"}, Streams...)

	for name, raw := range payloads {
		for _, stream := range streams {
			_, err := Decode(stream, raw)
			if !errors.Is(err, ErrNoAfterImage) {
				t.Errorf("%s on %s: got %v, want ErrNoAfterImage", name, stream, err)
			}
		}
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	for _, raw := range []string{``, `None`, `{"payload":`, `[1,2,3]`, `null`, `"text"`} {
		_, err := Decode(StreamAsset, []byte(raw))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("Decode(%q): got %v, want ErrMalformedPayload", raw, err)
		}
	}
}

func TestDecode_SchemaMismatch(t *testing.T) {
	for _, tc := range []struct {
		name   string
		stream string
		image  string
	}{
		{"missing field", StreamPermitAsset, `{"permit_id":10}`},
		{"null required", StreamPermitAsset, `{"permit_id":10,"asset_id":null}`},
		{"wrong type", StreamDatapoints, `{"id":"five","timestamp":1,"value":1.0,"asset_id":1}`},
		{"fractional id", StreamAsset, `{"id":1.5,"tag":"t","name":"n","description":"d","status":"s","date_created":0,"last_updated":0}`},
		{"string timestamp", StreamAsset, `{"id":1,"tag":"t","name":"n","description":"d","status":"s","date_created":"2024-01-01","last_updated":0}`},
		{"wrong entity", StreamWorkPermit, linkImage},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.stream, envelope(tc.image))
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Fatalf("got %v, want ErrSchemaMismatch", err)
			}
			var sme *SchemaMismatchError
			if !errors.As(err, &sme) || sme.Stream != tc.stream || sme.Details == "" {
				t.Errorf("unexpected error detail: %#v", err)
			}
		})
	}
}

func TestDecode_ExtraFieldsIgnored(t *testing.T) {
	_, err := Decode(StreamPermitAsset, envelope(`{"permit_id":1,"asset_id":2,"created_by":"etl"}`))
	if err != nil {
		t.Fatalf("extra fields should be ignored, got %v", err)
	}
}

func TestCategory(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrMalformedPayload, "malformed_payload"},
		{ErrNoAfterImage, "no_after_image"},
		{&SchemaMismatchError{Stream: "asset", Details: "x"}, "schema_mismatch"},
		{errors.New("boom"), "error"},
	} {
		if got := Category(tc.err); got != tc.want {
			t.Errorf("Category(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	for stream, want := range map[string]Kind{
		StreamAsset:       KindAsset,
		StreamWorkPermit:  KindWorkPermit,
		StreamPermitAsset: KindPermitAsset,
		StreamDatapoints:  KindDatapoint,
		"datapoint":       KindUnknown,
	} {
		if got := KindOf(stream); got != want {
			t.Errorf("KindOf(%q) = %v, want %v", stream, got, want)
		}
	}
}
