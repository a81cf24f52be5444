package decode

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload means the message is not a JSON object at all.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNoAfterImage means the envelope has no payload.after row image
	// (missing, null, or not an object).
	ErrNoAfterImage = errors.New("no after image")

	// ErrSchemaMismatch is matched by every *SchemaMismatchError.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// SchemaMismatchError reports an after image whose fields do not match the
// record type of its stream.
type SchemaMismatchError struct {
	Stream  string
	Details string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch for %s: %s", e.Stream, e.Details)
}

// Is makes errors.Is(err, ErrSchemaMismatch) true for any SchemaMismatchError.
func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// Category returns a short stable label for a decode error, suitable for
// log fields and metric labels.
func Category(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrNoAfterImage):
		return "no_after_image"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	default:
		return "error"
	}
}
