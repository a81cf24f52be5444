package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EpochMillis is a time.Time carried on the wire as integer milliseconds
// since the Unix epoch (the CDC encoding of timestamp columns).
type EpochMillis time.Time

// Time returns the value as a UTC time.Time.
func (t EpochMillis) Time() time.Time {
	return time.Time(t).UTC()
}

func (t EpochMillis) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UnixMilli())
}

func (t *EpochMillis) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("epoch millis: %w", err)
	}
	*t = EpochMillis(time.UnixMilli(ms).UTC())
	return nil
}

// EpochNanos is a time.Time carried on the wire as integer nanoseconds since
// the Unix epoch. Datapoint timestamps use it.
type EpochNanos time.Time

// Time returns the value as a UTC time.Time.
func (t EpochNanos) Time() time.Time {
	return time.Time(t).UTC()
}

func (t EpochNanos) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UnixNano())
}

func (t *EpochNanos) UnmarshalJSON(data []byte) error {
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("epoch nanos: %w", err)
	}
	*t = EpochNanos(time.Unix(0, ns).UTC())
	return nil
}
