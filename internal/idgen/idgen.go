// Package idgen generates short, URL-safe identifiers for records the engine
// emits (attributions, snapshots). Entity ids come from the source system and
// are never generated here.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the record kinds that carry generated ids.
const (
	AttributionPrefix = "at-"
	SnapshotPrefix    = "snap-"
)

const (
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	length   = 12
)

// New returns prefix followed by a random nanoid.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Attribution returns a new attribution record id.
func Attribution() (string, error) {
	return New(AttributionPrefix)
}

// Snapshot returns a new snapshot id.
func Snapshot() (string, error) {
	return New(SnapshotPrefix)
}
