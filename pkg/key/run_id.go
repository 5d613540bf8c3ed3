// Package key implements Strata's structured key model: a key is
// (run_id, type_tag, user_bytes), encoded so that lexicographic byte order
// on the encoding matches the spec's required ordering.
package key

import (
	"github.com/google/uuid"
)

// RunID identifies a run. The sentinel "default" run is the nil UUID
// (RunID{}), so it sorts before every generated run and never collides
// with a UUIDv7 (which is never all-zero).
type RunID struct {
	id uuid.UUID
}

// DefaultRunID is the sentinel run every database starts with.
func DefaultRunID() RunID { return RunID{} }

// NewRunID generates a fresh run id using UUIDv7, the same generator the
// teacher uses for its row ids (time-ordered, so run ids this process
// creates sort roughly by creation time too).
func NewRunID() (RunID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return RunID{}, err
	}
	return RunID{id: id}, nil
}

// RunIDFromBytes reconstructs a RunID from its 16-byte encoding.
func RunIDFromBytes(b [16]byte) RunID {
	return RunID{id: uuid.UUID(b)}
}

func (r RunID) IsDefault() bool { return r.id == uuid.Nil }

func (r RunID) Bytes() [16]byte { return [16]byte(r.id) }

func (r RunID) String() string {
	if r.IsDefault() {
		return "default"
	}
	return r.id.String()
}

// ParseRunID accepts "default" or a UUID string.
func ParseRunID(s string) (RunID, error) {
	if s == "default" {
		return DefaultRunID(), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return RunID{}, err
	}
	return RunID{id: id}, nil
}
