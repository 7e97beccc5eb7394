// Package idgen generates and wraps the time-sortable ids used throughout
// CALIBER. Ids are v7 UUIDs: the leading 48 bits are a millisecond
// timestamp, so lexicographic string order tracks creation order.
package idgen

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is a time-sortable identifier. The zero value is the nil UUID and is
// treated as "unset" by callers that build a record before it has an id.
type ID struct {
	u uuid.UUID
}

// New generates a fresh v7 id.
func New() ID {
	u, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the global entropy source errors;
		// fall back to a random v4 rather than ever returning a zero id.
		u = uuid.New()
	}
	return ID{u: u}
}

// Parse parses a canonical UUID string into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("idgen: parse %q: %w", s, err)
	}
	return ID{u: u}, nil
}

// MustParse is Parse but panics on error; for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether this id has never been assigned.
func (id ID) IsZero() bool { return id.u == uuid.Nil }

func (id ID) String() string { return id.u.String() }

// Bytes returns the 16 raw bytes of the id, for callers (lockmgr's key
// hash) that need a stable binary form rather than the string encoding.
func (id ID) Bytes() [16]byte { return [16]byte(id.u) }

// Less reports whether id sorts strictly before other — lexicographic on
// the canonical string form, which for v7 ids tracks creation order.
func (id ID) Less(other ID) bool { return id.String() < other.String() }

func (id ID) MarshalText() ([]byte, error) { return []byte(id.u.String()), nil }

func (id *ID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("idgen: unmarshal %q: %w", string(b), err)
	}
	id.u = u
	return nil
}

// Value implements database/sql/driver.Valuer so an ID can be passed
// directly as a query argument.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return id.u.String(), nil
}

// Scan implements database/sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = ID{}
		return nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("idgen: scan %q: %w", v, err)
		}
		id.u = u
		return nil
	case []byte:
		u, err := uuid.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("idgen: scan %q: %w", v, err)
		}
		id.u = u
		return nil
	default:
		return fmt.Errorf("idgen: cannot scan %T into ID", src)
	}
}
