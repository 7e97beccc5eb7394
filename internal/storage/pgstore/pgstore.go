// Package pgstore is the placeholder for a Postgres-backed
// storage.Store. spec.md §1 scopes out any specific relational backend
// choice beyond "one exists"; internal/storage/sqlitestore is the
// reference implementation that ships and is tested end to end. This
// package marks where a Postgres driver (e.g. jackc/pgx) would be wired
// in behind the same storage.Store contract — same entity tables, same
// CAS and advisory-lock semantics, same schema migration discipline as
// sqlitestore's go:embed'd files — without committing to that work now.
package pgstore

import (
	"errors"

	"github.com/caliber-dev/caliber/internal/storage"
)

// ErrNotImplemented is returned by Open until a real Postgres backend
// lands behind this package.
var ErrNotImplemented = errors.New("pgstore: postgres backend not implemented; use storage/sqlitestore")

// Open would construct a storage.Store backed by a Postgres database at
// dsn. It always fails today; the signature exists so callers and
// cmd/caliberd can already branch on a --backend flag without a second
// round of interface churn once a Postgres driver is wired in.
func Open(dsn string) (storage.Store, error) {
	return nil, ErrNotImplemented
}
