// Package idempotency wraps storage.IdempotencyStore with the small
// result type any externally-triggered mutation needs: a fresh key gets
// ResultNew, a replayed key gets back the cached response, and a reused
// key with a different body gets a conflict.
package idempotency

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Result reports what Check found for a key.
type Result struct {
	// New is true when this call created the placeholder row and the
	// caller must proceed to do the work and call Store.
	New bool
	// Status and Body are populated when New is false and the request
	// has already completed; Status is 0 while a racing caller's work
	// is still in flight.
	Status int
	Body   []byte
}

// Cache is the in-process convenience wrapper spec.md §4.7 describes as
// check/store.
type Cache struct {
	store storage.IdempotencyStore
	ttl   time.Duration
	log   *clog.Logger
}

func New(store storage.IdempotencyStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{store: store, ttl: ttl, log: clog.New("IDEMPOTENCY")}
}

// HashRequest fingerprints a request body for the conflict check; any
// two calls with the same key must pass the same hash or one of them
// gets back an *errs.IdempotencyConflict.
func HashRequest(body []byte) []byte {
	sum := sha256.Sum256(body)
	return sum[:]
}

// Check inserts a placeholder for (key, operation, requestHash) if one
// doesn't exist yet. A losing caller (key already seen) gets back the
// existing record's result, or Status 0 if the winner hasn't finished
// yet — callers racing on the same key should poll or simply proceed as
// if their own work also ran, per spec.md's idempotent-retry contract.
func (c *Cache) Check(ctx context.Context, key, operation string, body []byte) (Result, error) {
	rec, won, err := c.store.InsertIdempotencyPlaceholder(ctx, key, operation, HashRequest(body), time.Now().Add(c.ttl).Unix())
	if err != nil {
		if _, ok := errs.As[*errs.IdempotencyConflict](err); ok {
			return Result{}, err
		}
		return Result{}, err
	}
	if won {
		return Result{New: true}, nil
	}
	c.log.Info("idempotency key %q already in flight or completed", key)
	return Result{New: false, Status: rec.ResponseStatus, Body: rec.ResponseBody}, nil
}

// Store records the result of the work performed for key, so future
// replays of the same key short-circuit straight to this response.
func (c *Cache) Store(ctx context.Context, key string, status int, body []byte) error {
	return c.store.StoreIdempotencyResult(ctx, key, status, body)
}

// Purge deletes expired rows. Analogous to the teacher's
// CleanExpiredContext, run on a schedule (cmd/caliberd gc-idempotency).
func (c *Cache) Purge(ctx context.Context, now time.Time) (int, error) {
	n, err := c.store.DeleteExpiredIdempotency(ctx, now.Unix())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Info("purged %d expired idempotency record(s)", n)
	}
	return n, nil
}
