package saga

import (
	"context"
	"time"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Sweeper finds delegations and handoffs that have gone stuck — past
// their timeout_at, or silent past last_progress_at + threshold — and
// times them out. It is idempotent: running it twice in a row with no
// new stuck records in between is a no-op the second time, since a
// terminal record is never re-timed-out.
type Sweeper struct {
	store       storage.SagaStore
	delegations *Delegations
	handoffs    *Handoffs
	threshold   time.Duration
	log         *clog.Logger
}

func NewSweeper(store storage.SagaStore, threshold time.Duration) *Sweeper {
	return &Sweeper{
		store:       store,
		delegations: NewDelegations(store),
		handoffs:    NewHandoffs(store),
		threshold:   threshold,
		log:         clog.New("SAGA").With("sweep"),
	}
}

// Sweep runs one pass, timing out every stuck active delegation and
// handoff. It returns the number of records timed out.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	n := 0

	delegations, err := s.store.ListActiveDelegations(ctx)
	if err != nil {
		return n, err
	}
	for _, d := range delegations {
		reason, stuck := s.stuckReason(d.TimeoutAt, d.LastProgressAt, now)
		if !stuck {
			continue
		}
		if err := s.delegations.Timeout(ctx, d.ID, reason); err != nil {
			return n, err
		}
		n++
	}

	handoffs, err := s.store.ListActiveHandoffs(ctx)
	if err != nil {
		return n, err
	}
	for _, h := range handoffs {
		reason, stuck := s.stuckReason(h.TimeoutAt, h.LastProgressAt, now)
		if !stuck {
			continue
		}
		if err := s.handoffs.Timeout(ctx, h.ID, reason); err != nil {
			return n, err
		}
		n++
	}

	if n > 0 {
		s.log.Info("timed out %d stuck saga(s)", n)
	}
	return n, nil
}

func (s *Sweeper) stuckReason(timeoutAt *time.Time, lastProgressAt, now time.Time) (string, bool) {
	if timeoutAt != nil && timeoutAt.Before(now) {
		return "timeout_at exceeded", true
	}
	if lastProgressAt.Add(s.threshold).Before(now) {
		return "no progress within threshold", true
	}
	return "", false
}
