package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/core"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage/sqlitestore"
	"github.com/caliber-dev/caliber/internal/val"
)

var log = clog.New("CALIBERD")

// dbFlags is embedded by every subcommand that needs a database path,
// the way the teacher's subcommands all shared a --config flag.
type dbFlags struct {
	DB string `help:"path to the sqlite database file." default:"data/caliber.db"`
}

type migrateCmd struct {
	dbFlags
}

func (c *migrateCmd) Run() error {
	store, err := sqlitestore.Open(c.DB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	log.Info("schema applied at %s", c.DB)
	return nil
}

type sweepCmd struct {
	dbFlags
}

func (c *sweepCmd) Run() error {
	caliber, err := openCore(c.DB)
	if err != nil {
		return err
	}
	defer caliber.Close()

	n, err := caliber.TimeoutSweep(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	log.Info("swept %s timed-out saga(s)", humanize.Comma(int64(n)))
	return nil
}

type gcLocksCmd struct {
	dbFlags
}

func (c *gcLocksCmd) Run() error {
	caliber, err := openCore(c.DB)
	if err != nil {
		return err
	}
	defer caliber.Close()

	n, err := caliber.GCLocks(context.Background())
	if err != nil {
		return fmt.Errorf("gc-locks: %w", err)
	}
	log.Info("released %s expired lock(s)", humanize.Comma(int64(n)))
	return nil
}

type gcIdempotencyCmd struct {
	dbFlags
}

func (c *gcIdempotencyCmd) Run() error {
	caliber, err := openCore(c.DB)
	if err != nil {
		return err
	}
	defer caliber.Close()

	n, err := caliber.GCIdempotency(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("gc-idempotency: %w", err)
	}
	log.Info("purged %s expired idempotency record(s)", humanize.Comma(int64(n)))
	return nil
}

type gcJournalCmd struct {
	dbFlags
	RetentionDays int `help:"delete change rows older than this many days." default:"30"`
}

func (c *gcJournalCmd) Run() error {
	caliber, err := openCore(c.DB)
	if err != nil {
		return err
	}
	defer caliber.Close()

	n, err := caliber.GCJournal(context.Background(), c.RetentionDays)
	if err != nil {
		return fmt.Errorf("gc-journal: %w", err)
	}
	log.Info("pruned %s change row(s) older than %d day(s)", humanize.Comma(int64(n)), c.RetentionDays)
	return nil
}

type serveCmd struct {
	dbFlags
	Bootstrap string        `help:"provider bootstrap registry file." default:"configs/providers.yaml"`
	Interval  time.Duration `help:"how often to run sweep + gc." default:"1m"`
}

func (c *serveCmd) Run() error {
	if _, err := val.LoadBootstrapConfig(c.Bootstrap); err != nil {
		log.Warn("no provider bootstrap loaded from %s: %v", c.Bootstrap, err)
	}

	caliber, err := openCore(c.DB)
	if err != nil {
		return err
	}
	defer caliber.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("serving against %s, maintenance every %s", c.DB, c.Interval)
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			runMaintenance(ctx, caliber)
		}
	}
}

func runMaintenance(ctx context.Context, c *core.Core) {
	if n, err := c.TimeoutSweep(ctx, time.Now()); err != nil {
		log.Error("sweep: %v", err)
	} else if n > 0 {
		log.Info("swept %s timed-out saga(s)", humanize.Comma(int64(n)))
	}
	if n, err := c.GCLocks(ctx); err != nil {
		log.Error("gc-locks: %v", err)
	} else if n > 0 {
		log.Info("released %s expired lock(s)", humanize.Comma(int64(n)))
	}
	if n, err := c.GCIdempotency(ctx, time.Now()); err != nil {
		log.Error("gc-idempotency: %v", err)
	} else if n > 0 {
		log.Info("purged %s expired idempotency record(s)", humanize.Comma(int64(n)))
	}
}

// baselineConfig is the fallback model.Config the process starts with
// before any tenant has deployed one through the DSL. Config has no
// defaults at the model layer by design (spec.md §4.1); this is the
// CLI's own operational baseline, not a model-level default.
func baselineConfig() model.Config {
	return model.Config{
		TokenBudget: 8000,
		SectionPriorities: map[model.Section]int{
			model.SectionSystem:    5,
			model.SectionUser:      4,
			model.SectionArtifacts: 3,
			model.SectionNotes:     2,
			model.SectionHistory:   1,
		},
		RecencyHalfLife:        24 * time.Hour,
		CheckpointRetention:    10,
		StaleThreshold:         time.Hour,
		ContradictionThreshold: 0.75,
		ContextPersistence:     model.ContextPersistence{Kind: "session"},
		ValidationMode:         model.ValidateOnMutation,
		RetryConfig: model.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2,
		},
		CircuitBreaker: model.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Cooldown:         30 * time.Second,
		},
		LockDefaultTTL:     30 * time.Second,
		SagaDefaultTimeout: 10 * time.Minute,
		IdempotencyTTL:     24 * time.Hour,
	}
}

func openCore(dbPath string) (*core.Core, error) {
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	cfg := baselineConfig()
	c, err := core.New(store, cfg,
		core.WithSagaTimeoutThreshold(cfg.SagaDefaultTimeout),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build core: %w", err)
	}
	return c, nil
}

var cli struct {
	Serve         serveCmd         `cmd:"" help:"Run the maintenance loop (sweep + gc) until signaled."`
	Migrate       migrateCmd       `cmd:"" help:"Apply the storage schema."`
	Sweep         sweepCmd         `cmd:"" help:"Run timeout_sweep once."`
	GcLocks       gcLocksCmd       `cmd:"gc-locks" help:"Release expired locks once."`
	GcIdempotency gcIdempotencyCmd `cmd:"gc-idempotency" help:"Purge expired idempotency records once."`
	GcJournal     gcJournalCmd     `cmd:"gc-journal" help:"Prune old change journal rows once."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("caliberd"),
		kong.Description("CALIBER maintenance daemon: serve, migrate, sweep, and gc the storage layer."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}
