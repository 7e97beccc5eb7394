// Package core composes every component package into the single set of
// operations spec.md §6 describes: entity CRUD, coordination ops,
// context assembly, the change journal, and the configuration DSL. A
// protocol layer (HTTP/gRPC/WebSocket) sits above this package and is
// out of scope; Core is the stable surface that layer calls into.
package core

import (
	"time"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/coordination"
	"github.com/caliber-dev/caliber/internal/dsl/deploy"
	"github.com/caliber-dev/caliber/internal/idempotency"
	"github.com/caliber-dev/caliber/internal/journal"
	"github.com/caliber-dev/caliber/internal/lockmgr"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/saga"
	"github.com/caliber-dev/caliber/internal/storage"
	"github.com/caliber-dev/caliber/internal/val"
)

// Core is the full set of capabilities the rest of CALIBER is built
// from. Entity CRUD (create/get/update/delete/list_by_<field> per
// entity type) is promoted directly from the embedded storage.Store;
// everything this package adds is the composed behavior storage alone
// cannot provide: locking, sagas, messaging, access control, context
// assembly, and configuration deploy.
type Core struct {
	storage.Store

	Locks         *lockmgr.Manager
	Delegations   *saga.Delegations
	Handoffs      *saga.Handoffs
	Sweeper       *saga.Sweeper
	Idempotency   *idempotency.Cache
	Journal       *journal.Journal
	Messages      *coordination.Messages
	Regions       *coordination.Regions
	Conflicts     *coordination.Conflicts
	Edges         *coordination.Edges
	DSL           *deploy.Deployer
	Embeddings    *val.Router[val.EmbeddingProvider]
	Summarization *val.Router[val.SummarizationProvider]

	cfg model.Config
	log *clog.Logger
}

// Option customizes New. The message notifier, embeddings and
// summarization are optional dependencies. Without WithNotifier, Messages
// is built with a nil notifier; a Core with neither embeddings nor
// summarization configured still serves
// every entity, coordination, journal, and DSL operation — only
// assemble_context's relevance scoring and val-backed extraction
// degrade gracefully (queryEmbedding nil, contradiction detection
// unavailable).
type Option func(*Core)

func WithNotifier(n coordination.Notifier) Option {
	return func(c *Core) { c.Messages = coordination.NewMessages(c.Store, n) }
}

func WithEmbeddings(r *val.Router[val.EmbeddingProvider]) Option {
	return func(c *Core) { c.Embeddings = r }
}

func WithSummarization(r *val.Router[val.SummarizationProvider]) Option {
	return func(c *Core) { c.Summarization = r }
}

func WithSagaTimeoutThreshold(d time.Duration) Option {
	return func(c *Core) { c.Sweeper = saga.NewSweeper(c.Store, d) }
}

// New builds a Core over store, rejecting an invalid cfg outright per
// spec.md §6: configuration has no defaults and is validated up front,
// not lazily at first use.
func New(store storage.Store, cfg model.Config, opts ...Option) (*Core, error) {
	if err := model.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	notifier := journal.NewNotifier()
	istore := journal.Instrument(store, notifier)

	c := &Core{
		Store:       istore,
		Locks:       lockmgr.New(istore),
		Delegations: saga.NewDelegations(istore),
		Handoffs:    saga.NewHandoffs(istore),
		Sweeper:     saga.NewSweeper(istore, cfg.SagaDefaultTimeout),
		Idempotency: idempotency.New(istore, cfg.IdempotencyTTL),
		Journal:     journal.New(istore, notifier),
		Messages:    coordination.NewMessages(istore, nil),
		Regions:     coordination.NewRegions(istore),
		Conflicts:   coordination.NewConflicts(istore),
		Edges:       coordination.NewEdges(istore),
		DSL:         deploy.New(istore),
		cfg:         cfg,
		log:         clog.New("CORE"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the configuration Core was built with.
func (c *Core) Config() model.Config { return c.cfg }
