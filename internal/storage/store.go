// Package storage defines the capability the core depends on for
// persistence (C2): typed CRUD plus CAS updates and vector search over
// the entities in internal/model. Every operation takes a
// context.Context carrying the tenant (internal/tenant); every failure
// is one of the kinds in internal/errs.
package storage

import (
	"context"
	"time"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
)

// ListOptions bounds and orders a list_by_<field> query. Records are
// returned in id order (ascending = creation order) unless Descending is
// set, per spec.md §6.
type ListOptions struct {
	Limit      int
	Descending bool
}

// VectorSearchResult pairs a candidate entity id with its similarity
// score against the query embedding.
type VectorSearchResult struct {
	EntityType string
	EntityID   idgen.ID
	Score      float64
}

// TrajectoryStore is the C2 contract for Trajectory records.
type TrajectoryStore interface {
	CreateTrajectory(ctx context.Context, t *model.Trajectory) (idgen.ID, error)
	GetTrajectory(ctx context.Context, id idgen.ID) (*model.Trajectory, error)
	UpdateTrajectory(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Trajectory, error)
	DeleteTrajectory(ctx context.Context, id idgen.ID) error
	ListTrajectoriesByAgent(ctx context.Context, agentID idgen.ID, opts ListOptions) ([]*model.Trajectory, error)
	ListTrajectoriesByParent(ctx context.Context, parentID idgen.ID, opts ListOptions) ([]*model.Trajectory, error)
}

// ScopeStore is the C2 contract for Scope records.
type ScopeStore interface {
	CreateScope(ctx context.Context, s *model.Scope) (idgen.ID, error)
	GetScope(ctx context.Context, id idgen.ID) (*model.Scope, error)
	UpdateScope(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Scope, error)
	DeleteScope(ctx context.Context, id idgen.ID) error
	ListScopesByTrajectory(ctx context.Context, trajectoryID idgen.ID, opts ListOptions) ([]*model.Scope, error)
}

// TurnStore is the C2 contract for Turn records. CreateTurn must enforce
// the (scope_id, sequence) uniqueness invariant, returning an
// errs.Contention when two writers race on the same sequence number.
type TurnStore interface {
	CreateTurn(ctx context.Context, t *model.Turn) (idgen.ID, error)
	GetTurn(ctx context.Context, id idgen.ID) (*model.Turn, error)
	ListTurnsByScope(ctx context.Context, scopeID idgen.ID, opts ListOptions) ([]*model.Turn, error)
	NextSequence(ctx context.Context, scopeID idgen.ID) (int, error)
}

// ArtifactStore is the C2 contract for Artifact records.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, a *model.Artifact) (idgen.ID, error)
	GetArtifact(ctx context.Context, id idgen.ID) (*model.Artifact, error)
	UpdateArtifact(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Artifact, error)
	DeleteArtifact(ctx context.Context, id idgen.ID) error
	ListArtifactsByScope(ctx context.Context, scopeID idgen.ID, opts ListOptions) ([]*model.Artifact, error)
	ListArtifactsByTrajectory(ctx context.Context, trajectoryID idgen.ID, opts ListOptions) ([]*model.Artifact, error)
}

// NoteStore is the C2 contract for Note records.
type NoteStore interface {
	CreateNote(ctx context.Context, n *model.Note) (idgen.ID, error)
	GetNote(ctx context.Context, id idgen.ID) (*model.Note, error)
	UpdateNote(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Note, error)
	DeleteNote(ctx context.Context, id idgen.ID) error
	ListNotesByTrajectory(ctx context.Context, trajectoryID idgen.ID, opts ListOptions) ([]*model.Note, error)
	TouchNoteAccess(ctx context.Context, id idgen.ID, at time.Time) error
}

// AgentStore is the C2 contract for Agent records.
type AgentStore interface {
	CreateAgent(ctx context.Context, a *model.Agent) (idgen.ID, error)
	GetAgent(ctx context.Context, id idgen.ID) (*model.Agent, error)
	UpdateAgent(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Agent, error)
	DeleteAgent(ctx context.Context, id idgen.ID) error
	ListAgentsByStatus(ctx context.Context, status model.AgentStatus, opts ListOptions) ([]*model.Agent, error)
	ListStaleAgents(ctx context.Context, olderThanSeconds int64) ([]*model.Agent, error)
}

// LockStore is the C2 + C5 contract for Lock audit records, plus the
// storage engine's native advisory-lock primitive.
type LockStore interface {
	// TryAdvisoryLock attempts the storage engine's native advisory lock
	// for key. It returns true if acquired. The caller must release it
	// explicitly via ReleaseAdvisoryLock; internal/lockmgr pairs every
	// acquire with a release in the same critical section.
	TryAdvisoryLock(ctx context.Context, key uint64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key uint64) error

	InsertLockAudit(ctx context.Context, l *model.Lock) (idgen.ID, error)
	GetLockAudit(ctx context.Context, id idgen.ID) (*model.Lock, error)
	DeleteLockAudit(ctx context.Context, id idgen.ID) error
	CASRenewLock(ctx context.Context, id idgen.ID, expectedVersion int, newExpiresAt int64) (newVersion int, err error)
	ListLocksByResource(ctx context.Context, resourceType, resourceID string) ([]*model.Lock, error)
	ListExpiredLocks(ctx context.Context, nowUnix int64) ([]*model.Lock, error)
}

// MessageStore is the C2 + C10 contract for Message records.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) (idgen.ID, error)
	GetMessage(ctx context.Context, id idgen.ID) (*model.Message, error)
	PendingMessages(ctx context.Context, agentID *idgen.ID, agentType *string) ([]*model.Message, error)
	MarkDelivered(ctx context.Context, id idgen.ID) error
	MarkAcknowledged(ctx context.Context, id idgen.ID) error
	DeleteExpiredMessages(ctx context.Context, nowUnix int64) (int, error)
}

// SagaStore is the C2 + C6 contract shared by Delegation and Handoff.
type SagaStore interface {
	CreateDelegation(ctx context.Context, d *model.Delegation) (idgen.ID, error)
	GetDelegation(ctx context.Context, id idgen.ID) (*model.Delegation, error)
	CASUpdateDelegation(ctx context.Context, id idgen.ID, expectedVersion int, patch map[string]any) (newVersion int, err error)
	ListActiveDelegations(ctx context.Context) ([]*model.Delegation, error)

	CreateHandoff(ctx context.Context, h *model.Handoff) (idgen.ID, error)
	GetHandoff(ctx context.Context, id idgen.ID) (*model.Handoff, error)
	CASUpdateHandoff(ctx context.Context, id idgen.ID, expectedVersion int, patch map[string]any) (newVersion int, err error)
	ListActiveHandoffs(ctx context.Context) ([]*model.Handoff, error)
}

// EdgeStore is the C2 contract for Edge records.
type EdgeStore interface {
	CreateEdge(ctx context.Context, e *model.Edge) (idgen.ID, error)
	GetEdge(ctx context.Context, id idgen.ID) (*model.Edge, error)
	DeleteEdge(ctx context.Context, id idgen.ID) error
	ListEdgesByParticipant(ctx context.Context, entityType string, entityID idgen.ID) ([]*model.Edge, error)
	OrphanParticipant(ctx context.Context, entityType string, entityID idgen.ID) (int, error)
}

// RegionStore and ConflictStore are the C2 contracts for C10's Region and
// Conflict records.
type RegionStore interface {
	CreateRegion(ctx context.Context, r *model.Region) (idgen.ID, error)
	GetRegion(ctx context.Context, id idgen.ID) (*model.Region, error)
	UpdateRegion(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Region, error)
}

type ConflictStore interface {
	CreateConflict(ctx context.Context, c *model.Conflict) (idgen.ID, error)
	GetConflict(ctx context.Context, id idgen.ID) (*model.Conflict, error)
	ResolveConflict(ctx context.Context, id idgen.ID, resolution model.ConflictResolutionRecord) error
	ListOpenConflicts(ctx context.Context, opts ListOptions) ([]*model.Conflict, error)
}

// JournalStore is the C2 + C4 contract for the change journal.
type JournalStore interface {
	AppendChange(ctx context.Context, c *model.Change) error
	Watermark(ctx context.Context) (int64, error)
	HasChangesSince(ctx context.Context, watermark int64, entityTypes []string) (bool, error)
	ChangesSince(ctx context.Context, watermark int64, entityTypes []string, limit int) ([]*model.Change, error)
	CleanupChanges(ctx context.Context, retentionDays int) (int, error)
}

// IdempotencyStore is the C2 + C7 contract for the idempotency cache.
type IdempotencyStore interface {
	InsertIdempotencyPlaceholder(ctx context.Context, key string, operation string, requestHash []byte, expiresAtUnix int64) (*model.IdempotencyRecord, bool, error)
	StoreIdempotencyResult(ctx context.Context, key string, status int, body []byte) error
	GetIdempotency(ctx context.Context, key string) (*model.IdempotencyRecord, error)
	DeleteExpiredIdempotency(ctx context.Context, nowUnix int64) (int, error)
}

// VectorStore is the C2 vector_search contract.
type VectorStore interface {
	VectorSearch(ctx context.Context, entityType string, embedding []float32, k int) ([]VectorSearchResult, error)
}

// DSLStore is the C2 contract backing the C11 configuration DSL's
// versioned deploy history.
type DSLStore interface {
	InsertConfigVersion(ctx context.Context, name string, version int, source string, compiled []byte) (idgen.ID, error)
	ActivateConfigVersion(ctx context.Context, configID idgen.ID) error
	GetActiveConfig(ctx context.Context, name string) (configID idgen.ID, version int, source string, compiled []byte, err error)
	GetConfigVersion(ctx context.Context, name string, version int) (configID idgen.ID, source string, compiled []byte, err error)
	LatestConfigVersion(ctx context.Context, name string) (int, error)
	ConfigHistory(ctx context.Context, name string) ([]ConfigVersionSummary, error)
	AppendDeployAudit(ctx context.Context, entry DeployAuditEntry) error
}

// ConfigVersionSummary is one row of the DSL deploy history.
type ConfigVersionSummary struct {
	ConfigID  idgen.ID
	Version   int
	Active    bool
	CreatedAt int64
}

// DeployAuditEntry records one deploy/rollback/archive action.
type DeployAuditEntry struct {
	Name      string
	Version   int
	Action    string // deploy | rollback | archive
	Notes     string
	CreatedAt int64
}

// Tx runs fn inside a single storage transaction. Multi-entity mutations
// that must be atomic (e.g. creating a delegation and linking its child
// trajectory) call this instead of issuing independent calls.
type Tx interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is the full C2 capability the rest of the core depends on.
type Store interface {
	TrajectoryStore
	ScopeStore
	TurnStore
	ArtifactStore
	NoteStore
	AgentStore
	LockStore
	MessageStore
	SagaStore
	EdgeStore
	RegionStore
	ConflictStore
	JournalStore
	IdempotencyStore
	VectorStore
	DSLStore
	Tx

	Close() error
}
