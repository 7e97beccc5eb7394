package model

import (
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
)

// TrajectoryStatus is the lifecycle state of a Trajectory.
type TrajectoryStatus string

const (
	TrajectoryActive    TrajectoryStatus = "active"
	TrajectoryCompleted TrajectoryStatus = "completed"
	TrajectoryFailed    TrajectoryStatus = "failed"
	TrajectorySuspended TrajectoryStatus = "suspended"
)

// Trajectory is a top-level task unit owning a set of scopes.
type Trajectory struct {
	TenantBase
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	Status             TrajectoryStatus `json:"status"`
	ParentTrajectoryID *idgen.ID        `json:"parent_trajectory_id,omitempty"`
	RootTrajectoryID   *idgen.ID        `json:"root_trajectory_id,omitempty"`
	AgentID            *idgen.ID        `json:"agent_id,omitempty"`
	Outcome            Metadata         `json:"outcome,omitempty"`
	Metadata           Metadata         `json:"metadata,omitempty"`
}

// Checkpoint is a recoverable snapshot of a scope's working context.
type Checkpoint struct {
	ContextState Metadata `json:"context_state"`
	Recoverable  bool     `json:"recoverable"`
}

// Scope is a bounded working context within a trajectory.
type Scope struct {
	TenantBase
	TrajectoryID  idgen.ID   `json:"trajectory_id"`
	ParentScopeID *idgen.ID  `json:"parent_scope_id,omitempty"`
	Name          string     `json:"name"`
	Purpose       string     `json:"purpose"`
	IsActive      bool       `json:"is_active"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	Checkpoint    Checkpoint `json:"checkpoint"`
	TokenBudget   int        `json:"token_budget"`
	TokensUsed    int        `json:"tokens_used"`
	Metadata      Metadata   `json:"metadata,omitempty"`
}

// Validate enforces the Scope invariants from spec.md §3.
func (s *Scope) Validate() error {
	if s.TokensUsed > s.TokenBudget {
		return &errs.ValidationError{Field: "tokens_used", Reason: "exceeds token_budget"}
	}
	if s.IsActive && s.ClosedAt != nil {
		return &errs.ValidationError{Field: "closed_at", Reason: "must be unset while scope is active"}
	}
	if !s.IsActive && s.ClosedAt == nil {
		return &errs.ValidationError{Field: "closed_at", Reason: "must be set once scope is closed"}
	}
	return nil
}

// TurnRole is who produced a Turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
	RoleTool      TurnRole = "tool"
)

// Turn is a single sequence-ordered conversational step inside a scope.
type Turn struct {
	TenantBase
	ScopeID     idgen.ID `json:"scope_id"`
	Sequence    int      `json:"sequence"`
	Role        TurnRole `json:"role"`
	Content     string   `json:"content"`
	TokenCount  int      `json:"token_count"`
	ToolCalls   Metadata `json:"tool_calls,omitempty"`
	ToolResults Metadata `json:"tool_results,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// ExtractionMethod describes how an Artifact's content was produced.
type ExtractionMethod string

const (
	ExtractionExplicit     ExtractionMethod = "explicit"
	ExtractionInferred     ExtractionMethod = "inferred"
	ExtractionUserProvided ExtractionMethod = "user_provided"
)

// Provenance records where an Artifact came from.
type Provenance struct {
	SourceTurn       *idgen.ID        `json:"source_turn,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	Confidence       float64          `json:"confidence"`
}

// TTLKind is the lifetime policy attached to Artifacts and Notes.
type TTLKind string

const (
	TTLPersistent TTLKind = "persistent"
	TTLSession    TTLKind = "session"
	TTLScope      TTLKind = "scope"
	TTLDuration   TTLKind = "duration"
)

// TTL is a tagged union: Kind selects which other field is meaningful.
type TTL struct {
	Kind     TTLKind       `json:"kind"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Artifact is a durable output produced within a scope.
type Artifact struct {
	TenantBase
	TrajectoryID  idgen.ID  `json:"trajectory_id"`
	ScopeID       idgen.ID  `json:"scope_id"`
	ArtifactType  string    `json:"artifact_type"`
	Name          string    `json:"name"`
	Content       string    `json:"content"`
	ContentHash   [32]byte  `json:"content_hash"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Provenance    Provenance `json:"provenance"`
	TTL           TTL       `json:"ttl"`
	SupersededBy  *idgen.ID `json:"superseded_by,omitempty"`
	Metadata      Metadata  `json:"metadata,omitempty"`
}

// AbstractionLevel is how processed a Note is relative to raw observation.
type AbstractionLevel string

const (
	AbstractionRaw       AbstractionLevel = "raw"
	AbstractionSummary   AbstractionLevel = "summary"
	AbstractionPrinciple AbstractionLevel = "principle"
)

// Note is a durable knowledge item usable across trajectories.
type Note struct {
	TenantBase
	NoteType             string           `json:"note_type"`
	Title                string           `json:"title"`
	Content              string           `json:"content"`
	ContentHash          [32]byte         `json:"content_hash"`
	Embedding            []float32        `json:"embedding,omitempty"`
	SourceTrajectoryIDs  []idgen.ID       `json:"source_trajectory_ids,omitempty"`
	SourceArtifactIDs    []idgen.ID       `json:"source_artifact_ids,omitempty"`
	AbstractionLevel     AbstractionLevel `json:"abstraction_level"`
	SourceNoteIDs        []idgen.ID       `json:"source_note_ids,omitempty"`
	TTL                  TTL              `json:"ttl"`
	AccessedAt           time.Time        `json:"accessed_at"`
	AccessCount          int              `json:"access_count"`
	SupersededBy         *idgen.ID        `json:"superseded_by,omitempty"`
	Metadata             Metadata         `json:"metadata,omitempty"`
}

// AgentStatus is the current status of an Agent.
type AgentStatus string

const (
	AgentIdle   AgentStatus = "idle"
	AgentActive AgentStatus = "active"
	AgentBlocked AgentStatus = "blocked"
	AgentFailed AgentStatus = "failed"
)

// MemoryAccess is the read/write permission set granted to an Agent.
type MemoryAccess struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

// Agent is an actor with capabilities, status, and access rights.
type Agent struct {
	TenantBase
	AgentType          string       `json:"agent_type"`
	Capabilities       []string     `json:"capabilities"`
	MemoryAccess       MemoryAccess `json:"memory_access"`
	Status             AgentStatus  `json:"status"`
	CurrentTrajectoryID *idgen.ID   `json:"current_trajectory_id,omitempty"`
	CurrentScopeID     *idgen.ID    `json:"current_scope_id,omitempty"`
	CanDelegateTo      []string     `json:"can_delegate_to"`
	ReportsTo          *idgen.ID    `json:"reports_to,omitempty"`
	LastHeartbeat      time.Time    `json:"last_heartbeat"`
}

// LockMode is exclusive or shared.
type LockMode string

const (
	LockExclusive LockMode = "exclusive"
	LockShared    LockMode = "shared"
)

// Lock is the audit record for one held advisory lock.
type Lock struct {
	TenantBase
	Versioned
	ResourceType  string    `json:"resource_type"`
	ResourceID    string    `json:"resource_id"`
	HolderAgentID idgen.ID  `json:"holder_agent_id"`
	Mode          LockMode  `json:"mode"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// MessagePriority orders delivery for a single receiver.
type MessagePriority string

const (
	PriorityLow      MessagePriority = "low"
	PriorityNormal   MessagePriority = "normal"
	PriorityHigh     MessagePriority = "high"
	PriorityCritical MessagePriority = "critical"
)

var priorityRank = map[MessagePriority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

// Rank returns a sort key for priority ordering: lower sorts first
// (delivered sooner).
func (p MessagePriority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}

// Message is an in-table, tenant-scoped queue entry.
type Message struct {
	TenantBase
	FromAgentID    idgen.ID        `json:"from_agent_id"`
	ToAgentID      *idgen.ID       `json:"to_agent_id,omitempty"`
	ToAgentType    *string         `json:"to_agent_type,omitempty"`
	MessageType    string          `json:"message_type"`
	Payload        Metadata        `json:"payload"`
	TrajectoryID   *idgen.ID       `json:"trajectory_id,omitempty"`
	ScopeID        *idgen.ID       `json:"scope_id,omitempty"`
	ArtifactIDs    []idgen.ID      `json:"artifact_ids,omitempty"`
	Priority       MessagePriority `json:"priority"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

// Validate enforces the Message invariant from spec.md §3: exactly one of
// ToAgentID/ToAgentType set, or neither for a broadcast.
func (m *Message) Validate() error {
	if m.ToAgentID != nil && m.ToAgentType != nil {
		return &errs.ValidationError{Field: "to_agent_id/to_agent_type", Reason: "only one may be set"}
	}
	return nil
}

// DelegationStatus is the saga state of a Delegation.
type DelegationStatus string

const (
	DelegationPending    DelegationStatus = "pending"
	DelegationAccepted   DelegationStatus = "accepted"
	DelegationRejected   DelegationStatus = "rejected"
	DelegationInProgress DelegationStatus = "in_progress"
	DelegationCompleted  DelegationStatus = "completed"
	DelegationFailed     DelegationStatus = "failed"
)

// Delegation hands a task from one agent to another, tracked as a saga.
type Delegation struct {
	TenantBase
	Versioned
	DelegatorAgentID  idgen.ID         `json:"delegator_agent_id"`
	DelegateeAgentID  *idgen.ID        `json:"delegatee_agent_id,omitempty"`
	DelegateeAgentType *string         `json:"delegatee_agent_type,omitempty"`
	TaskDescription   string           `json:"task_description"`
	ParentTrajectoryID idgen.ID        `json:"parent_trajectory_id"`
	ChildTrajectoryID *idgen.ID        `json:"child_trajectory_id,omitempty"`
	SharedArtifacts   []idgen.ID       `json:"shared_artifacts,omitempty"`
	SharedNotes       []idgen.ID       `json:"shared_notes,omitempty"`
	Deadline          *time.Time       `json:"deadline,omitempty"`
	Status            DelegationStatus `json:"status"`
	Result            Metadata         `json:"result,omitempty"`
	TimeoutAt         *time.Time       `json:"timeout_at,omitempty"`
	LastProgressAt    time.Time        `json:"last_progress_at"`
}

// HandoffStatus is the saga state of a Handoff.
type HandoffStatus string

const (
	HandoffInitiated HandoffStatus = "initiated"
	HandoffAccepted  HandoffStatus = "accepted"
	HandoffCompleted HandoffStatus = "completed"
	HandoffRejected  HandoffStatus = "rejected"
)

// Handoff transfers an in-flight scope from one agent to another.
type Handoff struct {
	TenantBase
	Versioned
	FromAgentID       idgen.ID      `json:"from_agent_id"`
	ToAgentID         *idgen.ID     `json:"to_agent_id,omitempty"`
	ToAgentType       *string       `json:"to_agent_type,omitempty"`
	TrajectoryID      idgen.ID      `json:"trajectory_id"`
	ScopeID           idgen.ID      `json:"scope_id"`
	ContextSnapshotID idgen.ID      `json:"context_snapshot_id"`
	HandoffNotes      string        `json:"handoff_notes"`
	NextSteps         string        `json:"next_steps"`
	Blockers          string        `json:"blockers"`
	OpenQuestions     string        `json:"open_questions"`
	Status            HandoffStatus `json:"status"`
	Reason            string        `json:"reason"`
	TimeoutAt         *time.Time    `json:"timeout_at,omitempty"`
	LastProgressAt    time.Time     `json:"last_progress_at"`
}

// EdgeType is the relation an Edge models between participants.
type EdgeType string

const (
	EdgeSupports        EdgeType = "supports"
	EdgeContradicts      EdgeType = "contradicts"
	EdgeSupersedes       EdgeType = "supersedes"
	EdgeDerivedFrom       EdgeType = "derived_from"
	EdgeRelatesTo         EdgeType = "relates_to"
	EdgeTemporal          EdgeType = "temporal"
	EdgeCausal            EdgeType = "causal"
	EdgeSynthesizedFrom   EdgeType = "synthesized_from"
	EdgeGrouped           EdgeType = "grouped"
	EdgeCompared          EdgeType = "compared"
)

// EdgeParticipant is one endpoint of an Edge.
type EdgeParticipant struct {
	EntityType string   `json:"entity_type"`
	ID         idgen.ID `json:"id"`
	Role       string   `json:"role"`
}

// Edge models a graph overlay relation between two or more entities.
// Participants are weak references (see Open Question decision in
// SPEC_FULL.md §9): deleting a participant orphans rather than deletes.
type Edge struct {
	TenantBase
	EdgeType             EdgeType          `json:"edge_type"`
	Participants         []EdgeParticipant `json:"participants"`
	Weight               *float64          `json:"weight,omitempty"`
	TrajectoryID         *idgen.ID         `json:"trajectory_id,omitempty"`
	Provenance           string            `json:"provenance,omitempty"`
	OrphanedParticipants []EdgeParticipant `json:"orphaned_participants,omitempty"`
}

// IsOrphaned reports whether any participant has been marked orphaned.
func (e *Edge) IsOrphaned() bool { return len(e.OrphanedParticipants) > 0 }

// ChangeOperation is the kind of mutation a Change record describes.
type ChangeOperation string

const (
	ChangeInsert ChangeOperation = "insert"
	ChangeUpdate ChangeOperation = "update"
	ChangeDelete ChangeOperation = "delete"
)

// Change is one row of the append-only, per-tenant change journal.
type Change struct {
	ChangeID   int64           `json:"change_id"`
	TenantID   idgen.ID        `json:"tenant_id"`
	EntityType string          `json:"entity_type"`
	EntityID   idgen.ID        `json:"entity_id"`
	Operation  ChangeOperation `json:"operation"`
	ChangedAt  time.Time       `json:"changed_at"`
}

// IdempotencyRecord is one row of the idempotency cache.
type IdempotencyRecord struct {
	Key            string    `json:"key"`
	TenantID       idgen.ID  `json:"tenant_id"`
	Operation      string    `json:"operation"`
	RequestHash    []byte    `json:"request_hash"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   []byte    `json:"response_body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// RegionKind is the access-control class of a Region.
type RegionKind string

const (
	RegionPrivate       RegionKind = "private"
	RegionTeam          RegionKind = "team"
	RegionPublic        RegionKind = "public"
	RegionCollaborative RegionKind = "collaborative"
)

// ConflictResolution is the policy used to resolve writes within a Region.
type ConflictResolution string

const (
	ResolveLastWriteWins     ConflictResolution = "last_write_wins"
	ResolveHighestConfidence ConflictResolution = "highest_confidence"
	ResolveEscalate          ConflictResolution = "escalate"
)

// Region is an access-control record over a memory area.
type Region struct {
	TenantBase
	Name               string             `json:"name"`
	Kind               RegionKind         `json:"kind"`
	OwnerAgentID       idgen.ID           `json:"owner_agent_id"`
	Readers            []string           `json:"readers"`
	Writers            []string           `json:"writers"`
	RequireLock        bool               `json:"require_lock"`
	ConflictResolution ConflictResolution `json:"conflict_resolution"`
}

// ConflictStatus is the resolution state of a detected Conflict.
type ConflictStatus string

const (
	ConflictOpen      ConflictStatus = "open"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictDismissed ConflictStatus = "dismissed"
)

// ConflictResolutionRecord records how a Conflict was resolved.
type ConflictResolutionRecord struct {
	Strategy ConflictResolution `json:"strategy"`
	WinnerID *idgen.ID          `json:"winner_id,omitempty"`
	Notes    string             `json:"notes,omitempty"`
}

// Conflict is a record of a detected contradiction between two items.
type Conflict struct {
	TenantBase
	ConflictType string                    `json:"conflict_type"`
	Left         EdgeParticipant           `json:"left"`
	Right        EdgeParticipant           `json:"right"`
	DetectedAt   time.Time                 `json:"detected_at"`
	Score        float64                   `json:"score"`
	Status       ConflictStatus            `json:"status"`
	Resolution   *ConflictResolutionRecord `json:"resolution,omitempty"`
	ResolvedAt   *time.Time                `json:"resolved_at,omitempty"`
}
