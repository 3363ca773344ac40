package sessioncore

import (
	"context"
	"time"

	"github.com/modmesh/sessioncore/session"
)

// IdentityProvider is the interface callers must implement to integrate the
// engine with their identity system. Validate reports whether the given user
// belongs to the given organization and both are active.
type IdentityProvider interface {
	Validate(ctx context.Context, userID, organizationID string) (bool, error)
}

// IdentityProviderFunc adapts a function to the [IdentityProvider] interface.
type IdentityProviderFunc func(ctx context.Context, userID, organizationID string) (bool, error)

// Validate calls f.
func (f IdentityProviderFunc) Validate(ctx context.Context, userID, organizationID string) (bool, error) {
	return f(ctx, userID, organizationID)
}

// Store is the authoritative durable session record. The engine is the only
// writer; implementations must treat tokens as immutable once inserted and
// report absent rows with [session.ErrNotFound].
//
// Implementations must support lookup by token and by id plus the range
// queries the lifecycle scheduler relies on. Package memstore provides the
// in-memory reference implementation.
type Store interface {
	Insert(ctx context.Context, sess *session.Session) error
	GetByToken(ctx context.Context, token string) (*session.Session, error)
	GetByID(ctx context.Context, id string) (*session.Session, error)
	Update(ctx context.Context, sess *session.Session) error
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*session.Session, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*session.Session, error)
	ListActive(ctx context.Context) ([]*session.Session, error)
	Delete(ctx context.Context, id string) error
}

// CreateOptions carries the optional parameters of session creation. Zero
// values fall back to the configured defaults.
type CreateOptions struct {
	// TTL overrides the default session lifetime.
	TTL time.Duration
	// MemoryLimit overrides the default per-session byte quota.
	MemoryLimit int64
	// Context seeds the shared context blob.
	Context map[string]any
	// Metadata seeds the session metadata.
	Metadata map[string]any
	// Permissions records the caller-supplied permission names. The engine
	// stores them opaquely and never evaluates them.
	Permissions []string
	// Recoverable opts the session into recovery snapshotting.
	Recoverable bool
}

// Update is a partial session mutation. Nil maps leave the corresponding
// field untouched; present maps are shallow-merged (top-level keys
// overwritten, not deep-merged).
type Update struct {
	Context        map[string]any
	Metadata       map[string]any
	ExecutionState map[string]any

	// Associations sets or clears module association ids. A map entry with
	// a nil value explicitly clears that module's association; an absent
	// entry leaves it untouched. Associations are never cleared implicitly.
	Associations map[session.ModuleType]*string

	// RecoveryData is shallow-merged into the session's recovery record and
	// snapshotted with a timestamp. Ignored for non-recoverable sessions.
	RecoveryData map[string]any

	// SourceModule attributes the update for cross-module bookkeeping.
	// When set, CrossModulePayload is recorded under "<module>Context".
	SourceModule       session.ModuleType
	CrossModulePayload map[string]any
}

// RecoveryPayload is the read-only reconstruction returned by RecoverSession.
// Replaying or resuming the captured state is the calling module's job.
type RecoveryPayload struct {
	SessionID      string                  `json:"sessionId"`
	UserID         string                  `json:"userId"`
	OrganizationID string                  `json:"organizationId"`
	CapturedAt     time.Time               `json:"capturedAt"`
	SnapshotCount  int                     `json:"snapshotCount"`
	Workflow       *WorkflowRecoveryState  `json:"workflow,omitempty"`
	Agent          *AgentRecoveryState     `json:"agent,omitempty"`
	Tool           *ToolRecoveryState      `json:"tool,omitempty"`
	Knowledge      *KnowledgeRecoveryState `json:"knowledge,omitempty"`
	HITL           *HITLRecoveryState      `json:"hitl,omitempty"`
}

// WorkflowRecoveryState captures accumulated workflow progress.
type WorkflowRecoveryState struct {
	WorkflowID     string         `json:"workflowId"`
	CurrentStep    string         `json:"currentStep,omitempty"`
	CompletedSteps []any          `json:"completedSteps,omitempty"`
	LastSnapshot   map[string]any `json:"lastSnapshot,omitempty"`
}

// AgentRecoveryState captures accumulated conversation state.
type AgentRecoveryState struct {
	AgentID             string         `json:"agentId"`
	ConversationHistory []any          `json:"conversationHistory,omitempty"`
	LastSnapshot        map[string]any `json:"lastSnapshot,omitempty"`
}

// ToolRecoveryState captures pending tool results.
type ToolRecoveryState struct {
	ToolID             string         `json:"toolId"`
	PendingToolResults []any          `json:"pendingToolResults,omitempty"`
	LastSnapshot       map[string]any `json:"lastSnapshot,omitempty"`
}

// KnowledgeRecoveryState captures accumulated search state.
type KnowledgeRecoveryState struct {
	KnowledgeID   string         `json:"knowledgeId"`
	SearchHistory []any          `json:"searchHistory,omitempty"`
	LastSnapshot  map[string]any `json:"lastSnapshot,omitempty"`
}

// HITLRecoveryState captures pending approval state.
type HITLRecoveryState struct {
	RequestID     string         `json:"requestId"`
	ApprovalState string         `json:"approvalState,omitempty"`
	LastSnapshot  map[string]any `json:"lastSnapshot,omitempty"`
}

// OrganizationUsage is one organization's aggregate emitted by the usage
// aggregation task.
type OrganizationUsage struct {
	OrganizationID string                     `json:"organizationId"`
	SessionCount   int                        `json:"sessionCount"`
	AvgAccessCount float64                    `json:"avgAccessCount"`
	TotalMemory    int64                      `json:"totalMemory"`
	ModuleUsage    map[session.ModuleType]int `json:"moduleUsage"`
}
