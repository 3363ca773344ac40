package session

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// View is the sanitized session representation returned to callers. It is a
// detached copy: mutating a View never touches stored state.
type View struct {
	ID              string         `json:"id"`
	Token           string         `json:"token"`
	UserID          string         `json:"userId"`
	OrganizationID  string         `json:"organizationId"`
	Context         map[string]any `json:"context"`
	Metadata        map[string]any `json:"metadata"`
	Permissions     []string       `json:"permissions,omitempty"`
	CrossModuleData map[string]any `json:"crossModuleData,omitempty"`
	ExecutionState  map[string]any `json:"executionState,omitempty"`
	WorkflowID      *string        `json:"workflowId,omitempty"`
	AgentID         *string        `json:"agentId,omitempty"`
	ToolID          *string        `json:"toolId,omitempty"`
	KnowledgeID     *string        `json:"knowledgeId,omitempty"`
	HITLRequestID   *string        `json:"hitlRequestId,omitempty"`
	MemoryUsage     int64          `json:"memoryUsage"`
	MemoryLimit     int64          `json:"memoryLimit"`
	AccessCount     int64          `json:"accessCount"`
	IsRecoverable   bool           `json:"isRecoverable"`
	CreatedAt       time.Time      `json:"createdAt"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	LastAccessedAt  time.Time      `json:"lastAccessedAt"`
}

// NewView builds the caller-facing view of a session. Recovery data is
// deliberately excluded; it is only reachable through session recovery.
func NewView(sess *Session) *View {
	c := sess.Clone()
	return &View{
		ID:              c.ID,
		Token:           c.Token,
		UserID:          c.UserID,
		OrganizationID:  c.OrganizationID,
		Context:         c.Context,
		Metadata:        c.Metadata,
		Permissions:     c.Permissions,
		CrossModuleData: c.CrossModuleData,
		ExecutionState:  c.ExecutionState,
		WorkflowID:      c.WorkflowID,
		AgentID:         c.AgentID,
		ToolID:          c.ToolID,
		KnowledgeID:     c.KnowledgeID,
		HITLRequestID:   c.HITLRequestID,
		MemoryUsage:     c.MemoryUsage,
		MemoryLimit:     c.MemoryLimit,
		AccessCount:     c.AccessCount,
		IsRecoverable:   c.IsRecoverable,
		CreatedAt:       c.CreatedAt,
		ExpiresAt:       c.ExpiresAt,
		LastAccessedAt:  c.LastAccessedAt,
	}
}

// ContextProjection reshapes the flat session row into per-module typed
// views. A view is populated only when the corresponding association id is
// set on the session; modules without an active association see nil.
type ContextProjection struct {
	SessionID string         `json:"sessionId"`
	Workflow  *WorkflowView  `json:"workflow,omitempty"`
	Agent     *AgentView     `json:"agent,omitempty"`
	Tool      *ToolView      `json:"tool,omitempty"`
	Knowledge *KnowledgeView `json:"knowledge,omitempty"`
	HITL      *HITLView      `json:"hitl,omitempty"`
}

// WorkflowView is the workflow module's slice of session context.
type WorkflowView struct {
	WorkflowID     string         `json:"workflowId"`
	CurrentStep    string         `json:"currentStep,omitempty"`
	CompletedSteps []any          `json:"completedSteps,omitempty"`
	ExecutionState map[string]any `json:"executionState,omitempty"`
	ModuleData     map[string]any `json:"moduleData,omitempty"`
}

// AgentView is the conversational agent module's slice of session context.
type AgentView struct {
	AgentID        string         `json:"agentId"`
	ConversationID string         `json:"conversationId,omitempty"`
	AgentMemory    map[string]any `json:"agentMemory,omitempty"`
	ToolCalls      []any          `json:"toolCalls,omitempty"`
	ModuleData     map[string]any `json:"moduleData,omitempty"`
}

// ToolView is the external tool module's slice of session context.
type ToolView struct {
	ToolID             string         `json:"toolId"`
	RecentToolCalls    []any          `json:"recentToolCalls,omitempty"`
	PendingToolResults []any          `json:"pendingToolResults,omitempty"`
	ModuleData         map[string]any `json:"moduleData,omitempty"`
}

// KnowledgeView is the knowledge search module's slice of session context.
type KnowledgeView struct {
	KnowledgeID   string         `json:"knowledgeId"`
	LastQuery     string         `json:"lastQuery,omitempty"`
	SearchHistory []any          `json:"searchHistory,omitempty"`
	ModuleData    map[string]any `json:"moduleData,omitempty"`
}

// HITLView is the human-approval module's slice of session context.
type HITLView struct {
	RequestID        string         `json:"requestId"`
	ApprovalState    string         `json:"approvalState,omitempty"`
	PendingApprovals []any          `json:"pendingApprovals,omitempty"`
	ModuleData       map[string]any `json:"moduleData,omitempty"`
}

// Project builds the typed per-module projection of a session. Module fields
// are extracted from the shared context blob by dotted-path convention
// (conversationId, agentMemory, toolCalls, ...); each module's private
// payload comes from its namespaced crossModuleData entry.
func Project(sess *Session) (*ContextProjection, error) {
	raw, err := json.Marshal(sess.Context)
	if err != nil {
		return nil, err
	}

	proj := &ContextProjection{SessionID: sess.ID}

	if id := sess.WorkflowID; id != nil {
		proj.Workflow = &WorkflowView{
			WorkflowID:     *id,
			CurrentStep:    gjson.GetBytes(raw, "currentStep").String(),
			CompletedSteps: jsonSlice(gjson.GetBytes(raw, "completedSteps")),
			ExecutionState: cloneMap(sess.ExecutionState),
			ModuleData:     moduleData(sess, ModuleWorkflow),
		}
	}
	if id := sess.AgentID; id != nil {
		proj.Agent = &AgentView{
			AgentID:        *id,
			ConversationID: gjson.GetBytes(raw, "conversationId").String(),
			AgentMemory:    jsonMap(gjson.GetBytes(raw, "agentMemory")),
			ToolCalls:      jsonSlice(gjson.GetBytes(raw, "toolCalls")),
			ModuleData:     moduleData(sess, ModuleAgent),
		}
	}
	if id := sess.ToolID; id != nil {
		proj.Tool = &ToolView{
			ToolID:             *id,
			RecentToolCalls:    jsonSlice(gjson.GetBytes(raw, "recentToolCalls")),
			PendingToolResults: jsonSlice(gjson.GetBytes(raw, "pendingToolResults")),
			ModuleData:         moduleData(sess, ModuleTool),
		}
	}
	if id := sess.KnowledgeID; id != nil {
		proj.Knowledge = &KnowledgeView{
			KnowledgeID:   *id,
			LastQuery:     gjson.GetBytes(raw, "lastQuery").String(),
			SearchHistory: jsonSlice(gjson.GetBytes(raw, "searchHistory")),
			ModuleData:    moduleData(sess, ModuleKnowledge),
		}
	}
	if id := sess.HITLRequestID; id != nil {
		proj.HITL = &HITLView{
			RequestID:        *id,
			ApprovalState:    gjson.GetBytes(raw, "approvalState").String(),
			PendingApprovals: jsonSlice(gjson.GetBytes(raw, "pendingApprovals")),
			ModuleData:       moduleData(sess, ModuleHITL),
		}
	}

	return proj, nil
}

func moduleData(sess *Session, m ModuleType) map[string]any {
	v, ok := sess.CrossModuleData[m.ContextKey()]
	if !ok {
		return nil
	}
	if data, ok := v.(map[string]any); ok {
		return cloneMap(data)
	}
	return nil
}

func jsonMap(r gjson.Result) map[string]any {
	if !r.IsObject() {
		return nil
	}
	if m, ok := r.Value().(map[string]any); ok {
		return m
	}
	return nil
}

func jsonSlice(r gjson.Result) []any {
	if !r.IsArray() {
		return nil
	}
	if s, ok := r.Value().([]any); ok {
		return s
	}
	return nil
}
