package session

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no session matches a lookup.
// One sentinel covers missing, expired, and destroyed rows alike so that
// callers cannot distinguish the three cases.
var ErrNotFound = errors.New("session not found")

// ModuleType identifies one of the platform collaborators that reads and
// writes a slice of session context.
type ModuleType string

const (
	// ModuleWorkflow is the workflow-step execution module.
	ModuleWorkflow ModuleType = "workflow"
	// ModuleAgent is the conversational agent module.
	ModuleAgent ModuleType = "agent"
	// ModuleTool is the external tool-call module.
	ModuleTool ModuleType = "tool"
	// ModuleKnowledge is the knowledge search module.
	ModuleKnowledge ModuleType = "knowledge"
	// ModuleHITL is the human-approval gate module.
	ModuleHITL ModuleType = "hitl"
)

// ModuleTypes lists every known module in a stable order.
var ModuleTypes = []ModuleType{ModuleWorkflow, ModuleAgent, ModuleTool, ModuleKnowledge, ModuleHITL}

// Valid reports whether m names a known module.
func (m ModuleType) Valid() bool {
	switch m {
	case ModuleWorkflow, ModuleAgent, ModuleTool, ModuleKnowledge, ModuleHITL:
		return true
	}
	return false
}

// ContextKey returns the crossModuleData key owned by this module.
// Keys are namespaced per module so concurrent propagation from different
// modules never collides.
func (m ModuleType) ContextKey() string {
	return string(m) + "Context"
}

// Session is the cross-module context record shared between the durable store
// and the cache tier. The token is the only externally visible credential;
// the id is internal and also addresses recovery.
//
// Session instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise; mutation flows
// through the Engine, which owns quota and merge policy.
type Session struct {
	ID             string `json:"id"`
	Token          string `json:"token"`
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`

	Context         map[string]any `json:"context"`
	Metadata        map[string]any `json:"metadata"`
	Permissions     []string       `json:"permissions,omitempty"`
	CrossModuleData map[string]any `json:"crossModuleData,omitempty"`
	ExecutionState  map[string]any `json:"executionState,omitempty"`

	// At most one active association per module.
	WorkflowID    *string `json:"workflowId,omitempty"`
	AgentID       *string `json:"agentId,omitempty"`
	ToolID        *string `json:"toolId,omitempty"`
	KnowledgeID   *string `json:"knowledgeId,omitempty"`
	HITLRequestID *string `json:"hitlRequestId,omitempty"`

	MemoryUsage int64 `json:"memoryUsage"`
	MemoryLimit int64 `json:"memoryLimit"`
	AccessCount int64 `json:"accessCount"`

	IsRecoverable bool            `json:"isRecoverable"`
	RecoveryData  json.RawMessage `json:"recoveryData,omitempty"`

	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	IsActive       bool      `json:"isActive"`
}

// Association returns the active association id for a module, or nil.
func (s *Session) Association(m ModuleType) *string {
	switch m {
	case ModuleWorkflow:
		return s.WorkflowID
	case ModuleAgent:
		return s.AgentID
	case ModuleTool:
		return s.ToolID
	case ModuleKnowledge:
		return s.KnowledgeID
	case ModuleHITL:
		return s.HITLRequestID
	}
	return nil
}

// SetAssociation sets or clears (id == nil) the association for a module.
func (s *Session) SetAssociation(m ModuleType, id *string) {
	switch m {
	case ModuleWorkflow:
		s.WorkflowID = id
	case ModuleAgent:
		s.AgentID = id
	case ModuleTool:
		s.ToolID = id
	case ModuleKnowledge:
		s.KnowledgeID = id
	case ModuleHITL:
		s.HITLRequestID = id
	}
}

// Expired reports whether the session's absolute expiry has passed at now.
// Readers must re-check expiry themselves instead of trusting cache
// residency; a stale cache entry must never extend a session's life.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RemainingTTL returns the time left until expiry, clamped at zero.
func (s *Session) RemainingTTL(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Clone returns a deep copy safe for independent mutation. Map values are
// copied one level deep; nested containers are shared until re-marshaled,
// which is sufficient because the Engine never mutates nested values in place.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Context = cloneMap(s.Context)
	clone.Metadata = cloneMap(s.Metadata)
	clone.CrossModuleData = cloneMap(s.CrossModuleData)
	clone.ExecutionState = cloneMap(s.ExecutionState)
	if s.Permissions != nil {
		clone.Permissions = append([]string(nil), s.Permissions...)
	}
	if s.RecoveryData != nil {
		clone.RecoveryData = append(json.RawMessage(nil), s.RecoveryData...)
	}
	clone.WorkflowID = clonePtr(s.WorkflowID)
	clone.AgentID = clonePtr(s.AgentID)
	clone.ToolID = clonePtr(s.ToolID)
	clone.KnowledgeID = clonePtr(s.KnowledgeID)
	clone.HITLRequestID = clonePtr(s.HITLRequestID)
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
