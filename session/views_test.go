package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestNewViewExcludesRecoveryData(t *testing.T) {
	sess := testSession("tok-view")
	sess.IsRecoverable = true
	sess.RecoveryData = []byte(`{"secret":"state"}`)

	view := NewView(sess)
	assert.Equal(t, sess.ID, view.ID)
	assert.Equal(t, sess.Token, view.Token)
	assert.True(t, view.ExpiresAt.Equal(sess.ExpiresAt))
	assert.True(t, view.IsRecoverable)
}

func TestNewViewIsDetached(t *testing.T) {
	sess := testSession("tok-detach")
	view := NewView(sess)

	view.Context["conversationId"] = "tampered"
	assert.Equal(t, "c-1", sess.Context["conversationId"])
}

func TestProjectOnlyPopulatesAssociatedModules(t *testing.T) {
	sess := testSession("tok-proj")
	sess.AgentID = strptr("agent-1")

	proj, err := Project(sess)
	require.NoError(t, err)

	require.NotNil(t, proj.Agent)
	assert.Nil(t, proj.Workflow)
	assert.Nil(t, proj.Tool)
	assert.Nil(t, proj.Knowledge)
	assert.Nil(t, proj.HITL)
	assert.Equal(t, sess.ID, proj.SessionID)
}

func TestProjectExtractsByConvention(t *testing.T) {
	sess := testSession("tok-conv")
	sess.WorkflowID = strptr("wf-1")
	sess.AgentID = strptr("agent-1")
	sess.ToolID = strptr("tool-1")
	sess.KnowledgeID = strptr("kb-1")
	sess.HITLRequestID = strptr("hitl-1")
	sess.Context = map[string]any{
		"currentStep":     "validate-input",
		"completedSteps":  []any{"fetch", "parse"},
		"conversationId":  "conv-9",
		"agentMemory":     map[string]any{"topic": "billing"},
		"toolCalls":       []any{map[string]any{"tool": "search"}},
		"recentToolCalls": []any{"call-1", "call-2"},
		"lastQuery":       "refund policy",
		"searchHistory":   []any{"q1", "q2"},
		"approvalState":   "pending",
	}
	sess.ExecutionState = map[string]any{"retries": float64(0)}

	proj, err := Project(sess)
	require.NoError(t, err)

	require.NotNil(t, proj.Workflow)
	assert.Equal(t, "wf-1", proj.Workflow.WorkflowID)
	assert.Equal(t, "validate-input", proj.Workflow.CurrentStep)
	assert.Equal(t, []any{"fetch", "parse"}, proj.Workflow.CompletedSteps)
	assert.Equal(t, map[string]any{"retries": float64(0)}, proj.Workflow.ExecutionState)

	require.NotNil(t, proj.Agent)
	assert.Equal(t, "conv-9", proj.Agent.ConversationID)
	assert.Equal(t, map[string]any{"topic": "billing"}, proj.Agent.AgentMemory)
	assert.Len(t, proj.Agent.ToolCalls, 1)

	require.NotNil(t, proj.Tool)
	assert.Equal(t, []any{"call-1", "call-2"}, proj.Tool.RecentToolCalls)

	require.NotNil(t, proj.Knowledge)
	assert.Equal(t, "refund policy", proj.Knowledge.LastQuery)
	assert.Equal(t, []any{"q1", "q2"}, proj.Knowledge.SearchHistory)

	require.NotNil(t, proj.HITL)
	assert.Equal(t, "hitl-1", proj.HITL.RequestID)
	assert.Equal(t, "pending", proj.HITL.ApprovalState)
}

func TestProjectModuleDataNamespacing(t *testing.T) {
	sess := testSession("tok-ns")
	sess.AgentID = strptr("agent-1")
	sess.ToolID = strptr("tool-1")
	sess.CrossModuleData = map[string]any{
		"agentContext": map[string]any{"sourceModule": "agent", "score": float64(3)},
		"toolContext":  map[string]any{"sourceModule": "tool"},
	}

	proj, err := Project(sess)
	require.NoError(t, err)

	require.NotNil(t, proj.Agent)
	assert.Equal(t, float64(3), proj.Agent.ModuleData["score"])
	require.NotNil(t, proj.Tool)
	assert.Equal(t, "tool", proj.Tool.ModuleData["sourceModule"])
	// Each module only sees its own namespace.
	assert.NotContains(t, proj.Tool.ModuleData, "score")
}

func TestProjectMissingKeysYieldZeroValues(t *testing.T) {
	sess := testSession("tok-empty")
	sess.Context = map[string]any{}
	sess.KnowledgeID = strptr("kb-1")

	proj, err := Project(sess)
	require.NoError(t, err)
	require.NotNil(t, proj.Knowledge)
	assert.Empty(t, proj.Knowledge.LastQuery)
	assert.Nil(t, proj.Knowledge.SearchHistory)
	assert.Nil(t, proj.Knowledge.ModuleData)
}

func TestModuleTypeValidity(t *testing.T) {
	for _, m := range ModuleTypes {
		assert.True(t, m.Valid(), "module %q", m)
	}
	assert.False(t, ModuleType("billing").Valid())
	assert.Equal(t, "agentContext", ModuleAgent.ContextKey())
}

func TestSessionExpiryHelpers(t *testing.T) {
	now := time.Now()
	sess := testSession("tok-exp")
	sess.ExpiresAt = now.Add(time.Minute)

	assert.False(t, sess.Expired(now))
	assert.True(t, sess.Expired(now.Add(2*time.Minute)))
	assert.InDelta(t, float64(time.Minute), float64(sess.RemainingTTL(now)), float64(time.Second))
	assert.Equal(t, time.Duration(0), sess.RemainingTTL(now.Add(2*time.Minute)))
}
