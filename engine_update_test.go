package sessioncore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessioncore "github.com/modmesh/sessioncore"
	"github.com/modmesh/sessioncore/session"
)

func ptr(s string) *string { return &s }

func TestUpdateShallowMergeOverwritesTopLevelKeys(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	created, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{
		Context: map[string]any{"a": "1"},
	})
	require.NoError(t, err)

	// Disjoint keys are unioned.
	view, err := et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		Context: map[string]any{"b": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", view.Context["a"])
	assert.Equal(t, "2", view.Context["b"])

	// A colliding key is overwritten, never deep-merged.
	view, err = et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		Context: map[string]any{"a": "override"},
	})
	require.NoError(t, err)
	assert.Equal(t, "override", view.Context["a"])
	assert.Equal(t, "2", view.Context["b"])
}

func TestUpdateMergesMetadataAndExecutionState(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	created, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{
		Metadata: map[string]any{"client": "cli"},
	})
	require.NoError(t, err)

	view, err := et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		Metadata:       map[string]any{"region": "eu"},
		ExecutionState: map[string]any{"phase": "running"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cli", view.Metadata["client"])
	assert.Equal(t, "eu", view.Metadata["region"])
	assert.Equal(t, "running", view.ExecutionState["phase"])

	// A nil map leaves the field untouched.
	view, err = et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{})
	require.NoError(t, err)
	assert.Equal(t, "running", view.ExecutionState["phase"])
}

func TestAssociationsExplicitNilClears(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	created, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{})
	require.NoError(t, err)

	view, err := et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		Associations: map[session.ModuleType]*string{
			session.ModuleAgent:    ptr("agent-7"),
			session.ModuleWorkflow: ptr("wf-1"),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, view.AgentID)
	assert.Equal(t, "agent-7", *view.AgentID)

	// An update that does not name associations leaves them alone.
	view, err = et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		Context: map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	require.NotNil(t, view.AgentID)
	require.NotNil(t, view.WorkflowID)

	// Only an explicit nil entry clears.
	view, err = et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		Associations: map[session.ModuleType]*string{
			session.ModuleAgent: nil,
		},
	})
	require.NoError(t, err)
	assert.Nil(t, view.AgentID)
	require.NotNil(t, view.WorkflowID)
	assert.Equal(t, "wf-1", *view.WorkflowID)
}

func TestUpdateRejectsUnknownModules(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	created, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{})
	require.NoError(t, err)

	_, err = et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		SourceModule: session.ModuleType("billing"),
	})
	assert.ErrorIs(t, err, sessioncore.ErrInvalidModule)

	_, err = et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		CrossModulePayload: map[string]any{"k": "v"},
	})
	assert.ErrorIs(t, err, sessioncore.ErrInvalidModule, "payload without source module")

	_, err = et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		Associations: map[session.ModuleType]*string{
			session.ModuleType("billing"): ptr("x"),
		},
	})
	assert.ErrorIs(t, err, sessioncore.ErrInvalidModule)

	err = et.engine.PropagateContextUpdate(ctx, created.Token, session.ModuleType("billing"), nil)
	assert.ErrorIs(t, err, sessioncore.ErrInvalidModule)
}

func TestUpdateUnknownSession(t *testing.T) {
	et := newEngineTest(t, nil)

	_, err := et.engine.UpdateSession(context.Background(), unknownToken(t), sessioncore.Update{
		Context: map[string]any{"k": "v"},
	})
	assert.ErrorIs(t, err, sessioncore.ErrSessionNotFound)
}

func TestPropagationIsolatesModules(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	created, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, et.engine.PropagateContextUpdate(ctx, created.Token, session.ModuleAgent,
		map[string]any{"conversationTurn": "3"}))
	require.NoError(t, et.engine.PropagateContextUpdate(ctx, created.Token, session.ModuleTool,
		map[string]any{"lastTool": "search"}))

	view, err := et.engine.GetSession(ctx, created.Token)
	require.NoError(t, err)

	agentEntry, ok := view.CrossModuleData["agentContext"].(map[string]any)
	require.True(t, ok, "agent namespace missing: %v", view.CrossModuleData)
	assert.Equal(t, "3", agentEntry["conversationTurn"])
	assert.Equal(t, "agent", agentEntry["sourceModule"])
	assert.NotEmpty(t, agentEntry["lastPropagation"])

	toolEntry, ok := view.CrossModuleData["toolContext"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "search", toolEntry["lastTool"])
	// The tool propagation must not have bled into the agent namespace.
	assert.NotContains(t, agentEntry, "lastTool")

	ev := waitEvent(t, et.sink, sessioncore.EventContextPropagated)
	assert.Equal(t, created.ID, ev.SessionID)
}

func TestRepeatedPropagationReplacesModulePayload(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	created, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, et.engine.PropagateContextUpdate(ctx, created.Token, session.ModuleAgent,
		map[string]any{"old": "payload"}))
	require.NoError(t, et.engine.PropagateContextUpdate(ctx, created.Token, session.ModuleAgent,
		map[string]any{"fresh": "payload"}))

	view, err := et.engine.GetSession(ctx, created.Token)
	require.NoError(t, err)

	entry, ok := view.CrossModuleData["agentContext"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "payload", entry["fresh"])
	assert.NotContains(t, entry, "old", "a module's propagation replaces its prior payload")
}

func TestGetSessionContextProjection(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	created, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{
		Context: map[string]any{
			"conversationId": "conv-5",
			"lastQuery":      "pricing tiers",
		},
	})
	require.NoError(t, err)

	_, err = et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		Associations: map[session.ModuleType]*string{
			session.ModuleAgent:     ptr("agent-1"),
			session.ModuleKnowledge: ptr("kb-1"),
		},
	})
	require.NoError(t, err)

	proj, err := et.engine.GetSessionContext(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, proj.SessionID)

	require.NotNil(t, proj.Agent)
	assert.Equal(t, "agent-1", proj.Agent.AgentID)
	assert.Equal(t, "conv-5", proj.Agent.ConversationID)

	require.NotNil(t, proj.Knowledge)
	assert.Equal(t, "pricing tiers", proj.Knowledge.LastQuery)

	// Modules without an association see nothing.
	assert.Nil(t, proj.Workflow)
	assert.Nil(t, proj.Tool)
	assert.Nil(t, proj.HITL)
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	created, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{})
	require.NoError(t, err)

	const writers = 8
	errs := make(chan error, writers)
	for i := range writers {
		go func(n int) {
			_, err := et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
				Context: map[string]any{keyFor(n): "set"},
			})
			errs <- err
		}(i)
	}
	for range writers {
		require.NoError(t, <-errs)
	}

	view, err := et.engine.GetSession(ctx, created.Token)
	require.NoError(t, err)
	for i := range writers {
		assert.Equal(t, "set", view.Context[keyFor(i)], "writer %d lost", i)
	}
}

func keyFor(n int) string {
	return "writer-" + string(rune('a'+n))
}
