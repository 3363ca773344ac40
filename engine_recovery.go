package sessioncore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modmesh/sessioncore/session"
)

// accumulateRecovery merges an update's recovery data into the session's
// recovery record and appends a timestamped snapshot. Snapshots accumulate in
// submission order; nothing is overwritten except top-level merged keys. The
// record is a raw JSON document maintained with byte-level path writes so the
// append never rewrites earlier snapshots.
func (e *Engine) accumulateRecovery(sess *session.Session, upd Update) error {
	if !sess.IsRecoverable || len(upd.RecoveryData) == 0 {
		return nil
	}

	record := []byte(sess.RecoveryData)
	if len(record) == 0 {
		record = []byte(`{}`)
	}

	var err error
	for k, v := range upd.RecoveryData {
		record, err = sjson.SetBytes(record, escapePath(k), v)
		if err != nil {
			return fmt.Errorf("%w: recovery merge: %v", ErrInternal, err)
		}
	}

	snapshot := map[string]any{
		"at":   time.Now().Format(time.RFC3339Nano),
		"data": upd.RecoveryData,
	}
	if upd.SourceModule != "" {
		snapshot["module"] = string(upd.SourceModule)
	}
	record, err = sjson.SetBytes(record, "snapshots.-1", snapshot)
	if err != nil {
		return fmt.Errorf("%w: recovery snapshot append: %v", ErrInternal, err)
	}

	sess.RecoveryData = record
	return nil
}

// escapePath neutralizes path syntax in caller-chosen recovery keys so a key
// containing a dot addresses one top-level field, not a nested one.
func escapePath(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(key)
}

// RecoverSession reconstructs a structured recovery payload for a session by
// its internal id: one state block per active module association, built from
// the accumulated snapshots. It is read-only: replaying or resuming the
// captured state is the calling module's responsibility.
//
// An unknown id reports ErrSessionNotFound; a known session created without
// the recoverable flag reports ErrNotRecoverable.
func (e *Engine) RecoverSession(ctx context.Context, sessionID string) (*RecoveryPayload, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	sctx, cancel := e.storeCtx(ctx)
	sess, err := e.store.GetByID(sctx, sessionID)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, mapStoreErr(err)
	}
	if !sess.IsRecoverable {
		return nil, ErrNotRecoverable
	}

	record := []byte(sess.RecoveryData)
	snapshots := gjson.GetBytes(record, "snapshots").Array()

	var lastSnapshot map[string]any
	if n := len(snapshots); n > 0 {
		if data, ok := snapshots[n-1].Get("data").Value().(map[string]any); ok {
			lastSnapshot = data
		}
	}

	payload := &RecoveryPayload{
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		OrganizationID: sess.OrganizationID,
		CapturedAt:     time.Now(),
		SnapshotCount:  len(snapshots),
	}

	if id := sess.WorkflowID; id != nil {
		payload.Workflow = &WorkflowRecoveryState{
			WorkflowID:     *id,
			CurrentStep:    gjson.GetBytes(record, "currentStep").String(),
			CompletedSteps: snapshotValues(snapshots, "data.completedStep"),
			LastSnapshot:   lastSnapshot,
		}
	}
	if id := sess.AgentID; id != nil {
		payload.Agent = &AgentRecoveryState{
			AgentID:             *id,
			ConversationHistory: resultSlice(gjson.GetBytes(record, "conversationHistory")),
			LastSnapshot:        lastSnapshot,
		}
	}
	if id := sess.ToolID; id != nil {
		payload.Tool = &ToolRecoveryState{
			ToolID:             *id,
			PendingToolResults: resultSlice(gjson.GetBytes(record, "pendingToolResults")),
			LastSnapshot:       lastSnapshot,
		}
	}
	if id := sess.KnowledgeID; id != nil {
		payload.Knowledge = &KnowledgeRecoveryState{
			KnowledgeID:   *id,
			SearchHistory: resultSlice(gjson.GetBytes(record, "searchHistory")),
			LastSnapshot:  lastSnapshot,
		}
	}
	if id := sess.HITLRequestID; id != nil {
		payload.HITL = &HITLRecoveryState{
			RequestID:     *id,
			ApprovalState: gjson.GetBytes(record, "approvalState").String(),
			LastSnapshot:  lastSnapshot,
		}
	}

	e.metricInc(MetricRecoveryInitiated)
	e.emit(ctx, EventRecoveryInitiated, sess, "", map[string]any{
		"snapshotCount": len(snapshots),
	})

	return payload, nil
}

// snapshotValues collects one path's value from each snapshot that has it,
// preserving submission order.
func snapshotValues(snapshots []gjson.Result, path string) []any {
	var out []any
	for _, snap := range snapshots {
		if v := snap.Get(path); v.Exists() {
			out = append(out, v.Value())
		}
	}
	return out
}

func resultSlice(r gjson.Result) []any {
	if !r.IsArray() {
		return nil
	}
	if s, ok := r.Value().([]any); ok {
		return s
	}
	return nil
}
