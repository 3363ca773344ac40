package sessioncore

import (
	"context"
	"fmt"
	"sort"

	"github.com/modmesh/sessioncore/session"
)

// enforceSessionLimits applies the per-user capacity cap before a creation.
// At or above the cap, the least-recently-accessed active session is
// destroyed (cascading to cache invalidation) to make room. The scan is
// linear in the user's session count, which the cap itself bounds. The
// caller holds the user's keyed lock across this check and the subsequent
// insert.
func (e *Engine) enforceSessionLimits(ctx context.Context, userID string) error {
	sctx, cancel := e.storeCtx(ctx)
	active, err := e.store.ListByUser(sctx, userID, true)
	cancel()
	if err != nil {
		return mapStoreErr(err)
	}

	max := e.config.Session.MaxSessionsPerUser
	if len(active) < max {
		return nil
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LastAccessedAt.Before(active[j].LastAccessedAt)
	})

	// Evict enough to leave room for exactly one new session.
	evict := len(active) - max + 1
	for _, victim := range active[:evict] {
		unlock := e.locks.lock(victim.Token)
		err := e.retire(ctx, victim, EventSessionEvicted)
		unlock()
		if err != nil {
			return err
		}
		e.metricInc(MetricSessionEvicted)
		e.logger.Info("session evicted at per-user cap",
			"user_id", userID, "session_id", victim.ID)
	}
	return nil
}

// checkMemoryLimits recomputes the serialized payload size after a mutation
// and enforces the quota. Crossing the warning threshold emits a non-blocking
// warning event. Exceeding the hard limit truncates the known bounded
// sub-collections inside context and re-measures; if usage still exceeds the
// limit (a single oversized field outside the whitelist), the mutation is
// rejected with ErrQuotaExceeded rather than silently clipped.
func (e *Engine) checkMemoryLimits(ctx context.Context, sess *session.Session) error {
	usage, err := session.PayloadSize(sess)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	limit := sess.MemoryLimit
	warnAt := int64(float64(limit) * e.config.Quota.WarningThreshold)
	if usage > warnAt {
		e.metricInc(MetricQuotaWarning)
		e.emit(ctx, EventMemoryWarning, sess, "", map[string]any{
			"memoryUsage": usage,
			"memoryLimit": limit,
		})
	}

	if usage > limit {
		if e.truncateContext(sess) {
			e.metricInc(MetricQuotaTruncated)
			usage, err = session.PayloadSize(sess)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInternal, err)
			}
		}
		if usage > limit {
			e.metricInc(MetricQuotaRejected)
			return fmt.Errorf("%w: %d bytes over limit %d after truncation", ErrQuotaExceeded, usage, limit)
		}
	}

	sess.MemoryUsage = usage
	return nil
}

// truncateContext trims the whitelisted bounded sub-collections to their
// configured tails. It reports whether anything changed.
func (e *Engine) truncateContext(sess *session.Session) bool {
	if sess.Context == nil {
		return false
	}

	changed := false
	for _, t := range []struct {
		key  string
		keep int
	}{
		{"conversationHistory", e.config.Quota.ConversationHistoryKeep},
		{"searchHistory", e.config.Quota.SearchHistoryKeep},
		{"recentToolCalls", e.config.Quota.RecentToolCallsKeep},
	} {
		if trimmed, ok := truncateTail(sess.Context[t.key], t.keep); ok {
			sess.Context[t.key] = trimmed
			changed = true
		}
	}
	return changed
}

// truncateTail keeps the last keep entries of a slice-valued field. It
// reports false when the value is not a slice or already within bounds.
func truncateTail(v any, keep int) ([]any, bool) {
	items, ok := v.([]any)
	if !ok || len(items) <= keep {
		return nil, false
	}
	tail := make([]any, keep)
	copy(tail, items[len(items)-keep:])
	return tail, true
}
