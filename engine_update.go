package sessioncore

import (
	"context"
	"sync"
	"time"

	"github.com/modmesh/sessioncore/session"
)

// keyedLocks serializes critical sections per string key. The engine keeps
// one instance keyed by session token (read-modify-write cycles cannot lose
// each other's writes) and one keyed by user id (the capacity check and the
// insert it guards form one atomic span). Entries are reference counted and
// removed when the last holder unlocks, so the map stays bounded by
// in-flight work, not by session or user count.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*lockEntry)}
}

func (l *keyedLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	entry := l.m[key]
	if entry == nil {
		entry = &lockEntry{}
		l.m[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

// UpdateSession applies a partial update to the session addressed by token.
//
// Context, metadata, and execution state are shallow-merged: top-level keys
// overwrite, nothing is deep-merged or appended. Cross-module payloads are
// recorded under the originating module's namespaced key together with
// lastPropagation and sourceModule, so different modules never collide while
// repeated updates from one module fully replace its prior payload.
// Associations change only when named in the update; an explicit nil clears.
//
// The merged row passes quota enforcement before anything is persisted: the
// durable write happens first, then the cache refresh (cache failure is
// logged, not fatal). An update rejected with ErrQuotaExceeded leaves the
// stored session untouched.
func (e *Engine) UpdateSession(ctx context.Context, token string, upd Update) (*session.View, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if upd.SourceModule != "" && !upd.SourceModule.Valid() {
		return nil, ErrInvalidModule
	}
	if upd.CrossModulePayload != nil && upd.SourceModule == "" {
		return nil, ErrInvalidModule
	}
	for m := range upd.Associations {
		if !m.Valid() {
			return nil, ErrInvalidModule
		}
	}

	unlock := e.locks.lock(token)
	defer unlock()

	sess, err := e.loadLiveLocked(ctx, token)
	if err != nil {
		return nil, err
	}

	applyUpdate(sess, upd)

	if err := e.accumulateRecovery(sess, upd); err != nil {
		return nil, err
	}

	if err := e.checkMemoryLimits(ctx, sess); err != nil {
		return nil, err
	}

	now := time.Now()
	sess.LastAccessedAt = now

	sctx, cancel := e.storeCtx(ctx)
	err = e.store.Update(sctx, sess)
	cancel()
	if err != nil {
		return nil, mapStoreErr(err)
	}

	cctx, cancel := e.cacheCtx(ctx)
	e.cacheDegrade("put", e.cache.Put(cctx, sess, sess.RemainingTTL(now)))
	cancel()

	e.metricInc(MetricUpdateApplied)
	return session.NewView(sess), nil
}

// applyUpdate merges an update into a session row in memory.
func applyUpdate(sess *session.Session, upd Update) {
	if upd.Context != nil {
		if sess.Context == nil {
			sess.Context = make(map[string]any, len(upd.Context))
		}
		for k, v := range upd.Context {
			sess.Context[k] = v
		}
	}
	if upd.Metadata != nil {
		if sess.Metadata == nil {
			sess.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			sess.Metadata[k] = v
		}
	}
	if upd.ExecutionState != nil {
		if sess.ExecutionState == nil {
			sess.ExecutionState = make(map[string]any, len(upd.ExecutionState))
		}
		for k, v := range upd.ExecutionState {
			sess.ExecutionState[k] = v
		}
	}

	for m, id := range upd.Associations {
		sess.SetAssociation(m, id)
	}

	if upd.SourceModule != "" && upd.CrossModulePayload != nil {
		entry := make(map[string]any, len(upd.CrossModulePayload)+2)
		for k, v := range upd.CrossModulePayload {
			entry[k] = v
		}
		entry["sourceModule"] = string(upd.SourceModule)
		entry["lastPropagation"] = time.Now().Format(time.RFC3339Nano)

		if sess.CrossModuleData == nil {
			sess.CrossModuleData = make(map[string]any, 1)
		}
		sess.CrossModuleData[upd.SourceModule.ContextKey()] = entry
	}
}

// PropagateContextUpdate records a module's context payload on the session
// under its namespaced crossModuleData key and emits a propagation event.
// Payloads from different modules stay isolated; a module's repeated
// propagation replaces its previous payload.
func (e *Engine) PropagateContextUpdate(ctx context.Context, token string, module session.ModuleType, payload map[string]any) error {
	if !module.Valid() {
		return ErrInvalidModule
	}
	if payload == nil {
		payload = map[string]any{}
	}

	view, err := e.UpdateSession(ctx, token, Update{
		SourceModule:       module,
		CrossModulePayload: payload,
	})
	if err != nil {
		return err
	}

	e.emit(ctx, EventContextPropagated, &session.Session{
		ID:             view.ID,
		UserID:         view.UserID,
		OrganizationID: view.OrganizationID,
	}, module, map[string]any{
		"contextKey": module.ContextKey(),
	})
	return nil
}

// GetSessionContext returns the read-only typed projection of a session's
// context: one optional view per module, populated only when that module has
// an active association. Reads refresh last access like GetSession.
func (e *Engine) GetSessionContext(ctx context.Context, token string) (*session.ContextProjection, error) {
	sess, err := e.getLive(ctx, token)
	if err != nil {
		return nil, err
	}

	proj, err := session.Project(sess)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	go e.touch(token)

	return proj, nil
}
