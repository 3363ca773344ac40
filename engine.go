package sessioncore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/modmesh/sessioncore/internal"
	"github.com/modmesh/sessioncore/session"
)

// Engine is the cross-module session engine. It is built once via the
// [Builder], shared across goroutines, and shut down with [Engine.Close].
//
// Engine instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Engine struct {
	config    Config
	store     Store
	cache     *session.Cache
	identity  IdentityProvider
	events    *eventDispatcher
	metrics   *Metrics
	logger    Logger
	locks     *keyedLocks
	userLocks *keyedLocks
	lifecycle *lifecycleScheduler
	closed    chan struct{}
	closeOnce sync.Once

	sweepActive atomic.Bool
}

// Close stops the lifecycle scheduler and flushes the event dispatcher.
// Operations issued after Close fail with ErrEngineClosed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		close(e.closed)
		if e.lifecycle != nil {
			e.lifecycle.Stop()
		}
		if e.events != nil {
			e.events.Close()
		}
	})
}

// EventsDropped reports how many lifecycle events were discarded because the
// dispatcher buffer was full.
func (e *Engine) EventsDropped() uint64 {
	if e == nil || e.events == nil {
		return 0
	}
	return e.events.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	select {
	case <-e.closed:
		return ErrEngineClosed
	default:
		return nil
	}
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// storeCtx bounds a durable store call with the configured timeout.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Store.OpTimeout)
}

// cacheCtx bounds a cache call with the configured timeout.
func (e *Engine) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Cache.OpTimeout)
}

// mapStoreErr normalizes durable store failures into the public taxonomy.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

// cacheDegrade logs a cache failure and counts it. Cache errors never reach
// callers; the durable store remains the single source of truth.
func (e *Engine) cacheDegrade(op string, err error) {
	if err == nil || errors.Is(err, session.ErrCacheMiss) {
		return
	}
	e.metricInc(MetricCacheDegraded)
	e.logger.Warn("cache degraded", "op", op, "error", err)
}

func (e *Engine) emit(ctx context.Context, name string, sess *session.Session, module session.ModuleType, payload map[string]any) {
	if e.events == nil {
		return
	}
	event := LifecycleEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Event:     name,
		Module:    string(module),
		Payload:   payload,
	}
	if sess != nil {
		event.SessionID = sess.ID
		event.UserID = sess.UserID
		event.OrganizationID = sess.OrganizationID
	}
	e.events.Emit(ctx, event)
}

// CreateSession validates the user/organization pair, enforces the per-user
// capacity cap (possibly evicting the least-recently-accessed session),
// issues a fresh opaque token, persists the row durably, mirrors it into the
// cache with the same TTL, and returns the sanitized view. The token appears
// in the returned view and nowhere else.
func (e *Engine) CreateSession(ctx context.Context, userID, organizationID string, opts CreateOptions) (*session.View, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" || organizationID == "" {
		return nil, ErrUnauthorized
	}

	if e.identity != nil {
		active, err := e.identity.Validate(ctx, userID, organizationID)
		if err != nil {
			return nil, fmt.Errorf("%w: identity validation: %v", ErrInternal, err)
		}
		if !active {
			return nil, ErrUnauthorized
		}
	}

	// The capacity check and the insert it authorizes must be one atomic
	// span per user, or concurrent creations all observe the same pre-count
	// and overshoot the cap.
	unlock := e.userLocks.lock(userID)
	defer unlock()

	if err := e.enforceSessionLimits(ctx, userID); err != nil {
		return nil, err
	}

	tok, err := internal.NewToken()
	if err != nil {
		return nil, fmt.Errorf("%w: token generation: %v", ErrInternal, err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = e.config.Session.DefaultTTL
	}
	if max := e.config.Session.MaxTTL; max > 0 && ttl > max {
		ttl = max
	}

	limit := opts.MemoryLimit
	if limit <= 0 {
		limit = e.config.Quota.DefaultMemoryLimit
	}

	now := time.Now()
	sess := &session.Session{
		ID:             uuid.NewString(),
		Token:          tok.String(),
		UserID:         userID,
		OrganizationID: organizationID,
		Context:        opts.Context,
		Metadata:       opts.Metadata,
		Permissions:    opts.Permissions,
		MemoryLimit:    limit,
		IsRecoverable:  opts.Recoverable,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		IsActive:       true,
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}

	usage, err := session.PayloadSize(sess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if usage > limit {
		return nil, fmt.Errorf("%w: initial payload %d bytes over limit %d", ErrQuotaExceeded, usage, limit)
	}
	sess.MemoryUsage = usage

	sctx, cancel := e.storeCtx(ctx)
	err = e.store.Insert(sctx, sess)
	cancel()
	if err != nil {
		return nil, mapStoreErr(err)
	}

	cctx, cancel := e.cacheCtx(ctx)
	e.cacheDegrade("put", e.cache.Put(cctx, sess, ttl))
	cancel()

	e.metricInc(MetricSessionCreated)
	e.emit(ctx, EventSessionCreated, sess, "", map[string]any{
		"ttlSeconds":  int64(ttl.Seconds()),
		"memoryLimit": limit,
		"recoverable": sess.IsRecoverable,
	})

	return session.NewView(sess), nil
}

// GetSession resolves a token through the dual-tier read path: cache hit
// (expiry re-checked) with an asynchronous last-access touch, otherwise
// durable lookup with cache repopulation for the remaining TTL. Not-found is
// reported identically for missing, expired, and destroyed sessions.
func (e *Engine) GetSession(ctx context.Context, token string) (*session.View, error) {
	sess, err := e.getLive(ctx, token)
	if err != nil {
		return nil, err
	}

	go e.touch(token)

	return session.NewView(sess), nil
}

// getLive resolves a token to an active, unexpired session or
// ErrSessionNotFound. Both tiers are consulted; only the durable row is
// authoritative.
func (e *Engine) getLive(ctx context.Context, token string) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := internal.ParseToken(token); err != nil {
		return nil, ErrSessionNotFound
	}

	cctx, cancel := e.cacheCtx(ctx)
	cached, err := e.cache.Get(cctx, token)
	cancel()
	if err == nil {
		// The cache re-checks stored expiry on read, but re-verify here so
		// skewed cache clocks cannot resurrect an expired row.
		if cached.IsActive && !cached.Expired(time.Now()) {
			e.metricInc(MetricCacheHit)
			return cached, nil
		}
	} else {
		e.cacheDegrade("get", err)
	}
	e.metricInc(MetricCacheMiss)

	sctx, cancel := e.storeCtx(ctx)
	sess, err := e.store.GetByToken(sctx, token)
	cancel()
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !sess.IsActive || sess.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}

	cctx, cancel = e.cacheCtx(ctx)
	e.cacheDegrade("put", e.cache.Put(cctx, sess, sess.RemainingTTL(time.Now())))
	cancel()

	return sess, nil
}

// touch refreshes LastAccessedAt and AccessCount off the request path. It
// serializes against updates on the same token and logs failures only.
func (e *Engine) touch(token string) {
	if e.ready() != nil {
		return
	}
	ctx := context.Background()

	unlock := e.locks.lock(token)
	defer unlock()

	sctx, cancel := e.storeCtx(ctx)
	sess, err := e.store.GetByToken(sctx, token)
	cancel()
	if err != nil || !sess.IsActive || sess.Expired(time.Now()) {
		return
	}

	sess.LastAccessedAt = time.Now()
	sess.AccessCount++

	sctx, cancel = e.storeCtx(ctx)
	err = e.store.Update(sctx, sess)
	cancel()
	if err != nil {
		e.logger.Warn("session touch failed", "session_id", sess.ID, "error", err)
		return
	}

	cctx, cancel := e.cacheCtx(ctx)
	e.cacheDegrade("put", e.cache.Put(cctx, sess, sess.RemainingTTL(time.Now())))
	cancel()
}

// ExtendSession pushes a session's expiry forward by extra (the default TTL
// when extra <= 0), bounded by the configured maximum lifetime, and refreshes
// the cache mirror with the new TTL.
func (e *Engine) ExtendSession(ctx context.Context, token string, extra time.Duration) (*session.View, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(token)
	defer unlock()

	sess, err := e.loadLiveLocked(ctx, token)
	if err != nil {
		return nil, err
	}

	if extra <= 0 {
		extra = e.config.Session.DefaultTTL
	}
	now := time.Now()
	newExpiry := now.Add(extra)
	if max := e.config.Session.MaxTTL; max > 0 {
		if ceiling := now.Add(max); newExpiry.After(ceiling) {
			newExpiry = ceiling
		}
	}
	sess.ExpiresAt = newExpiry
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

	e.metricInc(MetricSessionExtended)
	e.emit(ctx, EventSessionExtended, sess, "", map[string]any{
		"expiresAt": sess.ExpiresAt,
	})

	return session.NewView(sess), nil
}

// DestroySession destroys the session addressed by token. It is idempotent:
// destroying an unknown or already-destroyed token is a no-op. Cache
// invalidation completes before success is returned; a recoverable session's
// durable row is retained inactive so its recovery record survives.
func (e *Engine) DestroySession(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := internal.ParseToken(token); err != nil {
		return nil
	}

	unlock := e.locks.lock(token)
	defer unlock()

	sctx, cancel := e.storeCtx(ctx)
	sess, err := e.store.GetByToken(sctx, token)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return mapStoreErr(err)
	}
	if !sess.IsActive {
		return nil
	}

	if err := e.retire(ctx, sess, EventSessionDestroyed); err != nil {
		return err
	}
	e.metricInc(MetricSessionDestroyed)
	return nil
}

// retire takes an active session out of service: cache invalidation first,
// then the durable transition (inactive when recoverable, deleted otherwise),
// then the lifecycle event. Callers hold the token lock where one is needed.
func (e *Engine) retire(ctx context.Context, sess *session.Session, event string) error {
	cctx, cancel := e.cacheCtx(ctx)
	e.cacheDegrade("del", e.cache.Del(cctx, sess.Token, sess.UserID))
	cancel()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if sess.IsRecoverable {
		sess.IsActive = false
		if err := e.store.Update(sctx, sess); err != nil {
			return mapStoreErr(err)
		}
	} else {
		if err := e.store.Delete(sctx, sess.ID); err != nil {
			return mapStoreErr(err)
		}
	}

	e.emit(ctx, event, sess, "", nil)
	return nil
}

// DestroyUserSessions destroys every active session of a user. Per-session
// failures are logged and do not stop the pass.
func (e *Engine) DestroyUserSessions(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	sctx, cancel := e.storeCtx(ctx)
	sessions, err := e.store.ListByUser(sctx, userID, true)
	cancel()
	if err != nil {
		return mapStoreErr(err)
	}

	for _, sess := range sessions {
		if err := e.DestroySession(ctx, sess.Token); err != nil {
			e.logger.Warn("destroy user session failed", "session_id", sess.ID, "error", err)
		}
	}

	cctx, cancel := e.cacheCtx(ctx)
	e.cacheDegrade("del_all", e.cache.DelAllForUser(cctx, userID))
	cancel()

	return nil
}

// loadLiveLocked reads the authoritative durable row for a token held under
// the token lock. Expired and inactive rows report ErrSessionNotFound.
func (e *Engine) loadLiveLocked(ctx context.Context, token string) (*session.Session, error) {
	if _, err := internal.ParseToken(token); err != nil {
		return nil, ErrSessionNotFound
	}

	sctx, cancel := e.storeCtx(ctx)
	sess, err := e.store.GetByToken(sctx, token)
	cancel()
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !sess.IsActive || sess.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Ping probes both tiers. The durable probe issues a cheap point lookup; a
// not-found answer still proves the store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}

	cctx, cancel := e.cacheCtx(ctx)
	_, cacheErr := e.cache.Ping(cctx)
	cancel()
	if cacheErr != nil {
		e.cacheDegrade("ping", cacheErr)
	}

	sctx, cancel := e.storeCtx(ctx)
	_, err := e.store.GetByID(sctx, "ping-probe")
	cancel()
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return mapStoreErr(err)
	}
	return nil
}
