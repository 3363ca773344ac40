package sessioncore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessioncore "github.com/modmesh/sessioncore"
	"github.com/modmesh/sessioncore/memstore"
	"github.com/modmesh/sessioncore/session"
)

func TestExpirySweepRetiresExpiredSessions(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	var doomed []string
	for range 2 {
		v, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{
			TTL: 30 * time.Millisecond,
		})
		require.NoError(t, err)
		doomed = append(doomed, v.Token)
	}
	survivor, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{
		TTL: time.Hour,
	})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	processed, err := et.engine.RunExpirySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	for _, token := range doomed {
		_, err := et.engine.GetSession(ctx, token)
		assert.ErrorIs(t, err, sessioncore.ErrSessionNotFound)
	}
	_, err = et.engine.GetSession(ctx, survivor.Token)
	assert.NoError(t, err)

	// The sweep is idempotent: retired rows are no longer listed.
	processed, err = et.engine.RunExpirySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	snap := et.engine.MetricsSnapshot()
	assert.Equal(t, uint64(2), snap.Counters[sessioncore.MetricSessionExpired])
	assert.Equal(t, uint64(2), snap.Counters[sessioncore.MetricSweepRuns])

	ev := waitEvent(t, et.sink, sessioncore.EventSessionExpired)
	assert.NotEmpty(t, ev.SessionID)
}

func TestExpirySweepRetainsRecoverableRows(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	created, err := et.engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{
		TTL:         30 * time.Millisecond,
		Recoverable: true,
	})
	require.NoError(t, err)

	_, err = et.engine.UpdateSession(ctx, created.Token, sessioncore.Update{
		Associations: map[session.ModuleType]*string{
			session.ModuleWorkflow: ptr("wf-1"),
		},
		RecoveryData: map[string]any{"completedStep": "step-1"},
	})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	processed, err := et.engine.RunExpirySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// The durable row survives inactive so the recovery record stays usable.
	row, err := et.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, row.IsActive)

	payload, err := et.engine.RecoverSession(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, payload.Workflow)
	assert.Equal(t, []any{"step-1"}, payload.Workflow.CompletedSteps)
}

func TestExpirySweepBatchLimit(t *testing.T) {
	et := newEngineTest(t, func(cfg *sessioncore.Config) {
		cfg.Lifecycle.SweepBatchLimit = 2
	})
	ctx := context.Background()

	for i := range 5 {
		user := "u-" + string(rune('a'+i)) // spread across users, below any cap
		_, err := et.engine.CreateSession(ctx, user, "org-1", sessioncore.CreateOptions{
			TTL: 30 * time.Millisecond,
		})
		require.NoError(t, err)
	}

	time.Sleep(60 * time.Millisecond)

	processed, err := et.engine.RunExpirySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed, "one pass handles at most the batch limit")

	total := processed
	for total < 5 {
		n, err := et.engine.RunExpirySweep(ctx)
		require.NoError(t, err)
		require.Greater(t, n, 0, "remaining expired rows must drain")
		total += n
	}
	assert.Equal(t, 5, total)
}

func TestUsageAggregationPerOrganization(t *testing.T) {
	et := newEngineTest(t, nil)
	ctx := context.Background()

	a1, err := et.engine.CreateSession(ctx, "u-1", "org-a", sessioncore.CreateOptions{})
	require.NoError(t, err)
	_, err = et.engine.CreateSession(ctx, "u-2", "org-a", sessioncore.CreateOptions{})
	require.NoError(t, err)
	_, err = et.engine.CreateSession(ctx, "u-3", "org-b", sessioncore.CreateOptions{})
	require.NoError(t, err)

	_, err = et.engine.UpdateSession(ctx, a1.Token, sessioncore.Update{
		Associations: map[session.ModuleType]*string{
			session.ModuleAgent: ptr("agent-1"),
		},
	})
	require.NoError(t, err)

	// Pin access counts so the mean is deterministic.
	row, err := et.store.GetByToken(ctx, a1.Token)
	require.NoError(t, err)
	row.AccessCount = 4
	require.NoError(t, et.store.Update(ctx, row))

	usages, err := et.engine.RunUsageAggregation(ctx)
	require.NoError(t, err)
	require.Len(t, usages, 2)

	// Output is ordered by organization id.
	orgA, orgB := usages[0], usages[1]
	assert.Equal(t, "org-a", orgA.OrganizationID)
	assert.Equal(t, "org-b", orgB.OrganizationID)

	assert.Equal(t, 2, orgA.SessionCount)
	assert.Equal(t, 2.0, orgA.AvgAccessCount) // (4 + 0) / 2
	assert.Equal(t, 1, orgA.ModuleUsage[session.ModuleAgent])
	assert.Equal(t, 0, orgA.ModuleUsage[session.ModuleTool])
	assert.Greater(t, orgA.TotalMemory, int64(0))

	assert.Equal(t, 1, orgB.SessionCount)
	assert.Equal(t, 0, orgB.ModuleUsage[session.ModuleAgent])

	ev := waitEvent(t, et.sink, sessioncore.EventUsageAggregated)
	assert.NotEmpty(t, ev.Payload["organizationId"])
}

func TestUsageAggregationEmptyStore(t *testing.T) {
	et := newEngineTest(t, nil)

	usages, err := et.engine.RunUsageAggregation(context.Background())
	require.NoError(t, err)
	assert.Empty(t, usages)
}

func TestSchedulerRunsSweepsPeriodically(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := sessioncore.DefaultConfig()
	cfg.Lifecycle.SweepInterval = 20 * time.Millisecond
	cfg.Lifecycle.AggregationInterval = time.Hour

	store := memstore.New()
	engine, err := sessioncore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(store).
		WithLogger(sessioncore.NewNopLogger()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	ctx := context.Background()
	created, err := engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{
		TTL: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	// The background sweep retires the session without any manual call.
	require.Eventually(t, func() bool {
		_, err := store.GetByID(ctx, created.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

// newStubEngine builds an engine over an arbitrary Store implementation so
// failure-injection wrappers can sit between the engine and memstore.
func newStubEngine(t *testing.T, store sessioncore.Store, mutate func(cfg *sessioncore.Config)) *sessioncore.Engine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := sessioncore.DefaultConfig()
	cfg.Lifecycle.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := sessioncore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(store).
		WithLogger(sessioncore.NewNopLogger()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return engine
}

// parkingStore holds the first ListExpired call until released, keeping a
// sweep pass in flight for as long as the test needs.
type parkingStore struct {
	sessioncore.Store
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func (s *parkingStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
		<-s.release
	}
	return s.Store.ListExpired(ctx, now, limit)
}

func TestExpirySweepSkipsWhilePassInFlight(t *testing.T) {
	ps := &parkingStore{
		Store:   memstore.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	engine := newStubEngine(t, ps, func(cfg *sessioncore.Config) {
		cfg.Store.OpTimeout = 5 * time.Second
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.RunExpirySweep(context.Background())
	}()
	<-ps.entered

	// The first pass is parked inside the store scan; a second call must
	// bail out without reaching the store.
	n, err := engine.RunExpirySweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.EqualValues(t, 1, ps.calls.Load())

	close(ps.release)
	<-done

	// With the pass finished, sweeping reaches the store again.
	_, err = engine.RunExpirySweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, ps.calls.Load())
}

// stallStore waits out the caller's deadline on token lookups.
type stallStore struct {
	sessioncore.Store
}

func (s *stallStore) GetByToken(ctx context.Context, token string) (*session.Session, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreDeadlineSurfacesAsStoreTimeout(t *testing.T) {
	engine := newStubEngine(t, &stallStore{Store: memstore.New()}, func(cfg *sessioncore.Config) {
		cfg.Store.OpTimeout = 20 * time.Millisecond
	})

	_, err := engine.GetSession(context.Background(), unknownToken(t))
	assert.ErrorIs(t, err, sessioncore.ErrStoreTimeout)
}

// failingScanStore degrades the aggregation scan while every other store
// operation keeps working.
type failingScanStore struct {
	sessioncore.Store
}

func (s *failingScanStore) ListActive(ctx context.Context) ([]*session.Session, error) {
	return nil, errors.New("scan unavailable")
}

func TestUsageAggregationFailureLeavesRequestPathIntact(t *testing.T) {
	engine := newStubEngine(t, &failingScanStore{Store: memstore.New()}, nil)
	ctx := context.Background()

	created, err := engine.CreateSession(ctx, "u-1", "org-1", sessioncore.CreateOptions{})
	require.NoError(t, err)

	usages, err := engine.RunUsageAggregation(ctx)
	assert.ErrorIs(t, err, sessioncore.ErrInternal)
	assert.Nil(t, usages)

	got, err := engine.GetSession(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}
