package sessioncore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modmesh/sessioncore/session"
)

// lifecycleScheduler drives the two independent periodic maintenance tasks:
// the expiry sweep and usage aggregation. It runs outside the request path;
// task failures are logged and never surface to request-serving work.
type lifecycleScheduler struct {
	engine   *Engine
	cfg      LifecycleConfig
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newLifecycleScheduler(engine *Engine, cfg LifecycleConfig) *lifecycleScheduler {
	s := &lifecycleScheduler{
		engine: engine,
		cfg:    cfg,
		done:   make(chan struct{}),
	}

	s.wg.Add(2)
	go s.loop(cfg.SweepInterval, func(ctx context.Context) {
		if _, err := engine.RunExpirySweep(ctx); err != nil {
			engine.logger.Error("expiry sweep failed", "error", err)
		}
	})
	go s.loop(cfg.AggregationInterval, func(ctx context.Context) {
		if _, err := engine.RunUsageAggregation(ctx); err != nil {
			engine.logger.Error("usage aggregation failed", "error", err)
		}
	})

	return s
}

func (s *lifecycleScheduler) loop(interval time.Duration, task func(ctx context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			task(context.Background())
		case <-s.done:
			return
		}
	}
}

// Stop halts both loops and waits for an in-flight pass to return.
func (s *lifecycleScheduler) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// RunExpirySweep scans active sessions whose expiry has passed, retires each
// one (cache invalidation, durable transition, "session.expired" event), and
// returns how many were processed. The sweep is idempotent: a retired row is
// no longer listed as active, so re-sweeping finds nothing to do. Per-item
// failures are logged and do not stop the pass. At most one sweep runs at a
// time; a call that finds one in flight returns immediately.
//
// No per-session lock is held across the sweep's store calls, so a slow
// sweep cannot starve live traffic; an update racing a sweep on the same row
// loses harmlessly because expired rows fail the liveness re-check.
func (e *Engine) RunExpirySweep(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if !e.sweepActive.CompareAndSwap(false, true) {
		e.logger.Debug("expiry sweep skipped, previous pass still running")
		return 0, nil
	}
	defer e.sweepActive.Store(false)

	sctx, cancel := e.storeCtx(ctx)
	expired, err := e.store.ListExpired(sctx, time.Now(), e.config.Lifecycle.SweepBatchLimit)
	cancel()
	if err != nil {
		return 0, mapStoreErr(err)
	}

	processed := 0
	for _, sess := range expired {
		if err := e.retire(ctx, sess, EventSessionExpired); err != nil {
			e.logger.Warn("expiry sweep item failed", "session_id", sess.ID, "error", err)
			continue
		}
		e.metricInc(MetricSessionExpired)
		processed++
	}

	e.metricInc(MetricSweepRuns)
	return processed, nil
}

// RunUsageAggregation scans all active, unexpired sessions and computes
// per-organization aggregates: session count, mean access count, per-module
// usage distribution, and total memory. One "session.usage_aggregated" event
// is emitted per organization. The pass never touches the create/read/update
// path; when it fails, the scheduler logs and nothing else happens.
func (e *Engine) RunUsageAggregation(ctx context.Context) ([]OrganizationUsage, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	sctx, cancel := e.storeCtx(ctx)
	active, err := e.store.ListActive(sctx)
	cancel()
	if err != nil {
		return nil, mapStoreErr(err)
	}

	byOrg := make(map[string]*OrganizationUsage)
	accessTotals := make(map[string]int64)
	for _, sess := range active {
		usage, ok := byOrg[sess.OrganizationID]
		if !ok {
			usage = &OrganizationUsage{
				OrganizationID: sess.OrganizationID,
				ModuleUsage:    make(map[session.ModuleType]int),
			}
			byOrg[sess.OrganizationID] = usage
		}
		usage.SessionCount++
		usage.TotalMemory += sess.MemoryUsage
		accessTotals[sess.OrganizationID] += sess.AccessCount
		for _, m := range session.ModuleTypes {
			if sess.Association(m) != nil {
				usage.ModuleUsage[m]++
			}
		}
	}

	out := make([]OrganizationUsage, 0, len(byOrg))
	for orgID, usage := range byOrg {
		if usage.SessionCount > 0 {
			usage.AvgAccessCount = float64(accessTotals[orgID]) / float64(usage.SessionCount)
		}
		out = append(out, *usage)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OrganizationID < out[j].OrganizationID
	})

	for i := range out {
		usage := out[i]
		moduleUsage := make(map[string]int, len(usage.ModuleUsage))
		for m, n := range usage.ModuleUsage {
			moduleUsage[string(m)] = n
		}
		e.emit(ctx, EventUsageAggregated, nil, "", map[string]any{
			"organizationId": usage.OrganizationID,
			"sessionCount":   usage.SessionCount,
			"avgAccessCount": usage.AvgAccessCount,
			"totalMemory":    usage.TotalMemory,
			"moduleUsage":    moduleUsage,
		})
	}

	e.metricInc(MetricAggregationRuns)
	return out, nil
}
