// Command sessioncore-loadtest seeds a session population and hammers the
// read and update paths concurrently, reporting throughput and latency
// percentiles per phase. Without -redis-addr (or REDIS_ADDR) it runs against
// an embedded miniredis, which measures engine overhead rather than network.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	sessioncore "github.com/modmesh/sessioncore"
	"github.com/modmesh/sessioncore/memstore"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (get + update)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "sc", "cache key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := sessioncore.DefaultConfig()
	cfg.Cache.Prefix = *prefix
	cfg.Lifecycle.Enabled = false
	cfg.Events.Enabled = false
	// One user per session keeps the per-user cap out of the measurement.
	cfg.Session.MaxSessionsPerUser = 2

	engine, err := sessioncore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithStore(memstore.New()).
		WithLogger(sessioncore.NewNopLogger()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	tokens := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		view, err := engine.CreateSession(ctx,
			fmt.Sprintf("user-%d", i), "org-load",
			sessioncore.CreateOptions{
				TTL:     24 * time.Hour,
				Context: map[string]any{"conversationId": fmt.Sprintf("conv-%d", i)},
			})
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = view.Token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	getStats := runPhase(*ops, *concurrency, func(r *rand.Rand, i int) error {
		_, err := engine.GetSession(ctx, tokens[r.Intn(len(tokens))])
		return err
	})
	updateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, i int) error {
		_, err := engine.UpdateSession(ctx, tokens[r.Intn(len(tokens))], sessioncore.Update{
			Context: map[string]any{"turn": i},
		})
		return err
	})

	fmt.Println("---- results ----")
	printStats("get", getStats)
	printStats("update", updateStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("cache: hits=%d misses=%d degraded=%d\n",
		snap.Counters[sessioncore.MetricCacheHit],
		snap.Counters[sessioncore.MetricCacheMiss],
		snap.Counters[sessioncore.MetricCacheDegraded])
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50,
		s.p95,
		s.p99,
	)
}
