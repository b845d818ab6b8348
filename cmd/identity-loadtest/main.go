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

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		users       = flag.Int("users", 10000, "number of distinct users owning the seeded sessions")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (lookup + churn)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "ids", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, users, concurrency, and ops must be > 0")
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

	store := session.NewStore(client, *prefix)

	refs := make([]string, *sessions)
	fmt.Printf("seeding %d sessions across %d users...\n", *sessions, *users)
	startSeed := time.Now()
	now := time.Now()
	for i := 0; i < *sessions; i++ {
		rec, err := buildRecord(fmt.Sprintf("user-%d", i%*users), now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token generation failed: %v\n", err)
			os.Exit(1)
		}
		if err := store.Create(ctx, rec, now); err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		refs[i] = rec.Ref
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookupStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		_, err := store.Get(ctx, refs[r.Intn(len(refs))], time.Now())
		return err
	})
	churnStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		rec, err := buildRecord(fmt.Sprintf("user-%d", r.Intn(*users)), time.Now())
		if err != nil {
			return err
		}
		if err := store.Create(ctx, rec, time.Now()); err != nil {
			return err
		}
		_, err = store.Delete(ctx, rec.Ref)
		return err
	})

	fmt.Println("---- results ----")
	printStats("lookup", lookupStats)
	printStats("create+delete", churnStats)
}

func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

// buildRecord mints a token the way the engine does and keeps only its ref.
func buildRecord(userID string, now time.Time) (*session.Record, error) {
	token, err := internal.NewSessionToken(128)
	if err != nil {
		return nil, err
	}
	return &session.Record{
		Ref:       internal.SessionRef(token),
		UserID:    userID,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(24 * time.Hour).UnixMilli(),
	}, nil
}
