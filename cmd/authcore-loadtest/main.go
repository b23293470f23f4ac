// Command authcore-loadtest drives an in-process engine against Redis (or
// miniredis) and reports per-phase latency percentiles. The refresh-race
// phase replays one refresh token from several goroutines and counts how
// many rotations win.
package main

import (
	"context"
	"errors"
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

	"github.com/smartportfolio/authcore"
	"github.com/smartportfolio/authcore/store/memory"
)

func main() {
	var (
		users       = flag.Int("users", 200, "number of accounts to register")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 5000, "operations per phase")
		racers      = flag.Int("racers", 8, "goroutines replaying one refresh token")
		atomicRot   = flag.Bool("atomic", false, "use compare-and-swap refresh rotation")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "loadtest", "redis key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 || *racers <= 1 {
		fmt.Fprintln(os.Stderr, "users, concurrency and ops must be > 0, racers > 1")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789ab")
	cfg.Session.RedisPrefix = *prefix
	cfg.Session.AtomicRotation = *atomicRot
	cfg.Security.EnableLoginThrottle = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	// Cheap hashing keeps the run about the cache, not Argon2.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(memory.New()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("registering %d users...\n", *users)
	startSeed := time.Now()
	accounts := make([]account, *users)
	for i := range accounts {
		name := fmt.Sprintf("user%05d", i)
		resp, err := engine.Register(ctx, authcore.RegisterInput{
			Username:  name,
			Email:     name + "@loadtest.local",
			Password:  "L0adtest!pass",
			FirstName: "Load",
			LastName:  "Test",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "register %s: %v\n", name, err)
			os.Exit(1)
		}
		accounts[i] = account{username: name, access: resp.Token, refresh: resp.RefreshToken}
	}
	fmt.Printf("registered in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loginStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		a := &accounts[r.Intn(len(accounts))]
		_, err := engine.Login(ctx, a.username, "L0adtest!pass")
		return err
	})

	authStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		a := &accounts[r.Intn(len(accounts))]
		a.mu.Lock()
		token := a.access
		a.mu.Unlock()
		_, err := engine.Authenticate(ctx, token)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		a := &accounts[r.Intn(len(accounts))]
		a.mu.Lock()
		defer a.mu.Unlock()
		resp, err := engine.Refresh(ctx, a.refresh)
		if err != nil {
			return err
		}
		a.access, a.refresh = resp.Token, resp.RefreshToken
		return nil
	})

	race := runRefreshRace(ctx, engine, accounts, *racers)

	logoutStats := runPhase(len(accounts), *concurrency, func(_ *rand.Rand, i int) error {
		a := &accounts[i]
		a.mu.Lock()
		defer a.mu.Unlock()
		_, err := engine.Logout(ctx, a.access, a.refresh)
		return err
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("authenticate", authStats)
	printStats("refresh", refreshStats)
	printStats("logout", logoutStats)
	fmt.Printf("refresh race (atomic=%t, racers=%d): rounds=%d single-winner=%d multi-winner=%d no-winner=%d\n",
		*atomicRot, *racers, race.rounds, race.single, race.multi, race.none)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: refresh_mismatch=%d blacklist_hits=%d audit_dropped=%d\n",
		snap.Counters[authcore.MetricRefreshMismatch],
		snap.Counters[authcore.MetricBlacklistHit],
		engine.AuditDropped(),
	)
}

type account struct {
	mu       sync.Mutex
	username string
	access   string
	refresh  string
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase runs op ops times across concurrency workers. op receives the
// operation index.
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

type raceStats struct {
	rounds int
	single int
	multi  int
	none   int
}

// runRefreshRace fires racers concurrent refreshes with the same token for
// every account. Without atomic rotation more than one may succeed.
func runRefreshRace(ctx context.Context, engine *authcore.Engine, accounts []account, racers int) raceStats {
	var out raceStats
	for i := range accounts {
		a := &accounts[i]
		a.mu.Lock()

		var (
			wg     sync.WaitGroup
			wins   int64
			winner atomic.Pointer[authcore.AuthResponse]
			gate   = make(chan struct{})
		)
		for j := 0; j < racers; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				resp, err := engine.Refresh(ctx, a.refresh)
				if err == nil {
					atomic.AddInt64(&wins, 1)
					winner.Store(resp)
					return
				}
				if !errors.Is(err, authcore.ErrTokenInvalid) {
					fmt.Fprintf(os.Stderr, "refresh race: unexpected error: %v\n", err)
				}
			}()
		}
		close(gate)
		wg.Wait()

		if resp := winner.Load(); resp != nil {
			a.access, a.refresh = resp.Token, resp.RefreshToken
		}
		a.mu.Unlock()

		out.rounds++
		switch {
		case wins == 1:
			out.single++
		case wins > 1:
			out.multi++
		default:
			out.none++
		}
	}
	return out
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
