package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	goSession "github.com/MrEthical07/goSession"
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Benchmark the session store",
	Long: `Seed a session store and measure find, save and principal lookup latency
under concurrent load.

When the redis backend is selected and no address is configured, an embedded
miniredis server is started so the command runs without external services.`,
	RunE: runLoadtest,
}

func init() {
	loadtestCmd.Flags().Int("sessions", 100000, "Number of sessions to seed")
	loadtestCmd.Flags().Int("principals", 1000, "Number of distinct principals the seeded sessions belong to")
	loadtestCmd.Flags().Int("concurrency", 256, "Number of concurrent workers")
	loadtestCmd.Flags().Int("ops", 200000, "Operations per phase")

	for key, flag := range map[string]string{
		"loadtest.sessions":    "sessions",
		"loadtest.principals":  "principals",
		"loadtest.concurrency": "concurrency",
		"loadtest.ops":         "ops",
	} {
		if err := viper.BindPFlag(key, loadtestCmd.Flags().Lookup(flag)); err != nil {
			loadtestCmd.PrintErrf("Error binding %s flag: %v\n", flag, err)
		}
	}
}

type loadtestOptions struct {
	sessions    int
	principals  int
	concurrency int
	ops         int
}

type seededSession struct {
	mu sync.Mutex
	id string
}

func runLoadtest(cmd *cobra.Command, _ []string) error {
	opts := loadtestOptions{
		sessions:    viper.GetInt("loadtest.sessions"),
		principals:  viper.GetInt("loadtest.principals"),
		concurrency: viper.GetInt("loadtest.concurrency"),
		ops:         viper.GetInt("loadtest.ops"),
	}
	if opts.sessions <= 0 || opts.principals <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return fmt.Errorf("sessions, principals, concurrency and ops must be > 0")
	}

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	cfg.Sweeper.Enabled = false
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	ctx := cmd.Context()
	builder := goSession.New().WithConfig(cfg).WithLogger(newLogger())
	switch {
	case cfg.Store.Backend == goSession.BackendMemory:
		cmd.Println("using in-memory backend")
	case len(cfg.Redis.Addrs) == 0:
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("failed to start miniredis: %w", err)
		}
		defer mr.Close()
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		defer func() { _ = client.Close() }()
		builder = builder.WithRedis(client)
		cmd.Printf("using miniredis at %s\n", mr.Addr())
	default:
		cmd.Printf("using redis at %v\n", cfg.Redis.Addrs)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build session engine: %w", err)
	}
	defer engine.Close()

	cmd.Printf("seeding %d sessions across %d principals...\n", opts.sessions, opts.principals)
	startSeed := time.Now()
	states, err := seedSessions(ctx, engine, opts)
	if err != nil {
		return err
	}
	cmd.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	findStats := runPhase(opts, states, func(r *rand.Rand, state *seededSession) error {
		state.mu.Lock()
		id := state.id
		state.mu.Unlock()
		_, err := engine.FindByID(ctx, id)
		return err
	})
	saveStats := runPhase(opts, states, func(r *rand.Rand, state *seededSession) error {
		state.mu.Lock()
		defer state.mu.Unlock()
		s, err := engine.FindByID(ctx, state.id)
		if err != nil {
			return err
		}
		if err := s.SetAttribute("counter", r.Int63()); err != nil {
			return err
		}
		s.Touch()
		return engine.Save(ctx, s)
	})
	lookupStats := runPhase(opts, states, func(r *rand.Rand, _ *seededSession) error {
		_, err := engine.FindByPrincipalName(ctx, principalFor(r.Intn(opts.principals)))
		return err
	})

	cmd.Println("---- results ----")
	cmd.Println(formatStats("find", findStats))
	cmd.Println(formatStats("save", saveStats))
	cmd.Println(formatStats("principal", lookupStats))
	return nil
}

func principalFor(i int) string {
	return fmt.Sprintf("user-%d", i)
}

func seedSessions(ctx context.Context, engine *goSession.Engine, opts loadtestOptions) ([]seededSession, error) {
	states := make([]seededSession, opts.sessions)
	for i := range states {
		s := engine.CreateSession()
		if err := s.SetAttribute("seq", i); err != nil {
			return nil, fmt.Errorf("seed session %d: %w", i, err)
		}
		if err := engine.Login(ctx, s, principalFor(i%opts.principals)); err != nil {
			return nil, fmt.Errorf("seed session %d: %w", i, err)
		}
		states[i].id = s.ID()
	}
	return states, nil
}

// runPhase runs opts.ops calls of op across opts.concurrency workers, each
// against a randomly chosen seeded session.
func runPhase(opts loadtestOptions, states []seededSession, op func(*rand.Rand, *seededSession) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= opts.ops {
					return
				}
				state := &states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(r, state)
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
