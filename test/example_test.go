package test

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	cfg := goSession.DefaultConfig()
	cfg.Session.Namespace = "{myapp}:session:"
	cfg.Sweeper.Enabled = true

	engine, _ := goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		Build()
	_ = engine
}

// ExampleEngine_Login shows binding a session to a principal after the
// caller has authenticated the user.
func ExampleEngine_Login() {
	cfg := goSession.DefaultConfig()
	cfg.Store.Backend = goSession.BackendMemory

	engine, err := goSession.New().WithConfig(cfg).Build()
	if err != nil {
		return
	}
	defer engine.Close()

	ctx := context.Background()
	s := engine.CreateSession()
	if err := engine.Login(ctx, s, "alice"); err != nil {
		return
	}

	sessions, _ := engine.FindByPrincipalName(ctx, "alice")
	fmt.Println(len(sessions), s.PrincipalName())
	// Output: 1 alice
}

// ExampleEngine_MetricsSnapshot shows how to read in-process metrics counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *goSession.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot
}
