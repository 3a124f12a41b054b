package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pushhub/pushhub/internal/api"
	"github.com/pushhub/pushhub/internal/buildinfo"
	"github.com/pushhub/pushhub/internal/config"
	"github.com/pushhub/pushhub/internal/feed"
	"github.com/pushhub/pushhub/internal/hub"
	"github.com/pushhub/pushhub/internal/netutil"
	"github.com/pushhub/pushhub/internal/queue"
	"github.com/pushhub/pushhub/internal/scanloop"
	"github.com/pushhub/pushhub/internal/service"
	"github.com/pushhub/pushhub/internal/state"
)

func main() {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if config.IsWeakToken(envCfg.AdminToken) {
		log.Printf("WARNING: PUSHHUB_ADMIN_TOKEN is weak; consider a longer random token")
	}

	// 2. Open state.db
	if err := os.MkdirAll(envCfg.StateDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create state dir: %v\n", err)
		os.Exit(1)
	}
	db, err := state.Open(filepath.Join(envCfg.StateDir, "state.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: open state.db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 3. Wire the hub engine
	repo := state.NewHubRepo(db)
	q := queue.New(repo, envCfg.DeliveryMaxTries)
	client := netutil.NewHTTPClient(func() time.Duration { return envCfg.FetchTimeout })
	cache := feed.NewParseCache(envCfg.ParseCacheEntries)
	engine := hub.New(envCfg.HubURL, client, cache, q)

	svc := service.NewHubService(engine, repo)
	svc.VerifyTimeout = envCfg.VerifyTimeout
	svc.DefaultLease = envCfg.DefaultLeaseSeconds

	if err := svc.LoadState(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load state: %v\n", err)
		os.Exit(1)
	}
	log.Printf("[main] state loaded: %d topics", engine.TopicCount())

	// 4. Seed file, if configured
	if envCfg.SeedFile != "" {
		seed, err := config.LoadSeed(envCfg.SeedFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		svc.ApplySeed(context.Background(), seed.Topics, seed.Listeners)
		log.Printf("[main] seed applied: %d topics, %d listeners", len(seed.Topics), len(seed.Listeners))
	}

	// 5. API server
	systemInfo := api.SystemInfo{
		Version:   buildinfo.Version,
		GitCommit: buildinfo.GitCommit,
		BuildTime: buildinfo.BuildTime,
		StartedAt: time.Now().UTC(),
	}
	srv := api.NewServer(
		envCfg.ListenAddress,
		envCfg.Port,
		envCfg.AdminToken,
		systemInfo,
		svc,
		int64(envCfg.APIMaxBodyBytes),
	)

	go func() {
		log.Printf("[main] hub %s listening on %s:%d", buildinfo.Version, envCfg.ListenAddress, envCfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	// 6. Periodic content sweep
	stopCh := make(chan struct{})
	sweepCtx, cancelSweeps := context.WithCancel(context.Background())
	go scanloop.Run(stopCh, envCfg.FetchSweepMinInterval, envCfg.FetchSweepJitter, func() {
		svc.Sweep(sweepCtx)
	})

	// 7. Scheduled retry sweep for failed topics
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(envCfg.RetrySweepSchedule, func() {
		result := svc.FetchAll(sweepCtx, true)
		if result.Scanned > 0 {
			log.Printf("[main] retry sweep: %d retried, %d still failing", result.Scanned, result.Failed)
		}
	}); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: retry sweep schedule: %v\n", err)
		os.Exit(1)
	}
	scheduler.Start()

	// 8. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	close(stopCh)
	cancelSweeps()
	<-scheduler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
