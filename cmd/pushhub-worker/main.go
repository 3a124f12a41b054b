// The pushhub-worker binary drains the notification queue: it POSTs
// each pending job to its subscriber callback with bounded retries and
// exits when the queue is empty. Run it from cron or a systemd timer
// alongside the hub daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/pushhub/pushhub/internal/config"
	"github.com/pushhub/pushhub/internal/netutil"
	"github.com/pushhub/pushhub/internal/queue"
	"github.com/pushhub/pushhub/internal/state"
)

func main() {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	db, err := state.Open(filepath.Join(envCfg.StateDir, "state.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: open state.db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := state.NewHubRepo(db)
	q := queue.New(repo, envCfg.DeliveryMaxTries)
	client := netutil.NewHTTPClient(func() time.Duration { return envCfg.DeliveryTimeout })

	pending, err := q.Len()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: queue length: %v\n", err)
		os.Exit(1)
	}
	log.Printf("[worker] starting: %d jobs pending", pending)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := queue.NewWorker(q, client).Drain(ctx)
	logReport(report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: drain: %v\n", err)
		os.Exit(1)
	}
	log.Printf("[worker] queue drained")
}

func logReport(report queue.Report) {
	callbacks := make([]string, 0, len(report))
	for cb := range report {
		callbacks = append(callbacks, cb)
	}
	sort.Strings(callbacks)
	for _, cb := range callbacks {
		r := report[cb]
		log.Printf("[worker] %s: delivered %d, requeued %d, dropped %d",
			cb, r.Delivered, r.Requeued, r.Dropped)
	}
}
