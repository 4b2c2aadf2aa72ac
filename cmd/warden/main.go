// Command warden supervises a kit fleet. On startup it sweeps claims left
// behind by dead workers, then probes heartbeats on an interval, commenting
// on and signalling any worker that has stopped making progress.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/dyluth/warren/pkg/ticket"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to warren config")
		interval   = flag.Duration("interval", time.Minute, "Time between heartbeat probes")
		threshold  = flag.Duration("threshold", 0, "Heartbeat age that counts as stalled (default from config)")
		once       = flag.Bool("once", false, "Run a single probe pass and exit")
		noSweep    = flag.Bool("no-sweep", false, "Skip the startup sweep of orphaned claims")
	)
	flag.Parse()

	if err := run(*configPath, *interval, *threshold, *once, *noSweep); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, interval, threshold time.Duration, once, noSweep bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if threshold == 0 {
		threshold = cfg.Supervisor.StallThreshold
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if _, _, err := ticket.Migrate(ctx, cfg.DBPath); err != nil {
		return err
	}
	store, err := ticket.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if !noSweep {
		released, err := store.ReleaseOrphaned(ctx, "")
		if err != nil {
			return err
		}
		for _, id := range released {
			fmt.Printf("swept orphaned claim on ticket #%d\n", id)
		}
	}

	prober := supervisor.NewProber(store, cfg.Supervisor.HeartbeatDir, threshold)

	for {
		reports, err := prober.Probe(ctx)
		if err != nil {
			return err
		}
		for _, r := range reports {
			fmt.Printf("worker %s stalled: pid=%d age=%s signalled=%t tickets=%v\n",
				r.AgentID, r.PID, r.Age.Round(time.Second), r.Signalled, r.TicketIDs)
		}
		if once {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
