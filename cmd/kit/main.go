// Command kit is one worker in the swarm: an endless loop of claiming a
// ticket, executing it on an isolation branch, verifying, and integrating
// the result into the shared mainline. Run N kits against one database and
// one git origin to get a swarm.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/git"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/dyluth/warren/internal/worker"
	"github.com/dyluth/warren/pkg/ticket"
)

func main() {
	var (
		agentID    = flag.String("agent", "", "Worker agent id (default: AGENT_ID or a generated kit-<uuid> name)")
		configPath = flag.String("config", "", "Path to warren.yml")
	)
	flag.Parse()

	if err := run(*agentID, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(agentID, configPath string) error {
	if agentID == "" {
		agentID = os.Getenv("AGENT_ID")
	}
	if agentID == "" {
		agentID = "kit-" + uuid.New().String()[:8]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// The database must exist and be current before workers touch it.
	if _, _, err := ticket.Migrate(ctx, cfg.DBPath); err != nil {
		return err
	}
	store, err := ticket.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	repo := git.NewRepo(cfg.Worker.RepoDir)
	if !repo.IsRepo(ctx) {
		return fmt.Errorf("%s is not a git repository", cfg.Worker.RepoDir)
	}

	capability, err := agent.NewSubprocess(cfg.Worker.Capability)
	if err != nil {
		return err
	}
	heartbeat := supervisor.NewHeartbeat(cfg.Supervisor.HeartbeatDir, agentID)
	defer heartbeat.Remove()

	fmt.Printf("kit %s starting (db: %s, repo: %s)\n", agentID, cfg.DBPath, cfg.Worker.RepoDir)

	engine := worker.New(agentID, store, capability, repo, heartbeat, cfg.Worker, cfg.DBPath)
	return engine.Run(ctx)
}
