package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/agent/agenttest"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/git"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/dyluth/warren/pkg/ticket"
)

// harness wires a worker engine to a real store, a real clone of a bare
// origin, and a scripted capability.
type harness struct {
	engine *Engine
	store  *ticket.Store
	repo   *git.Repo
	origin string
	sleeps []time.Duration
}

func newHarness(t *testing.T, fake *agenttest.Fake) *harness {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "warren.db")
	_, _, err := ticket.Migrate(ctx, dbPath)
	require.NoError(t, err)
	store, err := ticket.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	base := t.TempDir()
	origin := filepath.Join(base, "origin.git")
	seed := filepath.Join(base, "seed")
	clone := filepath.Join(base, "clone")

	gitIn := func(dir string, args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	gitIn(base, "init", "--bare", "-b", "main", origin)
	gitIn(base, "init", "-b", "main", seed)
	require.NoError(t, os.WriteFile(filepath.Join(seed, "README.md"), []byte("seed\n"), 0644))
	gitIn(seed, "add", "-A")
	gitIn(seed, "commit", "-m", "initial commit")
	gitIn(seed, "push", origin, "main")
	gitIn(base, "clone", "-b", "main", origin, clone)
	gitIn(clone, "config", "user.name", "test")
	gitIn(clone, "config", "user.email", "test@test")

	repo := git.NewRepo(clone)
	hb := supervisor.NewHeartbeat(filepath.Join(t.TempDir(), "hb"), "kit-1")

	cfg := config.WorkerConfig{
		AllowedTools:  "Bash,Read,Write,Edit,Glob,Grep",
		MaxTurns:      10,
		VerifyRetries: 1,
		PushRetries:   3,
		ShortSleep:    time.Millisecond,
		LongSleep:     time.Millisecond,
		RepoDir:       clone,
		Mainline:      "main",
		Remote:        "origin",
	}

	h := &harness{store: store, repo: repo, origin: origin}
	h.engine = New("kit-1", store, fake, repo, hb, cfg, dbPath)
	h.engine.sleep = func(_ context.Context, d time.Duration) {
		h.sleeps = append(h.sleeps, d)
	}
	return h
}

func (h *harness) create(t *testing.T, req ticket.CreateRequest) int64 {
	t.Helper()
	if req.CreatedBy == "" {
		req.CreatedBy = "human"
	}
	id, err := h.store.Create(context.Background(), req)
	require.NoError(t, err)
	return id
}

func (h *harness) get(t *testing.T, id int64) *ticket.Ticket {
	t.Helper()
	got, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return got
}

func (h *harness) comments(t *testing.T, id int64) []ticket.Comment {
	t.Helper()
	comments, err := h.store.Comments(context.Background(), id)
	require.NoError(t, err)
	return comments
}

// originCommits counts commits on the shared origin's main.
func (h *harness) originCommits(t *testing.T) int {
	t.Helper()
	out, err := exec.Command("git", "-C", h.origin, "rev-list", "--count", "main").Output()
	require.NoError(t, err)
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	require.NoError(t, err)
	return n
}

func TestWorkerHappyPath(t *testing.T) {
	fake := agenttest.NewFake(agenttest.Invocation{
		Before: func(req agent.Request) {
			err := os.WriteFile(filepath.Join(req.WorkDir, "feature.txt"), []byte("built\n"), 0644)
			require.NoError(t, err)
		},
	})
	h := newHarness(t, fake)
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "build the feature"})
	before := h.originCommits(t)

	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.StatusDone, got.Status)
	assert.Equal(t, before+1, h.originCommits(t), "work was integrated and pushed")

	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "Integrated 1 commit")

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, id, reqs[0].TicketID)
	assert.Contains(t, reqs[0].Task, "build the feature")
}

// capGit runs git inside the capability's working copy, the way a capability
// with Bash in its allowlist would.
func capGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestWorkerIntegratesSelfCommittedWork(t *testing.T) {
	fake := agenttest.NewFake(agenttest.Invocation{
		Before: func(req agent.Request) {
			err := os.WriteFile(filepath.Join(req.WorkDir, "feature.txt"), []byte("built\n"), 0644)
			require.NoError(t, err)
			capGit(t, req.WorkDir, "add", "-A")
			capGit(t, req.WorkDir, "commit", "-m", "implement feature")
		},
	})
	h := newHarness(t, fake)
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "self-committed feature"})
	before := h.originCommits(t)

	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.StatusDone, got.Status)
	assert.Equal(t, before+1, h.originCommits(t), "committed work still reaches origin")

	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "Integrated 1 commit")
}

func TestWorkerCommittedConflictMarkersBounce(t *testing.T) {
	commitMarked := func(req agent.Request) {
		err := os.WriteFile(filepath.Join(req.WorkDir, "clash.txt"),
			[]byte("<<<<<<< ours\nleft\n=======\nright\n>>>>>>> theirs\n"), 0644)
		require.NoError(t, err)
		capGit(t, req.WorkDir, "add", "-A")
		capGit(t, req.WorkDir, "commit", "-m", "half-merged work")
	}
	fake := agenttest.NewFake(
		agenttest.Invocation{Before: commitMarked},
		agenttest.Invocation{},
	)
	h := newHarness(t, fake)
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "tainted work"})
	before := h.originCommits(t)

	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.StatusOpen, got.Status, "released for another attempt")
	assert.Equal(t, before, h.originCommits(t), "tainted commit never pushed")

	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "unresolved conflict markers")
	assert.Contains(t, comments[0].Body, "clash.txt")
}

func TestWorkerNoChanges(t *testing.T) {
	fake := agenttest.NewFake(agenttest.Invocation{Output: "nothing to do"})
	h := newHarness(t, fake)
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "already solved"})
	before := h.originCommits(t)

	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.StatusDone, got.Status)
	assert.Equal(t, before, h.originCommits(t), "no commit was pushed")

	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "No changes")
}

func TestWorkerVerificationFailure(t *testing.T) {
	// The first invocation introduces both the change and a failing
	// verification gate; the fix-mode retry leaves it failing. The gate has
	// to be written by the capability because isolation cleans the tree.
	write := func(req agent.Request) {
		err := os.WriteFile(filepath.Join(req.WorkDir, "broken.txt"), []byte("broken\n"), 0644)
		require.NoError(t, err)
		script := filepath.Join(req.WorkDir, "verify.sh")
		err = os.WriteFile(script, []byte("#!/bin/sh\necho tests failed\nexit 1\n"), 0755)
		require.NoError(t, err)
	}
	fake := agenttest.NewFake(
		agenttest.Invocation{Before: write},
		agenttest.Invocation{Before: write},
	)
	h := newHarness(t, fake)
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "doomed work"})
	before := h.originCommits(t)

	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.StatusOpen, got.Status, "released for another attempt")
	assert.Empty(t, got.AssignedTo)
	assert.Equal(t, before, h.originCommits(t))
	assert.Equal(t, 2, fake.Calls(), "initial attempt plus one fix-mode retry")

	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "Verification failed after 2 attempt(s)")
	assert.Contains(t, comments[0].Body, "tests failed")

	dirty, err := h.repo.HasChanges(ctx)
	require.NoError(t, err)
	assert.False(t, dirty, "uncommitted work was discarded")
}

func TestWorkerConflictMarkerGate(t *testing.T) {
	write := func(req agent.Request) {
		content := "<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> other\n"
		require.NoError(t, os.WriteFile(filepath.Join(req.WorkDir, "clash.txt"), []byte(content), 0644))
	}
	fake := agenttest.NewFake(
		agenttest.Invocation{Before: write},
		agenttest.Invocation{Before: write},
	)
	h := newHarness(t, fake)
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "leaves markers"})
	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.StatusOpen, got.Status)
	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "conflict markers")
}

func TestWorkerMidflightRelease(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "reassigned under us"})

	// The capability writes changes but the ticket is taken away mid-run.
	fake := agenttest.NewFake(agenttest.Invocation{
		Before: func(req agent.Request) {
			require.NoError(t, os.WriteFile(filepath.Join(req.WorkDir, "late.txt"), []byte("x\n"), 0644))
			human := ticket.HumanOwner
			require.NoError(t, h.store.Update(ctx, id, ticket.UpdateRequest{AssignedTo: &human}))
		},
	})
	h.engine.capability = fake
	before := h.originCommits(t)

	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.HumanOwner, got.AssignedTo, "the reassignment wins")
	assert.Equal(t, before, h.originCommits(t), "nothing was pushed")
	assert.Empty(t, h.comments(t, id), "no escalation comment for a clean hand-off")

	dirty, err := h.repo.HasChanges(ctx)
	require.NoError(t, err)
	assert.False(t, dirty, "uncommitted changes were discarded")
}

// rejectingRepo wraps a real repo but refuses every push, simulating a
// worker that keeps losing the integration race.
type rejectingRepo struct {
	Repo
	pushes int
}

func (r *rejectingRepo) Push(ctx context.Context, remote, branch string) error {
	r.pushes++
	return git.ErrPushRejected
}

func TestWorkerPushRetriesExhausted(t *testing.T) {
	fake := agenttest.NewFake(agenttest.Invocation{
		Before: func(req agent.Request) {
			require.NoError(t, os.WriteFile(filepath.Join(req.WorkDir, "ours.txt"), []byte("x\n"), 0644))
		},
	})
	h := newHarness(t, fake)
	ctx := context.Background()

	rejecting := &rejectingRepo{Repo: h.repo}
	h.engine.repo = rejecting

	id := h.create(t, ticket.CreateRequest{Title: "race loser"})
	before := h.originCommits(t)

	require.NoError(t, h.engine.runOnce(ctx))

	assert.Equal(t, 3, rejecting.pushes, "bounded at the configured retry count")
	got := h.get(t, id)
	assert.Equal(t, ticket.StatusOpen, got.Status)
	assert.Empty(t, got.AssignedTo)
	assert.Equal(t, before, h.originCommits(t), "no partial commit reached mainline")

	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "Push rejected 3 times")
}

// conflictingRepo forces a merge conflict during integration.
type conflictingRepo struct {
	Repo
}

func (r *conflictingRepo) Merge(ctx context.Context, branch string) error {
	return git.ErrMergeConflict
}

func (r *conflictingRepo) ConflictedFiles(ctx context.Context) ([]string, error) {
	return []string{"clash.txt"}, nil
}

func (r *conflictingRepo) AbortMerge(ctx context.Context) error {
	return nil
}

func TestWorkerUnresolvableMergeConflict(t *testing.T) {
	// First invocation does the work; second is the resolution attempt that
	// leaves the marker in place.
	fake := agenttest.NewFake(
		agenttest.Invocation{Before: func(req agent.Request) {
			require.NoError(t, os.WriteFile(filepath.Join(req.WorkDir, "ours.txt"), []byte("x\n"), 0644))
		}},
		agenttest.Invocation{Before: func(req agent.Request) {
			require.NoError(t, os.WriteFile(filepath.Join(req.WorkDir, "clash.txt"), []byte("<<<<<<< HEAD\n"), 0644))
		}},
	)
	h := newHarness(t, fake)
	ctx := context.Background()
	h.engine.repo = &conflictingRepo{Repo: h.repo}

	id := h.create(t, ticket.CreateRequest{Title: "conflicted work"})
	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.StatusOpen, got.Status)
	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "Merge conflict")
	assert.Equal(t, 2, fake.Calls(), "one execution plus one resolution attempt")
}

func TestWorkerProposalFlow(t *testing.T) {
	fake := agenttest.NewFake(agenttest.Invocation{Output: "Suggest: add integration tests"})
	h := newHarness(t, fake)
	ctx := context.Background()

	// Empty queue, zero open or in-progress tickets anywhere.
	require.NoError(t, h.engine.runOnce(ctx))

	tickets, err := h.store.List(ctx, ticket.Filter{})
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	proposal := tickets[0]
	assert.Equal(t, ticket.TypeProposal, proposal.Type)
	assert.Equal(t, ticket.HumanOwner, proposal.AssignedTo)
	assert.Equal(t, ticket.StatusOpen, proposal.Status)

	comments := h.comments(t, proposal.ID)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "integration tests")

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].ReadOnly, "proposal runs the capability read-only")

	require.Len(t, h.sleeps, 1)
	assert.Equal(t, h.engine.cfg.LongSleep, h.sleeps[0], "long sleep after a proposal round")
}

func TestWorkerProposalRecovery(t *testing.T) {
	// A proposal left open by a crashed worker is claimed and re-enters the
	// proposal flow instead of normal execution.
	fake := agenttest.NewFake(agenttest.Invocation{Output: "recovered suggestion"})
	h := newHarness(t, fake)
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "stale proposal", Type: ticket.TypeProposal})

	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.HumanOwner, got.AssignedTo)
	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "recovered suggestion")
}

func TestWorkerShortSleepWhenWorkExistsElsewhere(t *testing.T) {
	fake := agenttest.NewFake()
	h := newHarness(t, fake)
	ctx := context.Background()

	// One ticket, already held by another worker: queue is empty for us but
	// not globally drained.
	h.create(t, ticket.CreateRequest{Title: "busy elsewhere"})
	_, err := h.store.ClaimNext(ctx, "kit-2")
	require.NoError(t, err)

	require.NoError(t, h.engine.runOnce(ctx))

	assert.Zero(t, fake.Calls(), "no proposal while work is in flight")
	require.Len(t, h.sleeps, 1)
	assert.Equal(t, h.engine.cfg.ShortSleep, h.sleeps[0])
}

func TestWorkerExecutionFailureBounces(t *testing.T) {
	fake := agenttest.NewFake(agenttest.Failing("model refused"))
	h := newHarness(t, fake)
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "hard ticket"})
	require.NoError(t, h.engine.runOnce(ctx))

	got := h.get(t, id)
	assert.Equal(t, ticket.StatusOpen, got.Status)
	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "Execution failed")
}

func TestWorkerReleaseOnShutdown(t *testing.T) {
	h := newHarness(t, agenttest.NewFake())
	ctx := context.Background()

	id := h.create(t, ticket.CreateRequest{Title: "held at shutdown"})
	d, err := h.store.ClaimNext(ctx, "kit-1")
	require.NoError(t, err)
	h.engine.current = d

	h.engine.releaseCurrent("Released on shutdown")

	got := h.get(t, id)
	assert.Equal(t, ticket.StatusOpen, got.Status)
	assert.Empty(t, got.AssignedTo)
	comments := h.comments(t, id)
	require.Len(t, comments, 1)
	assert.Equal(t, "Released on shutdown", comments[0].Body)
}
