// Package git wraps the system git binary with the operations the worker
// protocol needs: branch isolation, commit, merge with conflict detection,
// and push with non-fast-forward rejection detection.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrMergeConflict is returned by Merge when git stops with unresolved
// conflicts. The merge is left in progress so the caller can attempt
// resolution or call AbortMerge.
var ErrMergeConflict = errors.New("merge conflict")

// ErrPushRejected is returned by Push when the remote rejects a
// non-fast-forward update, meaning another worker integrated first.
var ErrPushRejected = errors.New("push rejected")

// Repo operates on a single working copy. Each worker owns its Repo
// exclusively; no locking is needed.
type Repo struct {
	dir string
}

// NewRepo returns a Repo for the working copy at dir.
func NewRepo(dir string) *Repo {
	return &Repo{dir: dir}
}

// Dir returns the working copy path.
func (r *Repo) Dir() string {
	return r.dir
}

// run executes git with the given arguments in the repo directory, returning
// combined output. Errors include the git output for diagnosis.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.dir}, args...)...)
	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("git not found in PATH: %w", err)
		}
		return text, fmt.Errorf("git %s failed: %w: %s", args[0], err, text)
	}
	return text, nil
}

// IsRepo reports whether the directory is inside a git repository.
func (r *Repo) IsRepo(ctx context.Context) bool {
	_, err := r.run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// Fetch updates remote tracking refs.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	_, err := r.run(ctx, "fetch", remote)
	return err
}

// ResetToMainline discards all local state and per-ticket branches, leaving
// the working copy checked out at the remote mainline tip. This is the
// isolation step: every ticket starts from the latest integrated history.
func (r *Repo) ResetToMainline(ctx context.Context, remote, mainline string) error {
	if err := r.Fetch(ctx, remote); err != nil {
		return err
	}
	if _, err := r.run(ctx, "checkout", mainline); err != nil {
		return err
	}
	if _, err := r.run(ctx, "reset", "--hard", remote+"/"+mainline); err != nil {
		return err
	}
	if _, err := r.run(ctx, "clean", "-fd"); err != nil {
		return err
	}

	branches, err := r.LocalBranches(ctx)
	if err != nil {
		return err
	}
	for _, branch := range branches {
		if branch == mainline {
			continue
		}
		if _, err := r.run(ctx, "branch", "-D", branch); err != nil {
			return err
		}
	}
	return nil
}

// LocalBranches lists local branch names.
func (r *Repo) LocalBranches(ctx context.Context) ([]string, error) {
	output, err := r.run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// CreateBranch creates and checks out a branch at the current HEAD, replacing
// any stale branch of the same name.
func (r *Repo) CreateBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", "-B", name)
	return err
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", name)
	return err
}

// HasChanges reports whether the working copy has uncommitted changes,
// including staged, unstaged, and untracked files.
func (r *Repo) HasChanges(ctx context.Context) (bool, error) {
	output, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return output != "", nil
}

// ChangedFiles returns the paths of all modified, staged, and untracked
// files, for the verification gate's conflict-marker scan.
func (r *Repo) ChangedFiles(ctx context.Context) ([]string, error) {
	output, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		file := strings.TrimSpace(line[3:])
		// Renames show as "old -> new"; the new path is what exists on disk.
		if _, after, ok := strings.Cut(file, " -> "); ok {
			file = after
		}
		files = append(files, strings.Trim(file, `"`))
	}
	return files, nil
}

// CommitAll stages everything and commits with the given message.
func (r *Repo) CommitAll(ctx context.Context, message string) error {
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return err
	}
	_, err := r.run(ctx, "commit", "-m", message)
	return err
}

// DiscardChanges throws away all uncommitted work, tracked and untracked.
func (r *Repo) DiscardChanges(ctx context.Context) error {
	if _, err := r.run(ctx, "reset", "--hard"); err != nil {
		return err
	}
	_, err := r.run(ctx, "clean", "-fd")
	return err
}

// DiffFiles lists the paths HEAD changed relative to base, from their merge
// base so unrelated movement on base is not counted.
func (r *Repo) DiffFiles(ctx context.Context, base string) ([]string, error) {
	output, err := r.run(ctx, "diff", "--name-only", base+"...HEAD")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, strings.Trim(line, `"`))
		}
	}
	return files, nil
}

// CommitsAhead returns how many commits branch has that base does not.
func (r *Repo) CommitsAhead(ctx context.Context, base, branch string) (int, error) {
	output, err := r.run(ctx, "rev-list", "--count", base+".."+branch)
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(output)
	if err != nil {
		return 0, fmt.Errorf("unexpected rev-list output %q: %w", output, err)
	}
	return count, nil
}

// Merge merges branch into the current branch. Returns ErrMergeConflict when
// git reports conflicts, leaving the merge in progress for resolution.
func (r *Repo) Merge(ctx context.Context, branch string) error {
	output, err := r.run(ctx, "merge", "--no-edit", branch)
	if err != nil {
		if strings.Contains(output, "CONFLICT") || strings.Contains(output, "Automatic merge failed") {
			return fmt.Errorf("merging %s: %w", branch, ErrMergeConflict)
		}
		return err
	}
	return nil
}

// AbortMerge abandons an in-progress merge.
func (r *Repo) AbortMerge(ctx context.Context) error {
	_, err := r.run(ctx, "merge", "--abort")
	return err
}

// ConflictedFiles lists paths with unresolved merge conflicts.
func (r *Repo) ConflictedFiles(ctx context.Context) ([]string, error) {
	output, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Push pushes branch to the remote. Returns ErrPushRejected when the remote
// refuses a non-fast-forward update; the caller fetches, merges, and retries.
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	output, err := r.run(ctx, "push", remote, branch)
	if err != nil {
		if strings.Contains(output, "[rejected]") ||
			strings.Contains(output, "non-fast-forward") ||
			strings.Contains(output, "fetch first") {
			return fmt.Errorf("pushing %s to %s: %w", branch, remote, ErrPushRejected)
		}
		return err
	}
	return nil
}
