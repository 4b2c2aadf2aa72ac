package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// verifyScript is the project-specific verification gate, run from the repo
// root when present. Exit status decides pass or fail.
const verifyScript = "verify.sh"

// verifyTimeout bounds one verification run.
const verifyTimeout = 10 * time.Minute

// conflictMarkers are the unresolved-merge markers no touched file may carry
// past verification.
var conflictMarkers = []string{"<<<<<<<", "=======", ">>>>>>>"}

// verify runs the verification gate: the project's verify.sh if present,
// then a conflict-marker scan over every changed, untracked, and
// branch-committed file. The returned error carries enough detail to feed
// the fix-mode prompt.
func (e *Engine) verify(ctx context.Context) error {
	script := filepath.Join(e.repo.Dir(), verifyScript)
	if _, err := os.Stat(script); err == nil {
		runCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, script)
		cmd.Dir = e.repo.Dir()
		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s failed: %v\n%s", verifyScript, err, tail(output.String(), 8000))
		}
	}

	files, err := e.repo.ChangedFiles(ctx)
	if err != nil {
		return err
	}
	// Work the capability already committed is not in the working-copy
	// status, so scan the branch diff as well.
	committed, err := e.repo.DiffFiles(ctx, e.cfg.Mainline)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(files))
	for _, file := range files {
		seen[file] = true
	}
	for _, file := range committed {
		if !seen[file] {
			files = append(files, file)
		}
	}
	tainted, err := e.scanConflictMarkers(files)
	if err != nil {
		return err
	}
	if len(tainted) > 0 {
		return fmt.Errorf("unresolved conflict markers in: %s", strings.Join(tainted, ", "))
	}
	return nil
}

// scanConflictMarkers returns the subset of files containing a merge marker
// at the start of a line. Files that vanished (deletions) are skipped.
func (e *Engine) scanConflictMarkers(files []string) ([]string, error) {
	var tainted []string
	for _, file := range files {
		content, err := os.ReadFile(filepath.Join(e.repo.Dir(), file))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", file, err)
		}
		for _, line := range strings.Split(string(content), "\n") {
			marked := false
			for _, marker := range conflictMarkers {
				if strings.HasPrefix(line, marker) {
					marked = true
					break
				}
			}
			if marked {
				tainted = append(tainted, file)
				break
			}
		}
	}
	return tainted, nil
}
