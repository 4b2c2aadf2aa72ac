// Package watch tails the activity log, turning the append-only store into
// a live view of what the swarm is doing.
package watch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/pkg/ticket"
)

// Follower polls the activity log and writes new entries as they appear.
type Follower struct {
	store    *ticket.Store
	criteria filter.Criteria
	interval time.Duration

	// lastID is the newest entry already emitted.
	lastID int64
}

// NewFollower creates a follower starting from the current end of the log;
// only activity after that point is emitted.
func NewFollower(ctx context.Context, store *ticket.Store, criteria filter.Criteria, interval time.Duration) (*Follower, error) {
	if interval <= 0 {
		interval = time.Second
	}
	latest, err := store.Log(ctx, 1)
	if err != nil {
		return nil, err
	}
	var lastID int64
	if len(latest) > 0 {
		lastID = latest[0].ID
	}
	return &Follower{store: store, criteria: criteria, interval: interval, lastID: lastID}, nil
}

// Run polls until ctx is cancelled, writing one formatted line per matching
// entry to out.
func (f *Follower) Run(ctx context.Context, out io.Writer) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if err := f.emit(ctx, out); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// emit writes everything newer than lastID.
func (f *Follower) emit(ctx context.Context, out io.Writer) error {
	entries, err := f.store.LogAfter(ctx, f.lastID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		f.lastID = e.ID
		if !f.criteria.Matches(e) {
			continue
		}
		if _, err := fmt.Fprintln(out, FormatEntry(e)); err != nil {
			return err
		}
	}
	return nil
}

// FormatEntry renders one activity entry as a watch line.
func FormatEntry(e ticket.ActivityEntry) string {
	who := e.AgentID
	if who == "" {
		who = "-"
	}
	line := fmt.Sprintf("%s  #%-5d %-12s %s", e.CreatedAt, e.TicketID, e.Action, who)
	if e.Detail != "" {
		line += "  " + e.Detail
	}
	return line
}
