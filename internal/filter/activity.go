// Package filter narrows activity log output for the log and watch commands.
package filter

import (
	"path/filepath"
	"time"

	"github.com/dyluth/warren/pkg/ticket"
)

// createdAtLayout is the datetime('now') format the store writes.
const createdAtLayout = "2006-01-02 15:04:05"

// Criteria defines filtering criteria for activity entries.
// All filters are ANDed together - an entry must match ALL criteria to pass.
type Criteria struct {
	Since      time.Time // zero = no filter
	Until      time.Time // zero = no filter
	AgentID    string    // exact match, empty = no filter
	ActionGlob string    // glob pattern for the action, empty = no filter
	TicketID   int64     // 0 = no filter
}

// Matches reports whether one entry passes every criterion. Entries with an
// unparseable timestamp fail any time-bounded filter.
func (c Criteria) Matches(e ticket.ActivityEntry) bool {
	if c.AgentID != "" && e.AgentID != c.AgentID {
		return false
	}
	if c.TicketID != 0 && e.TicketID != c.TicketID {
		return false
	}
	if c.ActionGlob != "" {
		ok, err := filepath.Match(c.ActionGlob, e.Action)
		if err != nil || !ok {
			return false
		}
	}
	if !c.Since.IsZero() || !c.Until.IsZero() {
		at, err := time.ParseInLocation(createdAtLayout, e.CreatedAt, time.UTC)
		if err != nil {
			return false
		}
		if !c.Since.IsZero() && at.Before(c.Since.UTC()) {
			return false
		}
		if !c.Until.IsZero() && !at.Before(c.Until.UTC()) {
			return false
		}
	}
	return true
}

// Apply returns the entries passing Matches, preserving order.
func (c Criteria) Apply(entries []ticket.ActivityEntry) []ticket.ActivityEntry {
	var out []ticket.ActivityEntry
	for _, e := range entries {
		if c.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}
