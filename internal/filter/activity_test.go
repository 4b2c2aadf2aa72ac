package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dyluth/warren/pkg/ticket"
)

func entry(agent, action, createdAt string) ticket.ActivityEntry {
	return ticket.ActivityEntry{TicketID: 1, AgentID: agent, Action: action, CreatedAt: createdAt}
}

func TestCriteriaMatches(t *testing.T) {
	e := entry("kit-1", "claimed", "2026-08-28 12:00:00")

	assert.True(t, Criteria{}.Matches(e), "empty criteria match everything")
	assert.True(t, Criteria{AgentID: "kit-1"}.Matches(e))
	assert.False(t, Criteria{AgentID: "kit-2"}.Matches(e))
	assert.True(t, Criteria{ActionGlob: "claim*"}.Matches(e))
	assert.False(t, Criteria{ActionGlob: "block*"}.Matches(e))
	assert.True(t, Criteria{TicketID: 1}.Matches(e))
	assert.False(t, Criteria{TicketID: 2}.Matches(e))

	noon := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	assert.True(t, Criteria{Since: noon}.Matches(e), "since is inclusive")
	assert.False(t, Criteria{Since: noon.Add(time.Second)}.Matches(e))
	assert.True(t, Criteria{Until: noon.Add(time.Second)}.Matches(e))
	assert.False(t, Criteria{Until: noon}.Matches(e), "until is exclusive")

	bad := entry("kit-1", "claimed", "not a timestamp")
	assert.True(t, Criteria{}.Matches(bad))
	assert.False(t, Criteria{Since: noon}.Matches(bad), "unparseable timestamps fail time filters")
}

func TestCriteriaApply(t *testing.T) {
	entries := []ticket.ActivityEntry{
		entry("kit-1", "claimed", "2026-08-28 12:00:00"),
		entry("kit-2", "claimed", "2026-08-28 12:01:00"),
		entry("kit-1", "completed", "2026-08-28 12:02:00"),
	}

	got := Criteria{AgentID: "kit-1"}.Apply(entries)
	assert.Len(t, got, 2)
	assert.Equal(t, "claimed", got[0].Action)
	assert.Equal(t, "completed", got[1].Action)
}
