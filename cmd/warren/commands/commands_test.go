package commands

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/pkg/ticket"
)

// runCLI executes the root command with the given arguments against a
// shared temp database.
func runCLI(t *testing.T, db string, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append(args, "--db", db))
	return rootCmd.Execute()
}

func testDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "warren.db")
	require.NoError(t, runCLI(t, db, "migrate"))
	return db
}

func openStore(t *testing.T, db string) *ticket.Store {
	t.Helper()
	store, err := ticket.Open(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateListCompleteFlow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, runCLI(t, db, "create", "first ticket", "--created-by", "human"))
	require.NoError(t, runCLI(t, db, "create", "second ticket", "--created-by", "human", "--type", "task"))

	store := openStore(t, db)
	tickets, err := store.List(ctx, ticket.Filter{})
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "first ticket", tickets[0].Title)

	require.NoError(t, runCLI(t, db, "complete", "1"))
	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusDone, got.Status)

	// Done tickets drop out of the default listing.
	tickets, err = store.List(ctx, ticket.Filter{})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, int64(2), tickets[0].ID)
}

func TestClaimNextCommand(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, runCLI(t, db, "create", "claimable", "--created-by", "human", "--type", "task"))
	require.NoError(t, runCLI(t, db, "claim-next", "--agent", "kit-1"))

	store := openStore(t, db)
	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusInProgress, got.Status)
	assert.Equal(t, "kit-1", got.AssignedTo)

	// Nothing left to claim.
	err = runCLI(t, db, "claim-next", "--agent", "kit-2")
	require.Error(t, err)
	assert.True(t, ticket.IsNotFound(err))
}

func TestBlockUnblockCommands(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, runCLI(t, db, "create", "dependency", "--created-by", "human", "--type", "task"))
	require.NoError(t, runCLI(t, db, "create", "dependent", "--created-by", "human", "--type", "task"))
	require.NoError(t, runCLI(t, db, "block", "2", "1"))

	store := openStore(t, db)
	got, err := store.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusBlocked, got.Status)

	// A reverse edge would close a cycle.
	err = runCLI(t, db, "block", "1", "2")
	require.Error(t, err)
	assert.True(t, ticket.IsValidation(err))

	require.NoError(t, runCLI(t, db, "unblock", "2", "1"))
	got, err = store.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, got.Status)
}

func TestCommentCommand(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, runCLI(t, db, "create", "discussed", "--created-by", "human", "--type", "task"))
	require.NoError(t, runCLI(t, db, "comment", "1", "looks good", "--by", "reviewer"))

	store := openStore(t, db)
	comments, err := store.Comments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "reviewer", comments[0].Author)
	assert.Equal(t, "looks good", comments[0].Body)
}

func TestBadArguments(t *testing.T) {
	db := testDB(t)

	err := runCLI(t, db, "show", "not-a-number")
	require.Error(t, err)
	assert.True(t, ticket.IsValidation(err))

	err = runCLI(t, db, "complete", "999")
	require.Error(t, err)
	assert.True(t, ticket.IsNotFound(err))
}

func TestUsageErrorsAreValidationErrors(t *testing.T) {
	db := testDB(t)

	cases := map[string][]string{
		"unknown command": {"frobnicate"},
		"unknown flag":    {"list", "--bogus"},
		"missing arg":     {"show"},
		"extra arg":       {"complete", "1", "2"},
		"bad flag value":  {"create", "child", "--parent", "not-a-number"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			err := runCLI(t, db, args...)
			require.Error(t, err)
			assert.True(t, ticket.IsValidation(err), "unexpected error class: %v", err)
		})
	}
}
