package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store provides the ticket queue operations over a SQLite database.
// A Store is safe for concurrent use; cross-process safety comes from SQLite's
// own locking plus the transaction discipline of each operation.
type Store struct {
	db *sql.DB
}

// openDB opens the SQLite database with Warren's required pragmas.
// WAL keeps readers unblocked while workers write; _txlock=immediate makes
// every write transaction take the write lock up front, which is what
// serializes concurrent ClaimNext callers.
func openDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(10000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Open opens the ticket database at path and verifies its schema version.
// Returns an error if the database was never migrated, or if its schema is
// older or newer than this build of the code.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database. Implements io.Closer.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// querier is the subset of *sql.DB / *sql.Tx the read helpers need.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// logActivity appends one audit row inside the caller's transaction.
// ticketID 0 and agentID "" are stored as NULL.
func logActivity(ctx context.Context, q querier, ticketID int64, agentID, action, detail string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO activity_log (ticket_id, agent_id, action, detail) VALUES (?, ?, ?, ?)",
		nullableID(ticketID), nullableString(agentID), action, nullableString(detail))
	if err != nil {
		return fmt.Errorf("failed to write activity log: %w", err)
	}
	return nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// truncateDetail caps free-text activity detail; comment bodies can be long
// but the audit trail only needs the head.
func truncateDetail(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max]
}

const ticketColumns = "id, title, COALESCE(description, ''), status, COALESCE(assigned_to, ''), COALESCE(parent_id, 0), created_by, COALESCE(type, 'task'), created_at, updated_at"

func scanTicket(row interface{ Scan(...any) error }) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.AssignedTo,
		&t.ParentID, &t.CreatedBy, &t.Type, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// getTicket fetches one ticket. Returns ErrNotFound if the id does not exist.
func getTicket(ctx context.Context, q querier, id int64) (*Ticket, error) {
	t, err := scanTicket(q.QueryRowContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket %d: %w", id, err)
	}
	return t, nil
}

func ticketExists(ctx context.Context, q querier, id int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM tickets WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ticket %d: %w", id, err)
	}
	return true, nil
}

// wouldCycle reports whether adding the edge (id blocked-by by) would create a
// cycle in the blocking graph, i.e. whether by already depends on id,
// directly or transitively.
func wouldCycle(ctx context.Context, q querier, id, by int64) (bool, error) {
	if id == by {
		return true, nil
	}
	visited := map[int64]bool{by: true}
	frontier := []int64{by}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		rows, err := q.QueryContext(ctx,
			"SELECT blocked_by FROM blockers WHERE ticket_id = ?", current)
		if err != nil {
			return false, fmt.Errorf("failed to walk blocking graph: %w", err)
		}
		for rows.Next() {
			var next int64
			if err := rows.Scan(&next); err != nil {
				rows.Close()
				return false, fmt.Errorf("failed to walk blocking graph: %w", err)
			}
			if next == id {
				rows.Close()
				return true, nil
			}
			if !visited[next] {
				visited[next] = true
				frontier = append(frontier, next)
			}
		}
		if err := rows.Close(); err != nil {
			return false, fmt.Errorf("failed to walk blocking graph: %w", err)
		}
	}
	return false, nil
}

// inTx runs fn inside a write transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Create inserts a new ticket and returns its id.
//
// When req.Type is empty a contextual default applies: a ticket assigned to a
// human with a blocker is a question, assigned to a human without one is a
// proposal, anything else is a task. Referenced parent and blocker tickets
// must exist, and blocker edges that would introduce a cycle are rejected.
func (s *Store) Create(ctx context.Context, req CreateRequest) (int64, error) {
	if strings.TrimSpace(req.Title) == "" {
		return 0, &ValidationError{Field: "title", Reason: "cannot be empty"}
	}
	if req.CreatedBy == "" {
		return 0, &ValidationError{Field: "created_by", Reason: "cannot be empty"}
	}

	ticketType := req.Type
	if ticketType == "" {
		switch {
		case req.AssignedTo == HumanOwner && len(req.BlockedBy) > 0:
			ticketType = TypeQuestion
		case req.AssignedTo == HumanOwner:
			ticketType = TypeProposal
		default:
			ticketType = TypeTask
		}
	}
	if err := ticketType.Validate(); err != nil {
		return 0, &ValidationError{Field: "type", Reason: err.Error()}
	}

	var newID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if req.ParentID != 0 {
			exists, err := ticketExists(ctx, tx, req.ParentID)
			if err != nil {
				return err
			}
			if !exists {
				return &ValidationError{Field: "parent_id", Reason: fmt.Sprintf("ticket %d not found", req.ParentID)}
			}
		}
		// Only a blocker that is not yet done holds the new ticket in
		// blocked; an edge to a done ticket is already resolved.
		status := StatusOpen
		for _, by := range req.BlockedBy {
			var byStatus string
			err := tx.QueryRowContext(ctx,
				"SELECT status FROM tickets WHERE id = ?", by).Scan(&byStatus)
			if errors.Is(err, sql.ErrNoRows) {
				return &ValidationError{Field: "blocked_by", Reason: fmt.Sprintf("ticket %d not found", by)}
			}
			if err != nil {
				return fmt.Errorf("failed to look up blocker %d: %w", by, err)
			}
			if Status(byStatus) != StatusDone {
				status = StatusBlocked
			}
		}

		res, err := tx.ExecContext(ctx,
			"INSERT INTO tickets (title, description, parent_id, assigned_to, created_by, type, status) VALUES (?, ?, ?, ?, ?, ?, ?)",
			req.Title, nullableString(req.Description), nullableID(req.ParentID),
			nullableString(req.AssignedTo), req.CreatedBy, string(ticketType), string(status))
		if err != nil {
			return fmt.Errorf("failed to insert ticket: %w", err)
		}
		newID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read new ticket id: %w", err)
		}

		for _, by := range req.BlockedBy {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO blockers (ticket_id, blocked_by) VALUES (?, ?)", newID, by); err != nil {
				return fmt.Errorf("failed to insert blocker edge: %w", err)
			}
			if err := logActivity(ctx, tx, newID, req.CreatedBy, "blocker_added",
				fmt.Sprintf("Blocked by ticket #%d", by)); err != nil {
				return err
			}
		}

		if req.BlockDependentsOf != 0 {
			exists, err := ticketExists(ctx, tx, req.BlockDependentsOf)
			if err != nil {
				return err
			}
			if !exists {
				return &ValidationError{Field: "block_dependents_of", Reason: fmt.Sprintf("ticket %d not found", req.BlockDependentsOf)}
			}
			rows, err := tx.QueryContext(ctx,
				"SELECT ticket_id FROM blockers WHERE blocked_by = ?", req.BlockDependentsOf)
			if err != nil {
				return fmt.Errorf("failed to find dependents: %w", err)
			}
			var dependents []int64
			for rows.Next() {
				var depID int64
				if err := rows.Scan(&depID); err != nil {
					rows.Close()
					return fmt.Errorf("failed to find dependents: %w", err)
				}
				dependents = append(dependents, depID)
			}
			if err := rows.Close(); err != nil {
				return fmt.Errorf("failed to find dependents: %w", err)
			}
			for _, depID := range dependents {
				if depID == newID {
					continue
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO blockers (ticket_id, blocked_by) VALUES (?, ?)", depID, newID); err != nil {
					return fmt.Errorf("failed to block dependent %d: %w", depID, err)
				}
				if err := logActivity(ctx, tx, depID, req.CreatedBy, "blocker_added",
					fmt.Sprintf("Blocked by #%d (dependent of #%d)", newID, req.BlockDependentsOf)); err != nil {
					return err
				}
			}
		}

		return logActivity(ctx, tx, newID, req.CreatedBy, "created", req.Title)
	})
	if err != nil {
		return 0, err
	}
	return newID, nil
}

// ClaimNext atomically claims the lowest-id claimable ticket for owner and
// returns its detail. A ticket is claimable when it is open, unassigned, and
// every ticket it is blocked by is done. Returns ErrNotFound when nothing
// qualifies.
//
// The selection and the assignment run in one write transaction, and the
// update re-checks the open/unassigned predicate so that two concurrent
// callers can never claim the same ticket.
func (s *Store) ClaimNext(ctx context.Context, owner string) (*Detail, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner", Reason: "cannot be empty"}
	}

	var claimedID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM tickets
			WHERE status = 'open'
			  AND assigned_to IS NULL
			  AND id NOT IN (
			      SELECT b.ticket_id
			      FROM blockers b
			      JOIN tickets t ON t.id = b.blocked_by
			      WHERE t.status != 'done'
			  )
			ORDER BY id ASC
			LIMIT 1`).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no claimable ticket: %w", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to select claimable ticket: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE tickets SET assigned_to = ?, status = 'in_progress', updated_at = datetime('now') WHERE id = ? AND status = 'open' AND assigned_to IS NULL",
			owner, id)
		if err != nil {
			return fmt.Errorf("failed to claim ticket %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to claim ticket %d: %w", id, err)
		}
		if affected != 1 {
			return fmt.Errorf("ticket %d claimed concurrently: %w", id, ErrNotFound)
		}

		claimedID = id
		return logActivity(ctx, tx, id, owner, "claimed", fmt.Sprintf("Claimed by %s", owner))
	})
	if err != nil {
		return nil, err
	}
	return s.Show(ctx, claimedID)
}

// Unclaim releases a ticket back to the open pool, clearing its assignee.
// Idempotent on an already-open ticket.
func (s *Store) Unclaim(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tickets SET assigned_to = NULL, status = 'open', updated_at = datetime('now') WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to unclaim ticket %d: %w", id, err)
		}
		detail := "Released"
		if t.AssignedTo != "" {
			detail = fmt.Sprintf("Released by %s", t.AssignedTo)
		}
		return logActivity(ctx, tx, id, t.AssignedTo, "unclaimed", detail)
	})
}

// Block adds a blocking edge: id cannot be claimed until by is done. The
// blocked ticket loses its assignee (work cannot continue while blocked).
// Rejects self-edges, duplicate edges, and edges that would introduce a cycle
// in the blocking graph.
func (s *Store) Block(ctx context.Context, id, by int64) error {
	if id == by {
		return &ValidationError{Field: "blocked_by", Reason: "ticket cannot block itself"}
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		var byStatus string
		err = tx.QueryRowContext(ctx,
			"SELECT status FROM tickets WHERE id = ?", by).Scan(&byStatus)
		if errors.Is(err, sql.ErrNoRows) {
			return &ValidationError{Field: "blocked_by", Reason: fmt.Sprintf("ticket %d not found", by)}
		}
		if err != nil {
			return fmt.Errorf("failed to look up blocker %d: %w", by, err)
		}

		cyclic, err := wouldCycle(ctx, tx, id, by)
		if err != nil {
			return err
		}
		if cyclic {
			return &ValidationError{Field: "blocked_by",
				Reason: fmt.Sprintf("blocking #%d on #%d would create a dependency cycle", id, by)}
		}

		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO blockers (ticket_id, blocked_by) VALUES (?, ?)", id, by)
		if err != nil {
			return fmt.Errorf("failed to insert blocker edge: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to insert blocker edge: %w", err)
		}
		if affected == 0 {
			return &ValidationError{Field: "blocked_by",
				Reason: fmt.Sprintf("ticket %d is already blocked by %d", id, by)}
		}

		if err := logActivity(ctx, tx, id, "", "blocker_added",
			fmt.Sprintf("Blocked by #%d", by)); err != nil {
			return err
		}

		// An edge to a done ticket is already resolved; the blocked ticket
		// keeps its status and owner.
		if Status(byStatus) == StatusDone {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tickets SET assigned_to = NULL, status = 'blocked', updated_at = datetime('now') WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to mark ticket %d blocked: %w", id, err)
		}
		if t.AssignedTo != "" {
			return logActivity(ctx, tx, id, t.AssignedTo, "unclaimed",
				fmt.Sprintf("Auto-released (blocked by #%d)", by))
		}
		return nil
	})
}

// Unblock removes a blocking edge. When no unresolved edges remain the
// ticket returns to open; it is not handed back to its previous owner.
func (s *Store) Unblock(ctx context.Context, id, by int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM blockers WHERE ticket_id = ? AND blocked_by = ?", id, by)
		if err != nil {
			return fmt.Errorf("failed to remove blocker edge: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to remove blocker edge: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("no blocker edge from %d to %d: %w", id, by, ErrNotFound)
		}

		if err := logActivity(ctx, tx, id, "", "blocker_removed",
			fmt.Sprintf("Unblocked from #%d", by)); err != nil {
			return err
		}

		remaining, err := unresolvedBlockers(ctx, tx, id)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE tickets SET status = 'open', updated_at = datetime('now') WHERE id = ? AND status = 'blocked'", id); err != nil {
				return fmt.Errorf("failed to reopen ticket %d: %w", id, err)
			}
		}
		return nil
	})
}

// MarkReady sets a ticket to ready and clears its assignee. Ready means the
// work is integrated into mainline and awaits final confirmation; the ticket
// still counts as unresolved for any tickets blocked on it.
func (s *Store) MarkReady(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tickets SET status = 'ready', assigned_to = NULL, updated_at = datetime('now') WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to mark ticket %d ready: %w", id, err)
		}
		return logActivity(ctx, tx, id, t.AssignedTo, "completed",
			fmt.Sprintf("Ticket #%d marked work complete", id))
	})
}

// Complete sets a ticket to done, the terminal state that resolves blocking
// edges, and reopens any dependents this left with no unresolved blockers.
// Returns ErrInvalidState if the ticket is already done.
func (s *Store) Complete(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status == StatusDone {
			return fmt.Errorf("ticket %d is already done: %w", id, ErrInvalidState)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tickets SET status = 'done', updated_at = datetime('now') WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to complete ticket %d: %w", id, err)
		}
		if err := logActivity(ctx, tx, id, t.AssignedTo, "done",
			fmt.Sprintf("Ticket #%d marked done", id)); err != nil {
			return err
		}
		return reopenUnblockedDependents(ctx, tx, id, t.AssignedTo)
	})
}

// reopenUnblockedDependents returns blocked tickets to the open pool when
// completing doneID resolved their last outstanding blocker. Without this a
// blocked ticket would stay blocked forever: ClaimNext only considers open
// tickets, and the blocking edges themselves are kept for history.
func reopenUnblockedDependents(ctx context.Context, tx *sql.Tx, doneID int64, actor string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT b.ticket_id
		FROM blockers b
		JOIN tickets d ON d.id = b.ticket_id
		WHERE b.blocked_by = ?
		  AND d.status = 'blocked'
		  AND NOT EXISTS (
		      SELECT 1 FROM blockers b2
		      JOIN tickets t2 ON t2.id = b2.blocked_by
		      WHERE b2.ticket_id = b.ticket_id AND t2.status != 'done'
		  )`, doneID)
	if err != nil {
		return fmt.Errorf("failed to find unblocked dependents: %w", err)
	}
	var dependents []int64
	for rows.Next() {
		var depID int64
		if err := rows.Scan(&depID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to find unblocked dependents: %w", err)
		}
		dependents = append(dependents, depID)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("failed to find unblocked dependents: %w", err)
	}

	for _, depID := range dependents {
		if _, err := tx.ExecContext(ctx,
			"UPDATE tickets SET status = 'open', updated_at = datetime('now') WHERE id = ? AND status = 'blocked'", depID); err != nil {
			return fmt.Errorf("failed to reopen ticket %d: %w", depID, err)
		}
		if err := logActivity(ctx, tx, depID, actor, "unblocked",
			fmt.Sprintf("Reopened, last blocker #%d done", doneID)); err != nil {
			return err
		}
	}
	return nil
}

// unresolvedBlockers counts the blocking edges of id whose blocker ticket is
// not yet done.
func unresolvedBlockers(ctx context.Context, tx *sql.Tx, id int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM blockers b
		JOIN tickets t ON t.id = b.blocked_by
		WHERE b.ticket_id = ? AND t.status != 'done'`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved blockers: %w", err)
	}
	return n, nil
}

// Comment appends a comment to a ticket. Comments are never mutated or
// deleted; the activity log records a truncated copy of the body.
func (s *Store) Comment(ctx context.Context, id int64, author, body string) error {
	if author == "" {
		return &ValidationError{Field: "author", Reason: "cannot be empty"}
	}
	if body == "" {
		return &ValidationError{Field: "body", Reason: "cannot be empty"}
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := ticketExists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("ticket %d: %w", id, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO comments (ticket_id, author, body) VALUES (?, ?, ?)", id, author, body); err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}
		return logActivity(ctx, tx, id, author, "commented", truncateDetail(body))
	})
}

// Comments returns a ticket's comments in creation order.
func (s *Store) Comments(ctx context.Context, id int64) ([]Comment, error) {
	exists, err := ticketExists(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	return queryComments(ctx, s.db, id)
}

func queryComments(ctx context.Context, q querier, id int64) ([]Comment, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, ticket_id, author, body, created_at FROM comments WHERE ticket_id = ? ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to read comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to read comments: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// Update applies the non-nil fields of req to a ticket. Done tickets are
// immutable. Status and type must be valid enum values, and status may not
// be set to done here: Complete is the only path to done so the transition
// is always logged as such.
func (s *Store) Update(ctx context.Context, id int64, req UpdateRequest) error {
	if req.Status != nil {
		if err := req.Status.Validate(); err != nil {
			return &ValidationError{Field: "status", Reason: err.Error()}
		}
		if *req.Status == StatusDone {
			return &ValidationError{Field: "status", Reason: "cannot set done directly, use complete"}
		}
	}
	if req.Type != nil {
		if err := req.Type.Validate(); err != nil {
			return &ValidationError{Field: "type", Reason: err.Error()}
		}
	}

	var sets []string
	var params []any
	var changes []string
	if req.Title != nil {
		sets = append(sets, "title = ?")
		params = append(params, *req.Title)
		changes = append(changes, fmt.Sprintf("title -> %s", *req.Title))
	}
	if req.Description != nil {
		sets = append(sets, "description = ?")
		params = append(params, *req.Description)
		changes = append(changes, "description updated")
	}
	if req.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		params = append(params, nullableString(*req.AssignedTo))
		changes = append(changes, fmt.Sprintf("assigned_to -> %s", *req.AssignedTo))
	}
	if req.Status != nil {
		sets = append(sets, "status = ?")
		params = append(params, string(*req.Status))
		changes = append(changes, fmt.Sprintf("status -> %s", *req.Status))
	}
	if req.Type != nil {
		sets = append(sets, "type = ?")
		params = append(params, string(*req.Type))
		changes = append(changes, fmt.Sprintf("type -> %s", *req.Type))
	}
	if len(sets) == 0 {
		return &ValidationError{Reason: "nothing to update"}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status == StatusDone {
			return fmt.Errorf("ticket %d is done and immutable: %w", id, ErrInvalidState)
		}
		query := "UPDATE tickets SET " + strings.Join(sets, ", ") + ", updated_at = datetime('now') WHERE id = ?"
		if _, err := tx.ExecContext(ctx, query, append(params, id)...); err != nil {
			return fmt.Errorf("failed to update ticket %d: %w", id, err)
		}
		return logActivity(ctx, tx, id, "", "updated", strings.Join(changes, "; "))
	})
}

// Get fetches a single ticket without its relations.
func (s *Store) Get(ctx context.Context, id int64) (*Ticket, error) {
	return getTicket(ctx, s.db, id)
}

// List returns tickets matching the filter in id order. An empty filter
// returns everything except done tickets.
func (s *Store) List(ctx context.Context, f Filter) ([]Ticket, error) {
	query := "SELECT " + ticketColumns + " FROM tickets"
	conditions, params, err := filterClauses(f)
	if err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list tickets: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// Count returns the number of tickets matching the filter.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	query := "SELECT COUNT(*) FROM tickets"
	conditions, params, err := filterClauses(f)
	if err != nil {
		return 0, err
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, params...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return count, nil
}

func filterClauses(f Filter) ([]string, []any, error) {
	var conditions []string
	var params []any
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			if err := st.Validate(); err != nil {
				return nil, nil, &ValidationError{Field: "status", Reason: err.Error()}
			}
			placeholders[i] = "?"
			params = append(params, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ",")+")")
	} else {
		conditions = append(conditions, "status != 'done'")
	}
	if f.AssignedTo != "" {
		conditions = append(conditions, "assigned_to = ?")
		params = append(params, f.AssignedTo)
	}
	return conditions, params, nil
}

// Show returns a ticket with its blocking edges, dependents, children, and
// comment thread.
func (s *Store) Show(ctx context.Context, id int64) (*Detail, error) {
	t, err := getTicket(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	d := &Detail{Ticket: *t}
	if d.BlockedBy, err = queryIDs(ctx, s.db,
		"SELECT blocked_by FROM blockers WHERE ticket_id = ? ORDER BY blocked_by", id); err != nil {
		return nil, err
	}
	if d.Blocks, err = queryIDs(ctx, s.db,
		"SELECT ticket_id FROM blockers WHERE blocked_by = ? ORDER BY ticket_id", id); err != nil {
		return nil, err
	}
	if d.Children, err = queryIDs(ctx, s.db,
		"SELECT id FROM tickets WHERE parent_id = ? ORDER BY id", id); err != nil {
		return nil, err
	}
	if d.Comments, err = queryComments(ctx, s.db, id); err != nil {
		return nil, err
	}
	return d, nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query related tickets: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to query related tickets: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Log returns the most recent activity entries, newest first.
func (s *Store) Log(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, COALESCE(ticket_id, 0), COALESCE(agent_id, ''), action, COALESCE(detail, ''), created_at FROM activity_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.TicketID, &e.AgentID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to read activity log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LogAfter returns activity entries with an id greater than afterID, oldest
// first. Callers tail the log by feeding the last id they saw back in.
func (s *Store) LogAfter(ctx context.Context, afterID int64) ([]ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, COALESCE(ticket_id, 0), COALESCE(agent_id, ''), action, COALESCE(detail, ''), created_at FROM activity_log WHERE id > ? ORDER BY id", afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.TicketID, &e.AgentID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to read activity log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReleaseOrphaned releases every in-progress ticket held by a non-human
// owner, returning the released ids. Run once at fleet startup to recover
// ownership abandoned by crashed workers; reason is recorded on each
// released ticket.
func (s *Store) ReleaseOrphaned(ctx context.Context, reason string) ([]int64, error) {
	if reason == "" {
		reason = "Auto-released on swarm start"
	}
	var released []int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT id, assigned_to FROM tickets WHERE assigned_to IS NOT NULL AND assigned_to != ? AND status = 'in_progress' ORDER BY id",
			HumanOwner)
		if err != nil {
			return fmt.Errorf("failed to find orphaned tickets: %w", err)
		}
		type orphan struct {
			id    int64
			owner string
		}
		var orphans []orphan
		for rows.Next() {
			var o orphan
			if err := rows.Scan(&o.id, &o.owner); err != nil {
				rows.Close()
				return fmt.Errorf("failed to find orphaned tickets: %w", err)
			}
			orphans = append(orphans, o)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("failed to find orphaned tickets: %w", err)
		}

		for _, o := range orphans {
			if _, err := tx.ExecContext(ctx,
				"UPDATE tickets SET assigned_to = NULL, status = 'open', updated_at = datetime('now') WHERE id = ?", o.id); err != nil {
				return fmt.Errorf("failed to release ticket %d: %w", o.id, err)
			}
			if err := logActivity(ctx, tx, o.id, o.owner, "unclaimed", reason); err != nil {
				return err
			}
			released = append(released, o.id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}
