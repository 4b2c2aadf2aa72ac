package ticket

import "fmt"

// Ticket represents a single unit of work in the queue.
// IDs are monotonic integers assigned by the store at creation; a ticket is
// never deleted, only moved through its status lifecycle.
type Ticket struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	Type        Type   `json:"type"`
	AssignedTo  string `json:"assigned_to,omitempty"` // Opaque owner identifier; empty when unowned
	ParentID    int64  `json:"parent_id,omitempty"`   // 0 when the ticket has no parent
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"` // SQLite datetime('now') text, UTC
	UpdatedAt   string `json:"updated_at"`
}

// Status is the closed set of ticket lifecycle states.
type Status string

const (
	// StatusOpen means the ticket is unowned and eligible for claiming
	// (subject to its blocking edges).
	StatusOpen Status = "open"

	// StatusInProgress means exactly one owner holds the ticket.
	StatusInProgress Status = "in_progress"

	// StatusBlocked means the ticket has at least one unresolved blocking edge.
	StatusBlocked Status = "blocked"

	// StatusReady means the work is integrated into mainline and awaits final
	// human confirmation. Ready tickets no longer block claiming semantics but
	// still count as unresolved for blocking edges.
	StatusReady Status = "ready"

	// StatusDone is the terminal state. Only done tickets resolve blocking edges.
	StatusDone Status = "done"
)

// Type classifies how a ticket entered the system and who should act on it.
type Type string

const (
	// TypeTask is ordinary claimable work.
	TypeTask Type = "task"

	// TypeQuestion is a clarification request routed to a human.
	TypeQuestion Type = "question"

	// TypeProposal is a worker-generated suggestion produced when the queue
	// ran dry, routed to a human for triage.
	TypeProposal Type = "proposal"

	// TypeVerify asks a human to confirm completed work before dependents unblock.
	TypeVerify Type = "verify"
)

// HumanOwner is the conventional assignee for tickets that require a person.
// The startup sweep never releases tickets held by this owner.
const HumanOwner = "human"

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusReady, StatusDone:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// Validate checks if the Type is a valid enum value.
func (t Type) Validate() error {
	switch t {
	case TypeTask, TypeQuestion, TypeProposal, TypeVerify:
		return nil
	default:
		return fmt.Errorf("unknown ticket type: %q", t)
	}
}

// Comment is an append-only note attached to a ticket.
type Comment struct {
	ID        int64  `json:"id"`
	TicketID  int64  `json:"ticket_id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// ActivityEntry is one row of the append-only audit trail. TicketID and
// AgentID may be zero/empty for system-wide entries.
type ActivityEntry struct {
	ID        int64  `json:"id"`
	TicketID  int64  `json:"ticket_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Action    string `json:"action"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Detail is a ticket together with its relations, as returned by Show and
// ClaimNext.
type Detail struct {
	Ticket
	BlockedBy []int64   `json:"blocked_by"` // Unresolved or resolved edges pointing at this ticket's prerequisites
	Blocks    []int64   `json:"blocks"`     // Tickets that list this one as a prerequisite
	Children  []int64   `json:"children"`   // Tickets whose parent_id is this ticket
	Comments  []Comment `json:"comments"`
}

// CreateRequest carries the fields for Store.Create. Title and CreatedBy are
// required; everything else is optional.
type CreateRequest struct {
	Title       string
	Description string
	ParentID    int64
	AssignedTo  string
	BlockedBy   []int64
	Type        Type // Empty selects the contextual default, see Create
	CreatedBy   string

	// BlockDependentsOf, when non-zero, additionally blocks every ticket
	// currently blocked by the named ticket on the new ticket. Used when
	// inserting a verification step in front of existing dependents.
	BlockDependentsOf int64
}

// UpdateRequest carries optional field changes for Store.Update. Nil pointers
// leave the field untouched.
type UpdateRequest struct {
	Title       *string
	Description *string
	AssignedTo  *string
	Status      *Status
	Type        *Type
}

// Filter narrows List and Count. An empty Statuses slice means "everything
// except done", matching the operator's usual view of the queue.
type Filter struct {
	Statuses   []Status
	AssignedTo string
}
