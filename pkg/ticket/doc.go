// Package ticket provides the shared SQLite-backed ticket store used by all
// Warren components (the warren CLI, kit workers, and the warden supervisor).
// Tickets are the fundamental unit of work: every claim, status transition,
// blocking edge, comment, and release flows through this package's Store, and
// every mutation appends to an append-only activity log so the full history of
// a swarm run can be reconstructed after the fact.
//
// Concurrency: the store is multi-writer safe. Claiming is serialized by a
// single write transaction combined with a compare-and-swap predicate, so two
// workers can never claim the same ticket. All other mutations are single-row
// updates executed inside their own transaction together with their activity
// log entry.
package ticket
