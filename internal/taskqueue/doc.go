// Package taskqueue is an at-least-once work queue stored in the same SQLite
// file as the job ledger.
//
// Workers claim the oldest available task with a single UPDATE ... RETURNING,
// which both marks the task running and grants a lease. A worker that dies
// mid-task simply stops extending its lease; ReclaimExpired hands the task to
// the next worker. Failed deliveries are retried with exponential backoff up to
// a per-task attempt budget and then parked in the dead state.
package taskqueue
