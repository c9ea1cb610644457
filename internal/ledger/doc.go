// Package ledger is the job ledger: the durable record of every job's status,
// clip counters, per-clip outcomes, and consumed reference images.
//
// It is the only coordination point between concurrently running tasks.
// Status transitions are enforced in SQL WHERE clauses, the fan-in counter
// moves with a single UPDATE ... RETURNING, and the used-image set relies on
// INSERT OR IGNORE, so no caller ever performs check-then-act across two
// statements. Every write refreshes the row's expiry; PurgeExpired reclaims
// abandoned jobs.
//
// A job's generation increases each time split starts. Clip rows, used images,
// and fan-in increments are scoped to a generation so a redelivered split
// cannot leave the counters out of step with the clips that exist.
package ledger
