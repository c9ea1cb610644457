// Package pipeline implements the three task handlers that turn a source
// video into its reference-aware cut: split, process_clip and stitch.
//
// Handlers share no memory. Every decision is taken from ledger state, and
// the only concurrently mutated values (the job's done counter and its
// used-image set) are changed through the ledger's atomic primitives. The
// process_clip handler that moves done_count onto clip_count enqueues the
// stitch task; task identity in the queue makes that enqueue idempotent per
// split generation, so redeliveries cannot produce a second stitch.
//
// Each handler returns a Result whose Kind tells the worker how to settle
// the task: OK and Degraded acknowledge, Fatal buries the task as a dead
// letter after the job has been failed, and Retry hands the task back to
// the queue for redelivery with backoff.
package pipeline
