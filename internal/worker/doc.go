// Package worker pulls tasks from the SQLite task queue and runs them through
// the pipeline.
//
// A Worker claims tasks while fewer than MaxJobs are in flight, holds each
// claim with a lease heartbeat, bounds each invocation by JobTimeout and
// settles the task from the handler's result kind. A sweeper running beside
// the claim loop returns lapsed leases to the queue, dead-letters tasks whose
// attempts are spent, and purges expired ledger and queue rows.
//
// Stopping a worker stops claiming immediately but lets in-flight tasks run
// to completion.
package worker
