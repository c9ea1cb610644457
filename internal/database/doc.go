// Package database opens the SQLite file shared by the job ledger and the
// task queue.
//
// It applies WAL and busy-timeout pragmas, creates the embedded schema under
// a cross-process file lock so a worker and the HTTP front door can start at
// the same time, and exposes busy-aware Exec and transaction helpers. Times
// are stored as Unix milliseconds so expiry comparisons happen in SQL.
package database
