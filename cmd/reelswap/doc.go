// Package main hosts the reelswap CLI entrypoint and command graph.
//
// One binary plays every role: "worker" drains the task queue, "serve" runs
// the HTTP front door, and the remaining commands read or repair the shared
// SQLite ledger directly for operators (submit, status, jobs, tasks, purge,
// preflight, config).
//
// Keep this package lean: behaviour lives in internal packages and commands
// only wire collaborators together and render output.
package main
