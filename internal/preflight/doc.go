// Package preflight provides readiness checks for the binaries, directories,
// and credentials the worker and API server depend on.
//
// These checks run in two contexts:
//   - "reelswap worker" and "reelswap serve" call RunAll for their role at
//     startup and refuse to start when a required check fails, rather than
//     failing every job later.
//   - "reelswap preflight" prints every check for the operator.
//
// Provider checks only confirm that credentials are present; they never
// spend API quota.
package preflight
