// Package sqlite contains the SQLite repository for endgame run
// results.
//
// All database read/write operations for per-path endgame outcomes
// belong here rather than in the numeric packages. This keeps the
// extrapolation and convergence code free of SQL noise and makes it
// easy to swap storage backends for testing.
package sqlite
