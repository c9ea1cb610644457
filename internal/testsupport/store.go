package testsupport

import (
	"context"
	"testing"

	"reelswap/internal/config"
	"reelswap/internal/database"
	"reelswap/internal/ledger"
	"reelswap/internal/taskqueue"
)

// MustOpenDatabase opens the SQLite database for tests and registers cleanup.
func MustOpenDatabase(t testing.TB, cfg *config.Config) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), cfg.DatabasePath())
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// MustOpenLedger returns a ledger and task queue sharing one test database.
func MustOpenLedger(t testing.TB, cfg *config.Config) (*ledger.Ledger, *taskqueue.Queue) {
	t.Helper()

	db := MustOpenDatabase(t, cfg)
	return ledger.New(db, cfg.JobTTL()), taskqueue.New(db, taskqueue.Options{
		MaxAttempts: cfg.Worker.MaxAttempts,
		TTL:         cfg.JobTTL(),
	})
}

// NewJob creates a queued job for tests.
func NewJob(t testing.TB, l *ledger.Ledger, sourceRef string) *ledger.Job {
	t.Helper()

	job, err := l.CreateJob(context.Background(), sourceRef)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}
