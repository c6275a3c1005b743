package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/goleak"

	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/store"
	"github.com/tessera-ai/tessera/internal/testutil"
)

var errNotDone = errors.New("not done yet")

func TestNewDispatcherRejectsBadWorkerCount(t *testing.T) {
	if _, err := NewDispatcher(nil, 0, time.Second, log.NewNop()); err == nil {
		t.Error("NewDispatcher(0 workers) error = nil, want error")
	}
}

func TestDispatcherDrainsQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	orgID, userID := seedIdentity(t, db.Pool)
	q := newTestQueue(db, successWorker(2), time.Now)

	const jobs = 5
	subs := make([]Submission, 0, jobs)
	for i := 0; i < jobs; i++ {
		subs = append(subs, submitOne(t, q, orgID, userID))
	}

	// Snapshot running goroutines before the dispatcher spawns its own.
	leakOpt := goleak.IgnoreCurrent()

	d, err := NewDispatcher(q, 4, 20*time.Millisecond, log.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	d.Start(ctx)

	allDone := func() error {
		for _, sub := range subs {
			job, err := q.Job(ctx, sub.JobID)
			if err != nil {
				return backoff.Permanent(err)
			}
			if job.Status != store.JobCompleted {
				return errNotDone
			}
		}
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 100)
	if err := backoff.Retry(allDone, policy); err != nil {
		t.Fatalf("jobs did not complete: %v", err)
	}

	d.Stop()
	d.Stop() // second call is a no-op

	goleak.VerifyNone(t, leakOpt)
}
