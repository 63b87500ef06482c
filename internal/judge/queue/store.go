// Package queue holds submission jobs and hands them to workers one at a time.
package queue

import (
	"context"
	"time"

	"arenaoj/internal/judge/model"
	appErr "arenaoj/pkg/errors"
)

// Store is the job queue and the live submission record.
//
// Claim moves exactly one Queued job to Running for one worker. Every later
// mutation names that worker and fails with StaleClaim once the job is no longer
// its own. Terminal jobs are never modified again.
type Store interface {
	Enqueue(ctx context.Context, sub *model.Submission) error
	// Claim returns (nil, nil) when nothing is queued.
	Claim(ctx context.Context, workerID string) (*model.Submission, error)
	// Begin records the number of test cases.
	Begin(ctx context.Context, id, workerID string, total int) error
	// Progress appends one result; ordinals must arrive in order starting at 1.
	Progress(ctx context.Context, id, workerID string, res model.TestResult) error
	Heartbeat(ctx context.Context, id, workerID string) error
	// Finish stores the terminal outcome and returns the final record.
	Finish(ctx context.Context, id, workerID string, out model.Outcome) (*model.Submission, error)
	// Release puts a claimed job back at the head of the queue with its partial results dropped.
	Release(ctx context.Context, id, workerID string) error
	// Reclaim requeues Running jobs whose heartbeat is older than staleBefore.
	Reclaim(ctx context.Context, staleBefore time.Time) ([]string, error)

	Get(ctx context.Context, id string) (*model.Submission, error)
	// Snapshot lists queued jobs in claim order followed by running jobs.
	Snapshot(ctx context.Context) ([]model.JobSummary, error)
	Depth(ctx context.Context) (int, error)
}

// Notifier is implemented by stores that can wake idle workers on enqueue.
type Notifier interface {
	// Ready returns a channel closed on the next enqueue.
	Ready() <-chan struct{}
}

func notFound(id string) error {
	return appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", id)
}

func staleClaim(id, workerID string) error {
	return appErr.Newf(appErr.StaleClaim, "submission %s is not claimed by worker %s", id, workerID)
}
