package queue

import "errors"

// Sentinel errors surfaced by queue operations. Callers should compare
// with errors.Is.
var (
	// ErrDuplicateJob is returned by Enqueue when a job file already
	// exists for this job_id in any of the five queue directories.
	ErrDuplicateJob = errors.New("duplicate_job")

	// ErrQueueEmpty is returned by Claim when pending/ has no claimable job.
	ErrQueueEmpty = errors.New("queue_empty")

	// ErrNotFound is returned by Complete/Approve/Unlock when the expected
	// source file is missing.
	ErrNotFound = errors.New("job file not found")
)
