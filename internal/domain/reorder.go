package domain

import "time"

// RankedOrder is the output of one ranking pass: collection product IDs in
// their final display order, first element shown first.
type RankedOrder struct {
	CollectionID string
	ProductIDs   []string
	Invocation   int64
	ComputedAt   time.Time
}

// ProductMove repositions one product inside a collection. Positions are
// zero-based target indexes in the final order.
type ProductMove struct {
	ProductID string
	Position  int
}

// ReorderOutcome classifies what the executor knows about an applied
// reorder after polling completes.
type ReorderOutcome string

const (
	// ReorderSuccess means the platform confirmed the new order.
	ReorderSuccess ReorderOutcome = "success"
	// ReorderAcceptedUnconfirmed means the mutation was accepted but the
	// async job never reported completion within the polling budget. The
	// reorder may still land; callers should not retry blindly.
	ReorderAcceptedUnconfirmed ReorderOutcome = "accepted_unconfirmed"
	// ReorderFailed means the platform rejected the mutation or the
	// transport failed before acceptance.
	ReorderFailed ReorderOutcome = "failed"
)

// ReorderJobStatus is the state of the platform-side reorder job.
type ReorderJobStatus string

const (
	ReorderJobPending ReorderJobStatus = "pending"
	ReorderJobDone    ReorderJobStatus = "done"
	ReorderJobFailed  ReorderJobStatus = "failed"
)

// ReorderJob is the async handle returned by the reorder mutation.
type ReorderJob struct {
	ID     string
	Status ReorderJobStatus
}

// ReorderResult is the executor's report for one resort attempt.
type ReorderResult struct {
	AttemptID  string
	Outcome    ReorderOutcome
	JobID      string
	MoveCount  int
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}
