package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shelfsort/api/internal/domain"
)

// ErrReorderInvalidInput indicates the executor was called without a usable order.
var ErrReorderInvalidInput = errors.New("reorder: invalid input")

const (
	defaultReorderBatchSize    = 250
	defaultReorderPollInterval = 2 * time.Second
	defaultReorderPollAttempts = 10
)

// ReorderExecutorDeps bundles collaborators for the reorder executor.
type ReorderExecutorDeps struct {
	Gateway      ReorderGateway
	BatchSize    int
	PollInterval time.Duration
	PollAttempts int
	Clock        func() time.Time
	// Sleep waits between poll attempts; overridable in tests. A nil Sleep
	// uses a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger Logger
}

// ReorderExecutor applies a computed ranking to the platform. It never
// re-derives the ranking; given the same RankedOrder it submits the same
// moves, so retries are safe.
type ReorderExecutor struct {
	gateway      ReorderGateway
	batchSize    int
	pollInterval time.Duration
	pollAttempts int
	clock        func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	log          Logger
}

// NewReorderExecutor constructs the executor.
func NewReorderExecutor(deps ReorderExecutorDeps) (*ReorderExecutor, error) {
	if deps.Gateway == nil {
		return nil, errors.New("reorder executor: gateway is required")
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 || batchSize > defaultReorderBatchSize {
		batchSize = defaultReorderBatchSize
	}
	pollInterval := deps.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultReorderPollInterval
	}
	pollAttempts := deps.PollAttempts
	if pollAttempts <= 0 {
		pollAttempts = defaultReorderPollAttempts
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = contextSleep
	}
	logger := deps.Logger
	if logger == nil {
		logger = NoopLogger()
	}
	return &ReorderExecutor{
		gateway:      deps.Gateway,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
		clock:        clock,
		sleep:        sleep,
		log:          logger,
	}, nil
}

// Apply submits the ranked order as position moves. Outcomes:
// success when every batch confirmed, accepted_unconfirmed when at least one
// async job never reported completion within the polling budget, failed when
// the platform rejected a mutation or the transport failed.
func (e *ReorderExecutor) Apply(ctx context.Context, order domain.RankedOrder) (domain.ReorderResult, error) {
	if strings.TrimSpace(order.CollectionID) == "" {
		return domain.ReorderResult{}, fmt.Errorf("%w: collection id is required", ErrReorderInvalidInput)
	}

	startedAt := e.clock()
	result := domain.ReorderResult{
		AttemptID: newAttemptID(startedAt),
		StartedAt: startedAt,
	}

	moves := Moves(order)
	result.MoveCount = len(moves)
	if len(moves) == 0 {
		result.Outcome = domain.ReorderSuccess
		result.Message = "nothing to reorder"
		result.FinishedAt = e.clock()
		return result, nil
	}

	if err := e.gateway.SetManualSortOrder(ctx, order.CollectionID); err != nil {
		return e.failed(ctx, result, order.CollectionID, fmt.Sprintf("set manual sort order: %s", err)), nil
	}

	unconfirmed := false
	for start := 0; start < len(moves); start += e.batchSize {
		end := start + e.batchSize
		if end > len(moves) {
			end = len(moves)
		}

		jobID, err := e.gateway.ReorderProducts(ctx, order.CollectionID, moves[start:end])
		if err != nil {
			return e.failed(ctx, result, order.CollectionID, fmt.Sprintf("reorder batch at %d: %s", start, err)), nil
		}
		if jobID == "" {
			continue
		}

		confirmed, err := e.pollJob(ctx, jobID)
		if err != nil {
			return e.failed(ctx, result, order.CollectionID, fmt.Sprintf("poll job %s: %s", jobID, err)), nil
		}
		if !confirmed {
			unconfirmed = true
			result.JobID = jobID
		}
	}

	result.FinishedAt = e.clock()
	if unconfirmed {
		result.Outcome = domain.ReorderAcceptedUnconfirmed
		result.Message = "reorder accepted; completion not confirmed within the polling budget"
	} else {
		result.Outcome = domain.ReorderSuccess
	}

	e.log(ctx, "reorder_applied", map[string]any{
		"attempt_id":    result.AttemptID,
		"collection_id": order.CollectionID,
		"outcome":       string(result.Outcome),
		"moves":         result.MoveCount,
	})
	return result, nil
}

// pollJob waits for the async job with fixed-interval polling. Returns false
// without error when the polling budget is exhausted.
func (e *ReorderExecutor) pollJob(ctx context.Context, jobID string) (bool, error) {
	for attempt := 0; attempt < e.pollAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.pollInterval); err != nil {
				return false, err
			}
		}
		job, err := e.gateway.JobStatus(ctx, jobID)
		if err != nil {
			return false, err
		}
		switch job.Status {
		case domain.ReorderJobDone:
			return true, nil
		case domain.ReorderJobFailed:
			return false, fmt.Errorf("job %s failed", jobID)
		}
	}
	return false, nil
}

func (e *ReorderExecutor) failed(ctx context.Context, result domain.ReorderResult, collectionID, message string) domain.ReorderResult {
	result.Outcome = domain.ReorderFailed
	result.Message = message
	result.FinishedAt = e.clock()
	e.log(ctx, "reorder_failed", map[string]any{
		"attempt_id":    result.AttemptID,
		"collection_id": collectionID,
		"message":       message,
	})
	return result
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newAttemptID(now time.Time) string {
	return "ra_" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
