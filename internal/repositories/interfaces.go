package repositories

import (
	"context"

	domain "github.com/shelfsort/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// SettingsRepository persists per-collection ranking configuration. Documents
// are keyed by (shop, collection). Get should return a RepositoryError with
// IsNotFound when no configuration has been saved yet.
type SettingsRepository interface {
	Get(ctx context.Context, shop, collectionID string) (domain.CollectionConfig, error)
	Save(ctx context.Context, config domain.CollectionConfig) error
	Delete(ctx context.Context, shop, collectionID string) error
	ListByShop(ctx context.Context, shop string, pager domain.Pagination) (domain.CursorPage[domain.CollectionConfig], error)
}

// CounterConfig carries optional counter settings applied via Configure.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// CounterRepository provides atomically incremented counters, used to drive
// deterministic featured rotation across resort invocations.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository aggregates dependency probes for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
