package services

import (
	"context"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/shopify"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	CatalogProduct     = domain.CatalogProduct
	SalesMetric        = domain.SalesMetric
	MetricSet          = domain.MetricSet
	CollectionConfig   = domain.CollectionConfig
	CollectionSettings = domain.CollectionSettings
	BehaviorRules      = domain.BehaviorRules
	TagPlacementRule   = domain.TagPlacementRule
	FeaturedEntry      = domain.FeaturedEntry
	RankedOrder        = domain.RankedOrder
	ReorderResult      = domain.ReorderResult
	Report             = domain.Report
	ReportFilter       = domain.ReportFilter
	SystemHealthReport = domain.SystemHealthReport
)

// Logger is the minimal structured logging callback services accept in their
// Deps structs. The zap-backed implementation lives at the composition root.
type Logger func(ctx context.Context, event string, fields map[string]any)

// NoopLogger discards all events.
func NoopLogger() Logger {
	return func(context.Context, string, map[string]any) {}
}

// CatalogGateway fetches collection membership pages from the commerce platform.
type CatalogGateway interface {
	CollectionProductsPage(ctx context.Context, collectionID string, pageSize int, cursor string) (shopify.ProductPage, error)
}

// OrderFeed fetches historical order pages from the commerce platform.
type OrderFeed interface {
	OrdersPage(ctx context.Context, query shopify.OrderQuery, pageSize int, cursor string) (shopify.OrderPage, error)
}

// ReorderGateway applies position moves on the commerce platform and exposes
// the async job handle returned by the reorder mutation.
type ReorderGateway interface {
	SetManualSortOrder(ctx context.Context, collectionID string) error
	ReorderProducts(ctx context.Context, collectionID string, moves []domain.ProductMove) (string, error)
	JobStatus(ctx context.Context, jobID string) (domain.ReorderJob, error)
}

// SalesAggregator produces per-product sales metrics and collection membership
// under record and wall-clock budgets.
type SalesAggregator interface {
	AggregateSales(ctx context.Context, query AggregationQuery) (AggregationResult, error)
	AggregateDay(ctx context.Context, shop string, day time.Time, filter domain.OrderStatusFilter) (AggregationResult, error)
	FetchAllProducts(ctx context.Context, collectionID string) (ProductFetchResult, error)
}

// CollectionService orchestrates ranking passes: resort applies the computed
// order through the reorder gateway, preview returns it without mutating.
type CollectionService interface {
	Resort(ctx context.Context, cmd ResortCommand) (ResortReport, error)
	Preview(ctx context.Context, cmd PreviewCommand) (PreviewResult, error)
}

// SettingsService reads and writes per-collection ranking configuration with
// save-time validation so invalid rules never reach the ranking engine.
type SettingsService interface {
	Get(ctx context.Context, shop, collectionID string) (CollectionConfig, error)
	Save(ctx context.Context, config CollectionConfig) (CollectionConfig, error)
	Delete(ctx context.Context, shop, collectionID string) error
	List(ctx context.Context, shop string, pager Pagination) (domain.CursorPage[CollectionConfig], error)
}

// ReportService builds merchandising reports over aggregated sales metrics.
type ReportService interface {
	Generate(ctx context.Context, shop string, filter ReportFilter) (Report, error)
}

// ResortEventMessage is the payload published after each resort attempt.
type ResortEventMessage struct {
	AttemptID    string    `json:"attemptId"`
	Shop         string    `json:"shop"`
	CollectionID string    `json:"collectionId"`
	Outcome      string    `json:"outcome"`
	JobID        string    `json:"jobId,omitempty"`
	MoveCount    int       `json:"moveCount"`
	DurationMS   int64     `json:"durationMs"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// EventPublisher emits resort outcome events for downstream automation.
// Publish failures are logged by callers and never fail the resort itself.
type EventPublisher interface {
	PublishResortEvent(ctx context.Context, message ResortEventMessage) (string, error)
}
