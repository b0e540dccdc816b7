package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/shopify"
)

// ErrAggregatorInvalidInput indicates the caller supplied an unusable query.
var ErrAggregatorInvalidInput = errors.New("aggregator: invalid input")

// AggregationBudgets bounds how much work one aggregation pass may do. A pass
// stops early when either the record or the wall-clock budget is exhausted
// and reports the result as truncated rather than failing.
type AggregationBudgets struct {
	MaxRecords   int
	MaxWallClock time.Duration
	PageSize     int
	MaxPages     int
	MaxProducts  int
}

const (
	defaultMaxRecords   = 5000
	defaultMaxWallClock = 25 * time.Second
	defaultPageSize     = 250
	defaultMaxPages     = 20
	defaultMaxProducts  = 5000
)

func (b AggregationBudgets) withDefaults() AggregationBudgets {
	if b.MaxRecords <= 0 {
		b.MaxRecords = defaultMaxRecords
	}
	if b.MaxWallClock <= 0 {
		b.MaxWallClock = defaultMaxWallClock
	}
	if b.PageSize <= 0 || b.PageSize > shopify.MaxPageSize {
		b.PageSize = defaultPageSize
	}
	if b.MaxPages <= 0 {
		b.MaxPages = defaultMaxPages
	}
	if b.MaxProducts <= 0 {
		b.MaxProducts = defaultMaxProducts
	}
	return b
}

// AggregationQuery scopes one sales aggregation pass.
type AggregationQuery struct {
	Shop   string
	Since  time.Time
	Until  time.Time
	Filter domain.OrderStatusFilter
}

// AggregationResult carries the metric map plus how the pass ended. Partial
// results are usable; Truncated and Warning tell the caller how complete
// they are.
type AggregationResult struct {
	Metrics   MetricSet
	Orders    int
	Records   int
	Truncated bool
	Partial   bool
	Warning   string
	Elapsed   time.Duration
}

// ProductFetchResult carries the collection membership plus completeness flags.
type ProductFetchResult struct {
	Products  []CatalogProduct
	Truncated bool
	Partial   bool
	Warning   string
}

// AggregatorDeps bundles collaborators for the metrics aggregator.
type AggregatorDeps struct {
	Orders   OrderFeed
	Catalog  CatalogGateway
	Budgets  AggregationBudgets
	Timezone *time.Location
	Clock    func() time.Time
	Logger   Logger
}

type metricsAggregator struct {
	orders  OrderFeed
	catalog CatalogGateway
	budgets AggregationBudgets
	tz      *time.Location
	clock   func() time.Time
	log     Logger
}

// NewMetricsAggregator constructs the budget-bounded sales aggregator.
func NewMetricsAggregator(deps AggregatorDeps) (SalesAggregator, error) {
	if deps.Orders == nil {
		return nil, errors.New("aggregator: order feed is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("aggregator: catalog gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	tz := deps.Timezone
	if tz == nil {
		tz = time.UTC
	}
	logger := deps.Logger
	if logger == nil {
		logger = NoopLogger()
	}
	return &metricsAggregator{
		orders:  deps.Orders,
		catalog: deps.Catalog,
		budgets: deps.Budgets.withDefaults(),
		tz:      tz,
		clock:   clock,
		log:     logger,
	}, nil
}

// AggregateSales walks the order feed page by page, folding line items into a
// metric map until the feed ends or a budget runs out. A page fetch error
// terminates pagination and returns whatever accumulated so far as a partial
// result with a nil error.
func (a *metricsAggregator) AggregateSales(ctx context.Context, query AggregationQuery) (AggregationResult, error) {
	if strings.TrimSpace(query.Shop) == "" {
		return AggregationResult{}, ErrAggregatorInvalidInput
	}
	if !query.Since.IsZero() && !query.Until.IsZero() && query.Until.Before(query.Since) {
		return AggregationResult{}, ErrAggregatorInvalidInput
	}

	start := a.clock()
	result := AggregationResult{Metrics: make(MetricSet)}
	feedQuery := shopify.OrderQuery{
		CreatedAtMin: query.Since,
		CreatedAtMax: query.Until,
		Filter:       query.Filter,
	}

	cursor := ""
	for {
		if elapsed := a.clock().Sub(start); elapsed >= a.budgets.MaxWallClock {
			result.Truncated = true
			break
		}

		page, err := a.orders.OrdersPage(ctx, feedQuery, a.budgets.PageSize, cursor)
		if err != nil {
			result.Partial = true
			result.Warning = "order page fetch failed: " + err.Error()
			a.log(ctx, "aggregation_page_failed", map[string]any{
				"shop":    query.Shop,
				"orders":  result.Orders,
				"records": result.Records,
				"error":   err.Error(),
			})
			break
		}

		for _, order := range page.Orders {
			result.Orders++
			for _, line := range order.Lines {
				result.Metrics.Merge(line.ProductID, line.Quantity, line.GrossAmount, line.DiscountedTotal, order.CreatedAt)
				result.Records++
			}
			if result.Records >= a.budgets.MaxRecords {
				result.Truncated = true
				break
			}
		}
		if result.Truncated || !page.HasNext {
			break
		}
		cursor = page.EndCursor
	}

	result.Elapsed = a.clock().Sub(start)
	return result, nil
}

// AggregateDay aggregates one calendar day in the shop's canonical timezone.
func (a *metricsAggregator) AggregateDay(ctx context.Context, shop string, day time.Time, filter domain.OrderStatusFilter) (AggregationResult, error) {
	if day.IsZero() {
		return AggregationResult{}, ErrAggregatorInvalidInput
	}
	local := day.In(a.tz)
	since := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.tz)
	until := since.AddDate(0, 0, 1).Add(-time.Second)
	return a.AggregateSales(ctx, AggregationQuery{
		Shop:   shop,
		Since:  since,
		Until:  until,
		Filter: filter,
	})
}

// FetchAllProducts pages through the collection membership under the page and
// product count budgets. Page errors return the partial membership.
func (a *metricsAggregator) FetchAllProducts(ctx context.Context, collectionID string) (ProductFetchResult, error) {
	if strings.TrimSpace(collectionID) == "" {
		return ProductFetchResult{}, ErrAggregatorInvalidInput
	}

	result := ProductFetchResult{}
	cursor := ""
	for pages := 0; pages < a.budgets.MaxPages; pages++ {
		page, err := a.catalog.CollectionProductsPage(ctx, collectionID, a.budgets.PageSize, cursor)
		if err != nil {
			if errors.Is(err, shopify.ErrCollectionNotFound) && pages == 0 {
				return ProductFetchResult{}, err
			}
			result.Partial = true
			result.Warning = "product page fetch failed: " + err.Error()
			a.log(ctx, "membership_page_failed", map[string]any{
				"collection_id": collectionID,
				"products":      len(result.Products),
				"error":         err.Error(),
			})
			return result, nil
		}

		result.Products = append(result.Products, page.Products...)
		if len(result.Products) >= a.budgets.MaxProducts {
			result.Products = result.Products[:a.budgets.MaxProducts]
			result.Truncated = true
			return result, nil
		}
		if !page.HasNext {
			return result, nil
		}
		cursor = page.EndCursor
	}

	result.Truncated = true
	return result, nil
}
