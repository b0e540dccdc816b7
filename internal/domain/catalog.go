package domain

import (
	"strings"
	"time"
)

// ProductStatus enumerates the lifecycle states reported by the catalog.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusArchived ProductStatus = "archived"
)

// CatalogProduct mirrors the catalog system's view of a product. It is
// read-only within one ranking pass; this service never mutates products.
type CatalogProduct struct {
	ID          string
	Title       string
	Vendor      string
	CreatedAt   time.Time
	PublishedAt time.Time
	UnitPrice   float64
	Inventory   int
	Tags        []string
	Status      ProductStatus
}

// HasTag reports whether the product carries the given tag, ignoring case.
func (p CatalogProduct) HasTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	for _, candidate := range p.Tags {
		if strings.EqualFold(strings.TrimSpace(candidate), tag) {
			return true
		}
	}
	return false
}

// OutOfStock reports whether the product has no sellable inventory.
// Negative inventory counts as zero.
func (p CatalogProduct) OutOfStock() bool {
	return p.Inventory <= 0
}

// SalesMetric accumulates per-product sales figures over one aggregation
// window. Metrics are ephemeral; they live only inside a ranking pass or a
// cache entry.
type SalesMetric struct {
	ProductID         string
	UnitsSold         int
	GrossRevenue      float64
	DiscountedRevenue float64
	LastSaleAt        *time.Time
}

// MetricSet maps product IDs to their aggregated sales metrics.
type MetricSet map[string]SalesMetric

// Merge folds a single order line into the set.
func (m MetricSet) Merge(productID string, quantity int, gross, discounted float64, soldAt time.Time) {
	if productID == "" || quantity <= 0 {
		return
	}
	metric := m[productID]
	metric.ProductID = productID
	metric.UnitsSold += quantity
	metric.GrossRevenue += gross
	metric.DiscountedRevenue += discounted
	if metric.LastSaleAt == nil || soldAt.After(*metric.LastSaleAt) {
		at := soldAt
		metric.LastSaleAt = &at
	}
	m[productID] = metric
}

// OrderStatusFilter restricts which orders contribute to sales metrics.
type OrderStatusFilter string

const (
	OrderFilterAll           OrderStatusFilter = "all"
	OrderFilterPaidOnly      OrderStatusFilter = "paidOnly"
	OrderFilterFulfilledOnly OrderStatusFilter = "fulfilledOnly"
)

// OrderLine is one line item on a historical order.
type OrderLine struct {
	ProductID       string
	Quantity        int
	GrossAmount     float64
	DiscountedTotal float64
}

// Order is the slice of an order relevant to aggregation.
type Order struct {
	ID        string
	CreatedAt time.Time
	Lines     []OrderLine
}

// Pagination carries cursor paging inputs for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
	HasMore       bool
}
