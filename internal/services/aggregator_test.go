package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/shopify"
)

type stubOrderFeed struct {
	pages   []shopify.OrderPage
	errAt   int
	err     error
	calls   int
	queries []shopify.OrderQuery
}

func (s *stubOrderFeed) OrdersPage(_ context.Context, query shopify.OrderQuery, _ int, _ string) (shopify.OrderPage, error) {
	s.queries = append(s.queries, query)
	call := s.calls
	s.calls++
	if s.err != nil && call == s.errAt {
		return shopify.OrderPage{}, s.err
	}
	if call >= len(s.pages) {
		return shopify.OrderPage{}, nil
	}
	return s.pages[call], nil
}

type stubCatalogGateway struct {
	pages []shopify.ProductPage
	errAt int
	err   error
	calls int
}

func (s *stubCatalogGateway) CollectionProductsPage(_ context.Context, _ string, _ int, _ string) (shopify.ProductPage, error) {
	call := s.calls
	s.calls++
	if s.err != nil && call == s.errAt {
		return shopify.ProductPage{}, s.err
	}
	if call >= len(s.pages) {
		return shopify.ProductPage{}, nil
	}
	return s.pages[call], nil
}

func orderWith(id string, createdAt time.Time, lines ...domain.OrderLine) domain.Order {
	return domain.Order{ID: id, CreatedAt: createdAt, Lines: lines}
}

func line(productID string, quantity int, gross, discounted float64) domain.OrderLine {
	return domain.OrderLine{ProductID: productID, Quantity: quantity, GrossAmount: gross, DiscountedTotal: discounted}
}

func newTestAggregator(t *testing.T, orders *stubOrderFeed, catalog *stubCatalogGateway, budgets AggregationBudgets, clock func() time.Time) SalesAggregator {
	t.Helper()
	if clock == nil {
		clock = time.Now
	}
	agg, err := NewMetricsAggregator(AggregatorDeps{
		Orders:  orders,
		Catalog: catalog,
		Budgets: budgets,
		Clock:   clock,
	})
	if err != nil {
		t.Fatalf("NewMetricsAggregator: %v", err)
	}
	return agg
}

func TestAggregateSalesMergesPages(t *testing.T) {
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderFeed{
		pages: []shopify.OrderPage{
			{
				Orders:    []domain.Order{orderWith("o1", at, line("p1", 2, 40, 36), line("p2", 1, 15, 15))},
				HasNext:   true,
				EndCursor: "c1",
			},
			{
				Orders: []domain.Order{orderWith("o2", at.Add(time.Hour), line("p1", 1, 20, 18))},
			},
		},
	}
	agg := newTestAggregator(t, orders, &stubCatalogGateway{}, AggregationBudgets{}, nil)

	result, err := agg.AggregateSales(context.Background(), AggregationQuery{Shop: "demo.myshopify.com"})
	if err != nil {
		t.Fatalf("AggregateSales: %v", err)
	}
	if result.Partial || result.Truncated {
		t.Fatalf("unexpected flags: %+v", result)
	}
	if result.Orders != 2 || result.Records != 3 {
		t.Fatalf("expected 2 orders / 3 records, got %d / %d", result.Orders, result.Records)
	}

	p1 := result.Metrics["p1"]
	if p1.UnitsSold != 3 || p1.GrossRevenue != 60 || p1.DiscountedRevenue != 54 {
		t.Fatalf("unexpected p1 metric: %+v", p1)
	}
	if p1.LastSaleAt == nil || !p1.LastSaleAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("expected last sale at second order, got %v", p1.LastSaleAt)
	}
}

func TestAggregateSalesStopsAtRecordBudget(t *testing.T) {
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderFeed{
		pages: []shopify.OrderPage{
			{
				Orders: []domain.Order{
					orderWith("o1", at, line("p1", 1, 10, 10), line("p2", 1, 10, 10)),
					orderWith("o2", at, line("p3", 1, 10, 10)),
				},
				HasNext:   true,
				EndCursor: "c1",
			},
			{Orders: []domain.Order{orderWith("o3", at, line("p4", 1, 10, 10))}},
		},
	}
	agg := newTestAggregator(t, orders, &stubCatalogGateway{}, AggregationBudgets{MaxRecords: 2}, nil)

	result, err := agg.AggregateSales(context.Background(), AggregationQuery{Shop: "demo.myshopify.com"})
	if err != nil {
		t.Fatalf("AggregateSales: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected truncated result")
	}
	if orders.calls != 1 {
		t.Fatalf("expected pagination to stop after first page, got %d calls", orders.calls)
	}
}

func TestAggregateSalesStopsAtWallClockBudget(t *testing.T) {
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	current := at
	clock := func() time.Time {
		now := current
		// Each clock read advances far past the budget.
		current = current.Add(30 * time.Second)
		return now
	}

	orders := &stubOrderFeed{
		pages: []shopify.OrderPage{
			{Orders: []domain.Order{orderWith("o1", at, line("p1", 1, 10, 10))}, HasNext: true, EndCursor: "c1"},
			{Orders: []domain.Order{orderWith("o2", at, line("p2", 1, 10, 10))}},
		},
	}
	agg := newTestAggregator(t, orders, &stubCatalogGateway{}, AggregationBudgets{MaxWallClock: 25 * time.Second}, clock)

	result, err := agg.AggregateSales(context.Background(), AggregationQuery{Shop: "demo.myshopify.com"})
	if err != nil {
		t.Fatalf("AggregateSales: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected wall-clock truncation")
	}
	if orders.calls > 1 {
		t.Fatalf("expected at most one page fetch, got %d", orders.calls)
	}
}

func TestAggregateSalesReturnsPartialOnPageError(t *testing.T) {
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderFeed{
		pages: []shopify.OrderPage{
			{Orders: []domain.Order{orderWith("o1", at, line("p1", 2, 40, 36))}, HasNext: true, EndCursor: "c1"},
		},
		err:   errors.New("upstream 502"),
		errAt: 1,
	}
	agg := newTestAggregator(t, orders, &stubCatalogGateway{}, AggregationBudgets{}, nil)

	result, err := agg.AggregateSales(context.Background(), AggregationQuery{Shop: "demo.myshopify.com"})
	if err != nil {
		t.Fatalf("page errors must not fail the pass: %v", err)
	}
	if !result.Partial {
		t.Fatal("expected partial result")
	}
	if result.Warning == "" {
		t.Fatal("expected warning describing the failed page")
	}
	if result.Metrics["p1"].UnitsSold != 2 {
		t.Fatalf("partial metrics should keep the first page: %+v", result.Metrics["p1"])
	}
}

func TestAggregateSalesRejectsInvalidInput(t *testing.T) {
	agg := newTestAggregator(t, &stubOrderFeed{}, &stubCatalogGateway{}, AggregationBudgets{}, nil)

	if _, err := agg.AggregateSales(context.Background(), AggregationQuery{}); !errors.Is(err, ErrAggregatorInvalidInput) {
		t.Fatalf("expected invalid input for empty shop, got %v", err)
	}

	since := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	_, err := agg.AggregateSales(context.Background(), AggregationQuery{
		Shop:  "demo.myshopify.com",
		Since: since,
		Until: since.AddDate(0, 0, -1),
	})
	if !errors.Is(err, ErrAggregatorInvalidInput) {
		t.Fatalf("expected invalid input for reversed window, got %v", err)
	}
}

func TestAggregateDayUsesShopTimezone(t *testing.T) {
	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	orders := &stubOrderFeed{}
	agg, err := NewMetricsAggregator(AggregatorDeps{
		Orders:   orders,
		Catalog:  &stubCatalogGateway{},
		Timezone: tz,
	})
	if err != nil {
		t.Fatalf("NewMetricsAggregator: %v", err)
	}

	day := time.Date(2026, 8, 20, 3, 30, 0, 0, time.UTC)
	if _, err := agg.AggregateDay(context.Background(), "demo.myshopify.com", day, domain.OrderFilterAll); err != nil {
		t.Fatalf("AggregateDay: %v", err)
	}
	if len(orders.queries) != 1 {
		t.Fatalf("expected one feed query, got %d", len(orders.queries))
	}

	query := orders.queries[0]
	// 2026-08-20 03:30 UTC is still 2026-08-19 in New York.
	wantStart := time.Date(2026, 8, 19, 0, 0, 0, 0, tz)
	if !query.CreatedAtMin.Equal(wantStart) {
		t.Fatalf("expected window start %v, got %v", wantStart, query.CreatedAtMin)
	}
	if !query.CreatedAtMax.Equal(wantStart.AddDate(0, 0, 1).Add(-time.Second)) {
		t.Fatalf("unexpected window end %v", query.CreatedAtMax)
	}
}

func TestFetchAllProductsStopsAtBudgets(t *testing.T) {
	pageWith := func(ids ...string) shopify.ProductPage {
		page := shopify.ProductPage{HasNext: true, EndCursor: "next"}
		for _, id := range ids {
			page.Products = append(page.Products, CatalogProduct{ID: id})
		}
		return page
	}
	catalog := &stubCatalogGateway{
		pages: []shopify.ProductPage{pageWith("a", "b"), pageWith("c", "d"), pageWith("e", "f")},
	}
	agg := newTestAggregator(t, &stubOrderFeed{}, catalog, AggregationBudgets{MaxProducts: 3}, nil)

	result, err := agg.FetchAllProducts(context.Background(), "gid://shopify/Collection/1")
	if err != nil {
		t.Fatalf("FetchAllProducts: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected truncated membership")
	}
	if len(result.Products) != 3 {
		t.Fatalf("expected budget cap of 3 products, got %d", len(result.Products))
	}
}

func TestFetchAllProductsPartialOnPageError(t *testing.T) {
	catalog := &stubCatalogGateway{
		pages: []shopify.ProductPage{{
			Products:  []CatalogProduct{{ID: "a"}},
			HasNext:   true,
			EndCursor: "c1",
		}},
		err:   errors.New("upstream 500"),
		errAt: 1,
	}
	agg := newTestAggregator(t, &stubOrderFeed{}, catalog, AggregationBudgets{}, nil)

	result, err := agg.FetchAllProducts(context.Background(), "gid://shopify/Collection/1")
	if err != nil {
		t.Fatalf("page errors must not fail the fetch: %v", err)
	}
	if !result.Partial || len(result.Products) != 1 {
		t.Fatalf("expected partial single-page result, got %+v", result)
	}
}

func TestFetchAllProductsMissingCollection(t *testing.T) {
	catalog := &stubCatalogGateway{err: shopify.ErrCollectionNotFound, errAt: 0}
	agg := newTestAggregator(t, &stubOrderFeed{}, catalog, AggregationBudgets{}, nil)

	if _, err := agg.FetchAllProducts(context.Background(), "gid://shopify/Collection/404"); !errors.Is(err, shopify.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}
