package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/platform/cache"
	"github.com/shelfsort/api/internal/platform/textutil"
	"github.com/shelfsort/api/internal/shopify"
)

var (
	// ErrReportInvalidInput indicates an unknown kind or bad filter.
	ErrReportInvalidInput = errors.New("report: invalid input")
)

const (
	defaultReportLookbackDays = 30
	defaultReportPageSize     = 50
	maxReportPageSize         = 250
)

// ShopCatalog pages through the shop's full product catalog.
type ShopCatalog interface {
	ProductsPage(ctx context.Context, pageSize int, cursor string) (shopify.ProductPage, error)
}

// ReportServiceDeps bundles collaborators for the report service.
type ReportServiceDeps struct {
	Aggregator SalesAggregator
	Catalog    ShopCatalog
	Budgets    AggregationBudgets
	Cache      cache.Store
	CacheTTL   time.Duration
	Clock      func() time.Time
	Logger     Logger
}

type reportService struct {
	aggregator SalesAggregator
	catalog    ShopCatalog
	budgets    AggregationBudgets
	cache      cache.Store
	cacheTTL   time.Duration
	clock      func() time.Time
	log        Logger
}

// NewReportService constructs the aging/bestsellers/trending report service.
func NewReportService(deps ReportServiceDeps) (ReportService, error) {
	if deps.Aggregator == nil {
		return nil, errors.New("report service: aggregator is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("report service: catalog is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = NoopLogger()
	}
	return &reportService{
		aggregator: deps.Aggregator,
		catalog:    deps.Catalog,
		budgets:    deps.Budgets.withDefaults(),
		cache:      deps.Cache,
		cacheTTL:   ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		log: logger,
	}, nil
}

// Generate builds one report page. Pages are cached under a fingerprint of
// the full filter, so repeated dashboard polls within the TTL window reuse
// the computed rows.
func (s *reportService) Generate(ctx context.Context, shop string, filter ReportFilter) (Report, error) {
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return Report{}, fmt.Errorf("%w: shop is required", ErrReportInvalidInput)
	}
	switch filter.Kind {
	case domain.ReportAging, domain.ReportBestsellers, domain.ReportTrending:
	default:
		return Report{}, fmt.Errorf("%w: unknown report kind %q", ErrReportInvalidInput, filter.Kind)
	}
	if filter.LookbackDays <= 0 {
		filter.LookbackDays = defaultReportLookbackDays
	}
	if filter.Pagination.PageSize <= 0 || filter.Pagination.PageSize > maxReportPageSize {
		filter.Pagination.PageSize = defaultReportPageSize
	}

	now := s.clock()
	key := ReportFingerprint(shop, filter, now, s.cacheTTL)
	if cached := s.cachedReport(ctx, key, now); cached != nil {
		return *cached, nil
	}

	report, err := s.build(ctx, shop, filter, now)
	if err != nil {
		return Report{}, err
	}

	s.storeReport(ctx, key, report, now)
	return report, nil
}

func (s *reportService) build(ctx context.Context, shop string, filter ReportFilter, now time.Time) (Report, error) {
	products, err := s.fetchCatalog(ctx)
	if err != nil {
		return Report{}, err
	}

	since := now.AddDate(0, 0, -filter.LookbackDays)
	sales, err := s.aggregator.AggregateSales(ctx, AggregationQuery{
		Shop:   shop,
		Since:  since,
		Until:  now,
		Filter: domain.OrderFilterAll,
	})
	if err != nil {
		return Report{}, fmt.Errorf("aggregate sales: %w", err)
	}

	var priorMetrics MetricSet
	if filter.Kind == domain.ReportTrending {
		prior, err := s.aggregator.AggregateSales(ctx, AggregationQuery{
			Shop:   shop,
			Since:  now.AddDate(0, 0, -2*filter.LookbackDays),
			Until:  since,
			Filter: domain.OrderFilterAll,
		})
		if err != nil {
			return Report{}, fmt.Errorf("aggregate prior window: %w", err)
		}
		priorMetrics = prior.Metrics
	}

	rows := make([]domain.ReportRow, 0, len(products))
	for _, product := range products {
		if !matchesSearch(product, filter.Search) {
			continue
		}
		metric := sales.Metrics[product.ID]
		row := domain.ReportRow{
			ProductID:  product.ID,
			Title:      product.Title,
			Vendor:     product.Vendor,
			UnitsSold:  metric.UnitsSold,
			Revenue:    metric.GrossRevenue,
			Inventory:  product.Inventory,
			DaysListed: daysListed(product, now),
			LastSaleAt: metric.LastSaleAt,
		}
		if filter.Kind == domain.ReportTrending {
			row.TrendRatio = trendRatio(metric, priorMetrics[product.ID])
		}
		rows = append(rows, row)
	}

	sortRows(rows, filter.Kind)
	total := len(rows)
	pageRows, nextToken := paginateRows(rows, filter.Pagination)

	return Report{
		Kind:          filter.Kind,
		Rows:          pageRows,
		Total:         total,
		NextPageToken: nextToken,
		ComputedAt:    now,
	}, nil
}

func (s *reportService) fetchCatalog(ctx context.Context) ([]CatalogProduct, error) {
	var products []CatalogProduct
	cursor := ""
	for pages := 0; pages < s.budgets.MaxPages; pages++ {
		page, err := s.catalog.ProductsPage(ctx, s.budgets.PageSize, cursor)
		if err != nil {
			if len(products) == 0 {
				return nil, fmt.Errorf("fetch products: %w", err)
			}
			s.log(ctx, "report_catalog_page_failed", map[string]any{
				"products": len(products),
				"error":    err.Error(),
			})
			return products, nil
		}
		products = append(products, page.Products...)
		if len(products) >= s.budgets.MaxProducts {
			return products[:s.budgets.MaxProducts], nil
		}
		if !page.HasNext {
			break
		}
		cursor = page.EndCursor
	}
	return products, nil
}

func matchesSearch(product CatalogProduct, search string) bool {
	search = strings.TrimSpace(search)
	if search == "" {
		return true
	}
	return textutil.ContainsFold(product.Title, search) || textutil.ContainsFold(product.Vendor, search)
}

func daysListed(product CatalogProduct, now time.Time) int {
	listed := product.PublishedAt
	if listed.IsZero() {
		listed = product.CreatedAt
	}
	if listed.IsZero() || listed.After(now) {
		return 0
	}
	return int(now.Sub(listed).Hours() / 24)
}

// trendRatio compares the recent window against the prior one. Products with
// no prior sales but recent sales trend infinitely; they are capped so
// sorting stays stable.
func trendRatio(recent, prior SalesMetric) float64 {
	const newSellerRatio = 1000
	if prior.UnitsSold == 0 {
		if recent.UnitsSold == 0 {
			return 0
		}
		return newSellerRatio
	}
	return float64(recent.UnitsSold) / float64(prior.UnitsSold)
}

func sortRows(rows []domain.ReportRow, kind domain.ReportKind) {
	switch kind {
	case domain.ReportAging:
		// Oldest, worst-selling stock first.
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].UnitsSold != rows[j].UnitsSold {
				return rows[i].UnitsSold < rows[j].UnitsSold
			}
			if rows[i].DaysListed != rows[j].DaysListed {
				return rows[i].DaysListed > rows[j].DaysListed
			}
			return rows[i].ProductID < rows[j].ProductID
		})
	case domain.ReportBestsellers:
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Revenue != rows[j].Revenue {
				return rows[i].Revenue > rows[j].Revenue
			}
			if rows[i].UnitsSold != rows[j].UnitsSold {
				return rows[i].UnitsSold > rows[j].UnitsSold
			}
			return rows[i].ProductID < rows[j].ProductID
		})
	case domain.ReportTrending:
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].TrendRatio != rows[j].TrendRatio {
				return rows[i].TrendRatio > rows[j].TrendRatio
			}
			if rows[i].UnitsSold != rows[j].UnitsSold {
				return rows[i].UnitsSold > rows[j].UnitsSold
			}
			return rows[i].ProductID < rows[j].ProductID
		})
	}
}

// paginateRows applies offset paging. Page tokens are the numeric offset of
// the next row.
func paginateRows(rows []domain.ReportRow, pager Pagination) ([]domain.ReportRow, string) {
	offset := 0
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		if parsed, err := strconv.Atoi(token); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	if offset >= len(rows) {
		return nil, ""
	}
	end := offset + pager.PageSize
	if end >= len(rows) {
		return rows[offset:], ""
	}
	return rows[offset:end], strconv.Itoa(end)
}

func (s *reportService) cachedReport(ctx context.Context, key string, now time.Time) *Report {
	if s.cache == nil {
		return nil
	}
	payload, ok, err := s.cache.Get(ctx, key, now)
	if err != nil || !ok {
		return nil
	}
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil
	}
	return &report
}

func (s *reportService) storeReport(ctx context.Context, key string, report Report, now time.Time) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, now, s.cacheTTL); err != nil {
		s.log(ctx, "report_cache_write_failed", map[string]any{"error": err.Error()})
	}
}
