package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
)

type stubSettingsRepository struct {
	getFn    func(shop, collectionID string) (domain.CollectionConfig, error)
	saveFn   func(config domain.CollectionConfig) error
	deleteFn func(shop, collectionID string) error
	listFn   func(shop string, pager domain.Pagination) (domain.CursorPage[domain.CollectionConfig], error)
	saved    []domain.CollectionConfig
}

func (s *stubSettingsRepository) Get(_ context.Context, shop, collectionID string) (domain.CollectionConfig, error) {
	if s.getFn != nil {
		return s.getFn(shop, collectionID)
	}
	return domain.CollectionConfig{}, nil
}

func (s *stubSettingsRepository) Save(_ context.Context, config domain.CollectionConfig) error {
	s.saved = append(s.saved, config)
	if s.saveFn != nil {
		return s.saveFn(config)
	}
	return nil
}

func (s *stubSettingsRepository) Delete(_ context.Context, shop, collectionID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(shop, collectionID)
	}
	return nil
}

func (s *stubSettingsRepository) ListByShop(_ context.Context, shop string, pager domain.Pagination) (domain.CursorPage[domain.CollectionConfig], error) {
	if s.listFn != nil {
		return s.listFn(shop, pager)
	}
	return domain.CursorPage[domain.CollectionConfig]{}, nil
}

type stubAggregator struct {
	salesFn    func(query AggregationQuery) (AggregationResult, error)
	productsFn func(collectionID string) (ProductFetchResult, error)
	salesCalls []AggregationQuery
}

func (s *stubAggregator) AggregateSales(_ context.Context, query AggregationQuery) (AggregationResult, error) {
	s.salesCalls = append(s.salesCalls, query)
	if s.salesFn != nil {
		return s.salesFn(query)
	}
	return AggregationResult{Metrics: make(MetricSet)}, nil
}

func (s *stubAggregator) AggregateDay(ctx context.Context, shop string, day time.Time, filter domain.OrderStatusFilter) (AggregationResult, error) {
	return s.AggregateSales(ctx, AggregationQuery{Shop: shop, Since: day, Until: day, Filter: filter})
}

func (s *stubAggregator) FetchAllProducts(_ context.Context, collectionID string) (ProductFetchResult, error) {
	if s.productsFn != nil {
		return s.productsFn(collectionID)
	}
	return ProductFetchResult{}, nil
}

type notFoundError struct{}

func (notFoundError) Error() string       { return "document missing" }
func (notFoundError) IsNotFound() bool    { return true }
func (notFoundError) IsConflict() bool    { return false }
func (notFoundError) IsUnavailable() bool { return false }

func membershipWith(products ...CatalogProduct) func(string) (ProductFetchResult, error) {
	return func(string) (ProductFetchResult, error) {
		return ProductFetchResult{Products: products}, nil
	}
}

func newTestSettingsService(t *testing.T, repo *stubSettingsRepository, agg *stubAggregator) SettingsService {
	t.Helper()
	svc, err := NewSettingsService(SettingsServiceDeps{
		Repository: repo,
		Aggregator: agg,
		Clock: func() time.Time {
			return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewSettingsService: %v", err)
	}
	return svc
}

func validConfig() CollectionConfig {
	config := baseConfig()
	config.Settings.LookbackDays = 30
	return config
}

func TestSettingsSavePersistsWithTimestamp(t *testing.T) {
	repo := &stubSettingsRepository{}
	svc := newTestSettingsService(t, repo, &stubAggregator{})

	saved, err := svc.Save(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt to be stamped")
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected one repository save, got %d", len(repo.saved))
	}
}

func TestSettingsSaveRejectsInvalidConfig(t *testing.T) {
	repo := &stubSettingsRepository{}
	svc := newTestSettingsService(t, repo, &stubAggregator{})

	cases := map[string]func(*CollectionConfig){
		"unknown criterion": func(c *CollectionConfig) { c.Settings.PrimaryCriterion = "popularity" },
		"unknown direction": func(c *CollectionConfig) { c.Settings.Direction = "sideways" },
		"lookback too long": func(c *CollectionConfig) { c.Settings.LookbackDays = 9000 },
		"rule targets unknown zone": func(c *CollectionConfig) {
			c.TagRules = []TagPlacementRule{{Tag: "sale", Zone: "middle"}}
		},
		"rule targets none zone": func(c *CollectionConfig) {
			c.TagRules = []TagPlacementRule{{Tag: "sale", Zone: domain.ZoneNone}}
		},
		"duplicate featured": func(c *CollectionConfig) {
			c.Featured = []FeaturedEntry{
				{ProductID: "x", Mode: domain.FeaturedManual, Position: 1},
				{ProductID: "x", Mode: domain.FeaturedManual, Position: 2},
			}
		},
		"scheduled without duration": func(c *CollectionConfig) {
			c.Featured = []FeaturedEntry{{
				ProductID: "x",
				Mode:      domain.FeaturedScheduled,
				StartDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			}}
		},
		"invalid tie-break": func(c *CollectionConfig) {
			c.Behavior.NewVsOutOfStock = domain.TieBreakPreferTag
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			config := validConfig()
			mutate(&config)
			if _, err := svc.Save(context.Background(), config); !errors.Is(err, ErrSettingsInvalid) {
				t.Fatalf("expected ErrSettingsInvalid, got %v", err)
			}
		})
	}
	if len(repo.saved) != 0 {
		t.Fatalf("invalid configs must not reach the repository, got %d saves", len(repo.saved))
	}
}

func TestSettingsSaveRejectsUnknownTag(t *testing.T) {
	repo := &stubSettingsRepository{}
	agg := &stubAggregator{
		productsFn: membershipWith(product("a", withTags("Sale", "Walnut"))),
	}
	svc := newTestSettingsService(t, repo, agg)

	config := validConfig()
	config.TagRules = []TagPlacementRule{{Tag: "clearance", Zone: domain.ZoneBottom}}
	if _, err := svc.Save(context.Background(), config); !errors.Is(err, ErrSettingsInvalid) {
		t.Fatalf("expected ErrSettingsInvalid for unknown tag, got %v", err)
	}

	// Case-folded match passes.
	config.TagRules = []TagPlacementRule{{Tag: "SALE", Zone: domain.ZoneBottom}}
	if _, err := svc.Save(context.Background(), config); err != nil {
		t.Fatalf("case-insensitive tag match should pass: %v", err)
	}
}

func TestSettingsSaveSkipsTagCheckOnPartialMembership(t *testing.T) {
	repo := &stubSettingsRepository{}
	agg := &stubAggregator{
		productsFn: func(string) (ProductFetchResult, error) {
			return ProductFetchResult{Partial: true, Warning: "upstream 502"}, nil
		},
	}
	svc := newTestSettingsService(t, repo, agg)

	config := validConfig()
	config.TagRules = []TagPlacementRule{{Tag: "sale", Zone: domain.ZoneTop}}
	if _, err := svc.Save(context.Background(), config); err != nil {
		t.Fatalf("partial membership must not reject a possibly valid rule: %v", err)
	}
}

func TestSettingsGetMapsNotFound(t *testing.T) {
	repo := &stubSettingsRepository{
		getFn: func(string, string) (domain.CollectionConfig, error) {
			return domain.CollectionConfig{}, notFoundError{}
		},
	}
	svc := newTestSettingsService(t, repo, &stubAggregator{})

	_, err := svc.Get(context.Background(), "demo.myshopify.com", "gid://shopify/Collection/1")
	if !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("expected ErrSettingsNotFound, got %v", err)
	}
}

func TestSettingsListRequiresShop(t *testing.T) {
	svc := newTestSettingsService(t, &stubSettingsRepository{}, &stubAggregator{})
	if _, err := svc.List(context.Background(), "  ", Pagination{}); !errors.Is(err, ErrSettingsInvalid) {
		t.Fatalf("expected ErrSettingsInvalid, got %v", err)
	}
}
