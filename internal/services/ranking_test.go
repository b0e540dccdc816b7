package services

import (
	"reflect"
	"sort"
	"testing"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
)

var rankNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func product(id string, opts ...func(*CatalogProduct)) CatalogProduct {
	p := CatalogProduct{
		ID:        id,
		Title:     "Product " + id,
		CreatedAt: rankNow.AddDate(0, -6, 0),
		Inventory: 10,
		Status:    domain.ProductStatusActive,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func withInventory(n int) func(*CatalogProduct) {
	return func(p *CatalogProduct) { p.Inventory = n }
}

func withCreatedAt(at time.Time) func(*CatalogProduct) {
	return func(p *CatalogProduct) { p.CreatedAt = at }
}

func withTags(tags ...string) func(*CatalogProduct) {
	return func(p *CatalogProduct) { p.Tags = tags }
}

func baseConfig() CollectionConfig {
	return CollectionConfig{
		Shop:         "demo.myshopify.com",
		CollectionID: "gid://shopify/Collection/1",
		Settings: CollectionSettings{
			PrimaryCriterion: domain.CriterionRevenue,
			Direction:        domain.DirectionDescending,
			LookbackDays:     30,
			OrderFilter:      domain.OrderFilterAll,
		},
	}
}

func metricsFor(revenues map[string]float64) MetricSet {
	metrics := make(MetricSet)
	for id, revenue := range revenues {
		metrics[id] = SalesMetric{ProductID: id, GrossRevenue: revenue, UnitsSold: int(revenue)}
	}
	return metrics
}

func TestRankSortsByRevenueDescending(t *testing.T) {
	input := RankingInput{
		Config:   baseConfig(),
		Products: []CatalogProduct{product("a"), product("b"), product("c")},
		Metrics:  metricsFor(map[string]float64{"a": 10, "b": 30, "c": 20}),
		Now:      rankNow,
	}

	order := Rank(input)
	want := []string{"b", "c", "a"}
	if !reflect.DeepEqual(order.ProductIDs, want) {
		t.Fatalf("expected %v, got %v", want, order.ProductIDs)
	}
}

func TestRankIsDeterministic(t *testing.T) {
	input := RankingInput{
		Config:   baseConfig(),
		Products: []CatalogProduct{product("a"), product("b"), product("c"), product("d")},
		Metrics:  metricsFor(map[string]float64{"a": 5, "b": 5, "c": 5, "d": 5}),
		Now:      rankNow,
	}

	first := Rank(input)
	for i := 0; i < 10; i++ {
		again := Rank(input)
		if !reflect.DeepEqual(first.ProductIDs, again.ProductIDs) {
			t.Fatalf("run %d diverged: %v vs %v", i, first.ProductIDs, again.ProductIDs)
		}
	}
}

func TestRankConservesProductSet(t *testing.T) {
	config := baseConfig()
	config.Behavior = BehaviorRules{
		PushNewUp:          true,
		NewThresholdDays:   14,
		PushOutOfStockDown: true,
	}
	config.TagRules = []TagPlacementRule{
		{Tag: "sale", Zone: domain.ZoneTop},
		{Tag: "clearance", Zone: domain.ZoneBottom},
	}
	config.Featured = []FeaturedEntry{
		{ProductID: "b", Mode: domain.FeaturedManual, Position: 1},
	}

	products := []CatalogProduct{
		product("a", withTags("sale")),
		product("b"),
		product("c", withInventory(0)),
		product("d", withCreatedAt(rankNow.AddDate(0, 0, -3))),
		product("e", withTags("clearance"), withInventory(-2)),
	}
	input := RankingInput{
		Config:     config,
		Products:   products,
		Metrics:    metricsFor(map[string]float64{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}),
		Invocation: 3,
		Now:        rankNow,
	}

	order := Rank(input)
	if len(order.ProductIDs) != len(products) {
		t.Fatalf("expected %d products, got %d: %v", len(products), len(order.ProductIDs), order.ProductIDs)
	}
	seen := make(map[string]int)
	for _, id := range order.ProductIDs {
		seen[id]++
	}
	for _, p := range products {
		if seen[p.ID] != 1 {
			t.Errorf("product %s appears %d times", p.ID, seen[p.ID])
		}
	}
}

func TestRankZoneOrdering(t *testing.T) {
	config := baseConfig()
	config.Behavior = BehaviorRules{
		PushNewUp:          true,
		NewThresholdDays:   14,
		PushOutOfStockDown: true,
	}
	config.TagRules = []TagPlacementRule{
		{Tag: "pinned", Zone: domain.ZoneTop},
		{Tag: "after-new", Zone: domain.ZoneAfterNew},
		{Tag: "pre-oos", Zone: domain.ZoneBeforeOutOfStock},
		{Tag: "last", Zone: domain.ZoneBottom},
	}

	products := []CatalogProduct{
		product("bottom", withTags("last")),
		product("oos", withInventory(0)),
		product("preOOS", withTags("pre-oos")),
		product("plain"),
		product("afterNew", withTags("after-new")),
		product("new", withCreatedAt(rankNow.AddDate(0, 0, -2))),
		product("top", withTags("pinned")),
	}
	input := RankingInput{
		Config:   config,
		Products: products,
		Metrics:  MetricSet{},
		Now:      rankNow,
	}

	order := Rank(input)
	want := []string{"top", "new", "afterNew", "plain", "preOOS", "oos", "bottom"}
	if !reflect.DeepEqual(order.ProductIDs, want) {
		t.Fatalf("expected zone order %v, got %v", want, order.ProductIDs)
	}
}

func TestRankManualCriterionKeepsCatalogOrder(t *testing.T) {
	config := baseConfig()
	config.Settings.PrimaryCriterion = domain.CriterionManual

	products := []CatalogProduct{product("z"), product("m"), product("a")}
	input := RankingInput{
		Config:   config,
		Products: products,
		Metrics:  metricsFor(map[string]float64{"z": 1, "m": 100, "a": 50}),
		Now:      rankNow,
	}

	order := Rank(input)
	want := []string{"z", "m", "a"}
	if !reflect.DeepEqual(order.ProductIDs, want) {
		t.Fatalf("manual criterion must keep catalog order, got %v", order.ProductIDs)
	}
}

func TestRankFirstMatchingTagRuleWins(t *testing.T) {
	config := baseConfig()
	config.TagRules = []TagPlacementRule{
		{Tag: "featured-row", Zone: domain.ZoneTop},
		{Tag: "clearance", Zone: domain.ZoneBottom},
	}

	products := []CatalogProduct{
		product("both", withTags("clearance", "featured-row")),
		product("plain"),
	}
	input := RankingInput{Config: config, Products: products, Metrics: MetricSet{}, Now: rankNow}

	order := Rank(input)
	if order.ProductIDs[0] != "both" {
		t.Fatalf("first declared rule (top) should win, got %v", order.ProductIDs)
	}
}

func TestRankTieBreaksAgainstOutOfStock(t *testing.T) {
	cases := []struct {
		name      string
		behavior  BehaviorRules
		tags      []string
		wantFirst bool
	}{
		{
			name: "new wins by default",
			behavior: BehaviorRules{
				PushNewUp:          true,
				NewThresholdDays:   14,
				PushOutOfStockDown: true,
			},
			wantFirst: true,
		},
		{
			name: "explicit preferOutOfStock sends new product down",
			behavior: BehaviorRules{
				PushNewUp:          true,
				NewThresholdDays:   14,
				PushOutOfStockDown: true,
				NewVsOutOfStock:    domain.TieBreakPreferOutOfStock,
			},
			wantFirst: false,
		},
		{
			name: "tag wins by default",
			behavior: BehaviorRules{
				PushOutOfStockDown: true,
			},
			tags:      []string{"hero"},
			wantFirst: true,
		},
		{
			name: "explicit preferOutOfStock overrides tag",
			behavior: BehaviorRules{
				PushOutOfStockDown: true,
				TagVsOutOfStock:    domain.TieBreakPreferOutOfStock,
			},
			tags:      []string{"hero"},
			wantFirst: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := baseConfig()
			config.Behavior = tc.behavior
			if len(tc.tags) > 0 {
				config.TagRules = []TagPlacementRule{{Tag: "hero", Zone: domain.ZoneTop}}
			}

			conflicted := product("x", withInventory(0), withTags(tc.tags...))
			if tc.behavior.PushNewUp {
				conflicted.CreatedAt = rankNow.AddDate(0, 0, -2)
			}
			products := []CatalogProduct{product("plain"), conflicted}
			order := Rank(RankingInput{Config: config, Products: products, Metrics: MetricSet{}, Now: rankNow})

			gotFirst := order.ProductIDs[0] == "x"
			if gotFirst != tc.wantFirst {
				t.Fatalf("expected x first=%v, got order %v", tc.wantFirst, order.ProductIDs)
			}
		})
	}
}

func TestRankFeaturedRotation(t *testing.T) {
	config := baseConfig()
	config.LimitFeatured = 2
	config.Featured = []FeaturedEntry{
		{ProductID: "x", Mode: domain.FeaturedManual, Position: 1},
		{ProductID: "y", Mode: domain.FeaturedManual, Position: 2},
		{ProductID: "z", Mode: domain.FeaturedManual, Position: 3},
	}

	products := []CatalogProduct{product("x"), product("y"), product("z"), product("w")}
	metrics := metricsFor(map[string]float64{"w": 100})

	firstPass := Rank(RankingInput{Config: config, Products: products, Metrics: metrics, Invocation: 1, Now: rankNow})
	if !reflect.DeepEqual(firstPass.ProductIDs[:2], []string{"x", "y"}) {
		t.Fatalf("invocation 1 should pin [x y], got %v", firstPass.ProductIDs)
	}

	secondPass := Rank(RankingInput{Config: config, Products: products, Metrics: metrics, Invocation: 2, Now: rankNow})
	if !reflect.DeepEqual(secondPass.ProductIDs[:2], []string{"y", "z"}) {
		t.Fatalf("invocation 2 should pin [y z], got %v", secondPass.ProductIDs)
	}

	thirdPass := Rank(RankingInput{Config: config, Products: products, Metrics: metrics, Invocation: 3, Now: rankNow})
	if !reflect.DeepEqual(thirdPass.ProductIDs[:2], []string{"x", "z"}) {
		t.Fatalf("wrap-around picks must emit in manual order [x z], got %v", thirdPass.ProductIDs)
	}

	wrapped := Rank(RankingInput{Config: config, Products: products, Metrics: metrics, Invocation: 4, Now: rankNow})
	if !reflect.DeepEqual(wrapped.ProductIDs[:2], []string{"x", "y"}) {
		t.Fatalf("invocation 4 should wrap back to [x y], got %v", wrapped.ProductIDs)
	}
}

func TestRankFeaturedNoCapKeepsManualOrder(t *testing.T) {
	config := baseConfig()
	config.LimitFeatured = 0
	config.Featured = []FeaturedEntry{
		{ProductID: "x", Mode: domain.FeaturedManual, Position: 1},
		{ProductID: "y", Mode: domain.FeaturedManual, Position: 2},
		{ProductID: "z", Mode: domain.FeaturedManual, Position: 3},
	}

	products := []CatalogProduct{product("x"), product("y"), product("z"), product("w")}
	metrics := metricsFor(map[string]float64{"w": 100})

	for _, invocation := range []int64{1, 2, 5} {
		order := Rank(RankingInput{Config: config, Products: products, Metrics: metrics, Invocation: invocation, Now: rankNow})
		if !reflect.DeepEqual(order.ProductIDs[:3], []string{"x", "y", "z"}) {
			t.Fatalf("invocation %d: uncapped featured block must stay in manual order, got %v", invocation, order.ProductIDs)
		}
	}
}

func TestRankScheduledFeaturedWindow(t *testing.T) {
	config := baseConfig()
	config.Featured = []FeaturedEntry{
		{
			ProductID:    "s",
			Mode:         domain.FeaturedScheduled,
			Position:     1,
			StartDate:    rankNow.AddDate(0, 0, -1),
			DurationDays: 3,
		},
		{
			ProductID:    "expired",
			Mode:         domain.FeaturedScheduled,
			Position:     2,
			StartDate:    rankNow.AddDate(0, 0, -30),
			DurationDays: 5,
		},
	}

	products := []CatalogProduct{product("s"), product("expired"), product("other")}
	metrics := metricsFor(map[string]float64{"other": 50, "expired": 40})

	order := Rank(RankingInput{Config: config, Products: products, Metrics: metrics, Invocation: 1, Now: rankNow})
	if order.ProductIDs[0] != "s" {
		t.Fatalf("active scheduled entry should pin first, got %v", order.ProductIDs)
	}
	if order.ProductIDs[1] == "expired" {
		t.Fatalf("expired scheduled entry must not be pinned, got %v", order.ProductIDs)
	}
}

func TestRankFeaturedOutOfStockTieBreak(t *testing.T) {
	config := baseConfig()
	config.Behavior = BehaviorRules{
		PushOutOfStockDown:   true,
		FeaturedVsOutOfStock: domain.TieBreakPreferOutOfStock,
	}
	config.Featured = []FeaturedEntry{
		{ProductID: "gone", Mode: domain.FeaturedManual, Position: 1},
	}

	products := []CatalogProduct{product("gone", withInventory(0)), product("plain")}
	order := Rank(RankingInput{Config: config, Products: products, Metrics: MetricSet{}, Invocation: 1, Now: rankNow})

	want := []string{"plain", "gone"}
	if !reflect.DeepEqual(order.ProductIDs, want) {
		t.Fatalf("out-of-stock featured product should not be pinned, got %v", order.ProductIDs)
	}
}

func TestRankAscendingDirection(t *testing.T) {
	config := baseConfig()
	config.Settings.PrimaryCriterion = domain.CriterionPrice
	config.Settings.Direction = domain.DirectionAscending

	products := []CatalogProduct{product("a"), product("b"), product("c")}
	products[0].UnitPrice = 30
	products[1].UnitPrice = 10
	products[2].UnitPrice = 20

	order := Rank(RankingInput{Config: config, Products: products, Metrics: MetricSet{}, Now: rankNow})
	want := []string{"b", "c", "a"}
	if !reflect.DeepEqual(order.ProductIDs, want) {
		t.Fatalf("expected ascending price order %v, got %v", want, order.ProductIDs)
	}
}

func TestMovesAreZeroBasedPositions(t *testing.T) {
	order := domain.RankedOrder{
		CollectionID: "gid://shopify/Collection/1",
		ProductIDs:   []string{"b", "a", "c"},
	}
	moves := Moves(order)
	if len(moves) != 3 {
		t.Fatalf("expected 3 moves, got %d", len(moves))
	}
	if !sort.SliceIsSorted(moves, func(i, j int) bool { return moves[i].Position < moves[j].Position }) {
		t.Fatal("moves must be emitted in position order")
	}
	if moves[0].ProductID != "b" || moves[0].Position != 0 {
		t.Fatalf("unexpected first move %+v", moves[0])
	}
}
