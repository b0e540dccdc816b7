package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/platform/cache"
	"github.com/shelfsort/api/internal/repositories"
)

type stubCounterRepository struct {
	value int64
	err   error
	calls []string
}

func (s *stubCounterRepository) Next(_ context.Context, counterID string, _ int64) (int64, error) {
	s.calls = append(s.calls, counterID)
	if s.err != nil {
		return 0, s.err
	}
	s.value++
	return s.value, nil
}

func (s *stubCounterRepository) Configure(_ context.Context, _ string, _ repositories.CounterConfig) error {
	return nil
}

type stubPublisher struct {
	messages []ResortEventMessage
	err      error
}

func (s *stubPublisher) PublishResortEvent(_ context.Context, message ResortEventMessage) (string, error) {
	s.messages = append(s.messages, message)
	if s.err != nil {
		return "", s.err
	}
	return "msg-1", nil
}

type collectionFixture struct {
	settings  *stubSettingsRepository
	counters  *stubCounterRepository
	agg       *stubAggregator
	gateway   *stubReorderGateway
	publisher *stubPublisher
	store     *cache.MemoryStore
	clock     time.Time
	service   CollectionService
}

func newCollectionFixture(t *testing.T) *collectionFixture {
	t.Helper()

	fixture := &collectionFixture{
		settings:  &stubSettingsRepository{},
		counters:  &stubCounterRepository{},
		agg:       &stubAggregator{},
		gateway:   &stubReorderGateway{},
		publisher: &stubPublisher{},
		store:     cache.NewMemoryStore(),
		clock:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	config := validConfig()
	fixture.settings.getFn = func(string, string) (domain.CollectionConfig, error) {
		return config, nil
	}
	fixture.agg.productsFn = membershipWith(product("a"), product("b"), product("c"))
	fixture.agg.salesFn = func(AggregationQuery) (AggregationResult, error) {
		return AggregationResult{
			Metrics: metricsFor(map[string]float64{"a": 10, "b": 30, "c": 20}),
		}, nil
	}

	executor, err := NewReorderExecutor(ReorderExecutorDeps{
		Gateway: fixture.gateway,
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewReorderExecutor: %v", err)
	}

	service, err := NewCollectionService(CollectionServiceDeps{
		Settings:   fixture.settings,
		Counters:   fixture.counters,
		Aggregator: fixture.agg,
		Executor:   executor,
		Cache:      fixture.store,
		CacheTTL:   5 * time.Minute,
		Publisher:  fixture.publisher,
		Clock:      func() time.Time { return fixture.clock },
	})
	if err != nil {
		t.Fatalf("NewCollectionService: %v", err)
	}
	fixture.service = service
	return fixture
}

func resortCmd() ResortCommand {
	return ResortCommand{Shop: "demo.myshopify.com", CollectionID: "gid://shopify/Collection/1"}
}

func TestResortAppliesRankedOrder(t *testing.T) {
	fixture := newCollectionFixture(t)

	report, err := fixture.service.Resort(context.Background(), resortCmd())
	if err != nil {
		t.Fatalf("Resort: %v", err)
	}
	if report.Result.Outcome != domain.ReorderSuccess {
		t.Fatalf("expected success, got %s (%s)", report.Result.Outcome, report.Result.Message)
	}
	want := []string{"b", "c", "a"}
	if !reflect.DeepEqual(report.Ranked.ProductIDs, want) {
		t.Fatalf("expected ranked order %v, got %v", want, report.Ranked.ProductIDs)
	}
	if len(fixture.gateway.reorderCalls) != 1 {
		t.Fatalf("expected one reorder batch, got %d", len(fixture.gateway.reorderCalls))
	}
	if len(fixture.counters.calls) != 1 {
		t.Fatalf("expected one counter advance, got %d", len(fixture.counters.calls))
	}
}

func TestResortPublishesOutcomeEvent(t *testing.T) {
	fixture := newCollectionFixture(t)

	report, err := fixture.service.Resort(context.Background(), resortCmd())
	if err != nil {
		t.Fatalf("Resort: %v", err)
	}
	if len(fixture.publisher.messages) != 1 {
		t.Fatalf("expected one event, got %d", len(fixture.publisher.messages))
	}
	message := fixture.publisher.messages[0]
	if message.Outcome != "success" || message.AttemptID != report.Result.AttemptID {
		t.Fatalf("unexpected event %+v", message)
	}
	if message.MoveCount != 3 {
		t.Fatalf("expected 3 moves in event, got %d", message.MoveCount)
	}
}

func TestResortSurvivesPublishFailure(t *testing.T) {
	fixture := newCollectionFixture(t)
	fixture.publisher.err = errors.New("topic gone")

	report, err := fixture.service.Resort(context.Background(), resortCmd())
	if err != nil {
		t.Fatalf("publish failures must not fail the resort: %v", err)
	}
	if report.Result.Outcome != domain.ReorderSuccess {
		t.Fatalf("expected success, got %s", report.Result.Outcome)
	}
}

func TestResortFailsWithoutSettings(t *testing.T) {
	fixture := newCollectionFixture(t)
	fixture.settings.getFn = func(string, string) (domain.CollectionConfig, error) {
		return domain.CollectionConfig{}, notFoundError{}
	}

	_, err := fixture.service.Resort(context.Background(), resortCmd())
	if !errors.Is(err, ErrCollectionNotConfigured) {
		t.Fatalf("expected ErrCollectionNotConfigured, got %v", err)
	}
}

func TestResortAdvancesFeaturedRotation(t *testing.T) {
	fixture := newCollectionFixture(t)
	config := validConfig()
	config.LimitFeatured = 2
	config.Featured = []FeaturedEntry{
		{ProductID: "a", Mode: domain.FeaturedManual, Position: 1},
		{ProductID: "b", Mode: domain.FeaturedManual, Position: 2},
		{ProductID: "c", Mode: domain.FeaturedManual, Position: 3},
	}
	fixture.settings.getFn = func(string, string) (domain.CollectionConfig, error) {
		return config, nil
	}

	first, err := fixture.service.Resort(context.Background(), resortCmd())
	if err != nil {
		t.Fatalf("first resort: %v", err)
	}
	if !reflect.DeepEqual(first.Ranked.ProductIDs[:2], []string{"a", "b"}) {
		t.Fatalf("first resort should pin [a b], got %v", first.Ranked.ProductIDs)
	}

	// Move past the cache TTL so the second pass recomputes with the new
	// invocation.
	fixture.clock = fixture.clock.Add(6 * time.Minute)

	second, err := fixture.service.Resort(context.Background(), resortCmd())
	if err != nil {
		t.Fatalf("second resort: %v", err)
	}
	if !reflect.DeepEqual(second.Ranked.ProductIDs[:2], []string{"b", "c"}) {
		t.Fatalf("second resort should pin [b c], got %v", second.Ranked.ProductIDs)
	}
}

func TestResortPropagatesAggregationWarnings(t *testing.T) {
	fixture := newCollectionFixture(t)
	fixture.agg.salesFn = func(AggregationQuery) (AggregationResult, error) {
		return AggregationResult{
			Metrics: make(MetricSet),
			Partial: true,
			Warning: "order page fetch failed: upstream 502",
		}, nil
	}

	report, err := fixture.service.Resort(context.Background(), resortCmd())
	if err != nil {
		t.Fatalf("Resort: %v", err)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", report.Warnings)
	}
}

func TestPreviewDoesNotMutateOrAdvance(t *testing.T) {
	fixture := newCollectionFixture(t)

	result, err := fixture.service.Preview(context.Background(), PreviewCommand{
		Shop:         "demo.myshopify.com",
		CollectionID: "gid://shopify/Collection/1",
		Limit:        2,
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(result.Items) != 2 || result.Total != 3 {
		t.Fatalf("expected top-2 of 3, got %+v", result)
	}
	if result.Items[0].ProductID != "b" || result.Items[0].Revenue != 30 {
		t.Fatalf("unexpected first item %+v", result.Items[0])
	}
	if len(fixture.gateway.reorderCalls) != 0 || fixture.gateway.manualCalls != 0 {
		t.Fatal("preview must not touch the reorder gateway")
	}
	if len(fixture.counters.calls) != 0 {
		t.Fatal("preview must not advance the resort counter")
	}
}

func TestPreviewUsesOverrideWithoutPersisting(t *testing.T) {
	fixture := newCollectionFixture(t)

	override := validConfig()
	override.Settings.PrimaryCriterion = domain.CriterionRevenue
	override.Settings.Direction = domain.DirectionAscending

	result, err := fixture.service.Preview(context.Background(), PreviewCommand{
		Shop:         "demo.myshopify.com",
		CollectionID: "gid://shopify/Collection/1",
		Override:     &override,
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if result.Items[0].ProductID != "a" {
		t.Fatalf("ascending override should rank a first, got %+v", result.Items[0])
	}
	if len(fixture.settings.saved) != 0 {
		t.Fatal("override must not be persisted")
	}
}

func TestPreviewRejectsInvalidOverride(t *testing.T) {
	fixture := newCollectionFixture(t)

	override := validConfig()
	override.Settings.PrimaryCriterion = "popularity"

	_, err := fixture.service.Preview(context.Background(), PreviewCommand{
		Shop:         "demo.myshopify.com",
		CollectionID: "gid://shopify/Collection/1",
		Override:     &override,
	})
	if !errors.Is(err, ErrCollectionInvalidInput) {
		t.Fatalf("expected ErrCollectionInvalidInput, got %v", err)
	}
}

func TestPreviewReusesCachedResortOrder(t *testing.T) {
	fixture := newCollectionFixture(t)

	report, err := fixture.service.Resort(context.Background(), resortCmd())
	if err != nil {
		t.Fatalf("Resort: %v", err)
	}

	// Flip the metric order; a fresh ranking would now differ, but the
	// cached order from the resort should win within the TTL window.
	fixture.agg.salesFn = func(AggregationQuery) (AggregationResult, error) {
		return AggregationResult{
			Metrics: metricsFor(map[string]float64{"a": 99, "b": 1, "c": 2}),
		}, nil
	}

	preview, err := fixture.service.Preview(context.Background(), PreviewCommand{
		Shop:         "demo.myshopify.com",
		CollectionID: "gid://shopify/Collection/1",
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	previewIDs := make([]string, 0, len(preview.Items))
	for _, item := range preview.Items {
		previewIDs = append(previewIDs, item.ProductID)
	}
	if !reflect.DeepEqual(previewIDs, report.Ranked.ProductIDs) {
		t.Fatalf("preview should reuse the cached order %v, got %v", report.Ranked.ProductIDs, previewIDs)
	}
}
