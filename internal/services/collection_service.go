package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/platform/cache"
	"github.com/shelfsort/api/internal/repositories"
)

var (
	// ErrCollectionNotConfigured indicates no settings exist for the collection.
	ErrCollectionNotConfigured = errors.New("collection: not configured")
	// ErrCollectionInvalidInput indicates an unusable command.
	ErrCollectionInvalidInput = errors.New("collection: invalid input")
)

// ResortCommand requests one resort pass for a collection.
type ResortCommand struct {
	Shop         string
	CollectionID string
}

// ResortReport is what a resort returns to callers: the executor outcome plus
// any completeness warnings from aggregation.
type ResortReport struct {
	Result   domain.ReorderResult
	Ranked   domain.RankedOrder
	Warnings []string
}

// PreviewCommand requests the ranked order without applying it. Override,
// when set, replaces the stored configuration for this pass only.
type PreviewCommand struct {
	Shop         string
	CollectionID string
	Limit        int
	Override     *CollectionConfig
}

// PreviewItem is one row of a preview: the product at its computed position
// with the metrics that put it there.
type PreviewItem struct {
	Position  int
	ProductID string
	Title     string
	Vendor    string
	UnitsSold int
	Revenue   float64
	Inventory int
}

// PreviewResult is the ranked top-N with per-product metrics.
type PreviewResult struct {
	CollectionID string
	Items        []PreviewItem
	Total        int
	Warnings     []string
	ComputedAt   time.Time
}

// CollectionServiceDeps bundles collaborators for the collection service.
type CollectionServiceDeps struct {
	Settings   repositories.SettingsRepository
	Counters   repositories.CounterRepository
	Aggregator SalesAggregator
	Executor   *ReorderExecutor
	Cache      cache.Store
	CacheTTL   time.Duration
	Publisher  EventPublisher
	Clock      func() time.Time
	Logger     Logger
}

type collectionService struct {
	settings   repositories.SettingsRepository
	counters   repositories.CounterRepository
	aggregator SalesAggregator
	executor   *ReorderExecutor
	cache      cache.Store
	cacheTTL   time.Duration
	publisher  EventPublisher
	clock      func() time.Time
	log        Logger
}

// NewCollectionService constructs the resort/preview orchestrator.
func NewCollectionService(deps CollectionServiceDeps) (CollectionService, error) {
	if deps.Settings == nil {
		return nil, errors.New("collection service: settings repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("collection service: counter repository is required")
	}
	if deps.Aggregator == nil {
		return nil, errors.New("collection service: aggregator is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("collection service: executor is required")
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
	return &collectionService{
		settings:   deps.Settings,
		counters:   deps.Counters,
		aggregator: deps.Aggregator,
		executor:   deps.Executor,
		cache:      deps.Cache,
		cacheTTL:   ttl,
		publisher:  deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		log: logger,
	}, nil
}

// Resort computes the ranking for the collection and applies it through the
// reorder executor. The invocation counter advances once per resort, which
// is what rotates scheduled featured entries.
func (s *collectionService) Resort(ctx context.Context, cmd ResortCommand) (ResortReport, error) {
	shop := strings.TrimSpace(cmd.Shop)
	collectionID := strings.TrimSpace(cmd.CollectionID)
	if shop == "" || collectionID == "" {
		return ResortReport{}, fmt.Errorf("%w: shop and collection id are required", ErrCollectionInvalidInput)
	}

	config, err := s.loadConfig(ctx, shop, collectionID)
	if err != nil {
		return ResortReport{}, err
	}

	invocation, err := s.counters.Next(ctx, resortCounterID(shop, collectionID), 1)
	if err != nil {
		return ResortReport{}, fmt.Errorf("advance resort counter: %w", err)
	}

	ranked, warnings, err := s.computeRanking(ctx, config, invocation)
	if err != nil {
		return ResortReport{}, err
	}

	result, err := s.executor.Apply(ctx, ranked)
	if err != nil {
		return ResortReport{}, err
	}

	s.publishOutcome(ctx, shop, collectionID, result)

	return ResortReport{Result: result, Ranked: ranked, Warnings: warnings}, nil
}

// Preview returns the top of the ranked order without mutating the platform
// or advancing rotation. A cached order computed by a recent resort under
// the same configuration fingerprint is reused; otherwise the preview ranks
// with the unrotated first featured window.
func (s *collectionService) Preview(ctx context.Context, cmd PreviewCommand) (PreviewResult, error) {
	shop := strings.TrimSpace(cmd.Shop)
	collectionID := strings.TrimSpace(cmd.CollectionID)
	if shop == "" || collectionID == "" {
		return PreviewResult{}, fmt.Errorf("%w: shop and collection id are required", ErrCollectionInvalidInput)
	}

	var config CollectionConfig
	if cmd.Override != nil {
		config = *cmd.Override
		config.Shop = shop
		config.CollectionID = collectionID
		if err := config.Validate(); err != nil {
			return PreviewResult{}, fmt.Errorf("%w: %s", ErrCollectionInvalidInput, err)
		}
	} else {
		loaded, err := s.loadConfig(ctx, shop, collectionID)
		if err != nil {
			return PreviewResult{}, err
		}
		config = loaded
	}

	now := s.clock()
	var cached *domain.RankedOrder
	// Overrides are ad hoc and never hit the shared cache.
	if cmd.Override == nil {
		cached = s.cachedOrder(ctx, config, now)
	}

	var (
		ranked   domain.RankedOrder
		warnings []string
		pass     passData
	)
	if cached != nil {
		ranked = *cached
		data, _, err := s.fetchPass(ctx, config)
		if err != nil {
			return PreviewResult{}, err
		}
		pass = data
	} else {
		data, passWarnings, err := s.fetchPass(ctx, config)
		if err != nil {
			return PreviewResult{}, err
		}
		pass = data
		warnings = passWarnings
		ranked = Rank(RankingInput{
			Config:     config,
			Products:   pass.products,
			Metrics:    pass.metrics,
			Invocation: 0,
			Now:        now,
		})
	}

	limit := cmd.Limit
	if limit <= 0 || limit > len(ranked.ProductIDs) {
		limit = len(ranked.ProductIDs)
	}

	byID := make(map[string]CatalogProduct, len(pass.products))
	for _, product := range pass.products {
		byID[product.ID] = product
	}

	items := make([]PreviewItem, 0, limit)
	for position, id := range ranked.ProductIDs[:limit] {
		product := byID[id]
		metric := pass.metrics[id]
		revenue := metric.GrossRevenue
		if config.Settings.IncludeDiscounts {
			revenue = metric.DiscountedRevenue
		}
		items = append(items, PreviewItem{
			Position:  position,
			ProductID: id,
			Title:     product.Title,
			Vendor:    product.Vendor,
			UnitsSold: metric.UnitsSold,
			Revenue:   revenue,
			Inventory: product.Inventory,
		})
	}

	return PreviewResult{
		CollectionID: collectionID,
		Items:        items,
		Total:        len(ranked.ProductIDs),
		Warnings:     warnings,
		ComputedAt:   ranked.ComputedAt,
	}, nil
}

type passData struct {
	products []CatalogProduct
	metrics  MetricSet
}

// fetchPass runs the membership and sales fetches concurrently.
func (s *collectionService) fetchPass(ctx context.Context, config CollectionConfig) (passData, []string, error) {
	now := s.clock()
	query := AggregationQuery{
		Shop:   config.Shop,
		Since:  now.AddDate(0, 0, -config.Settings.LookbackDays),
		Until:  now,
		Filter: config.Settings.OrderFilter,
	}

	var (
		wg         sync.WaitGroup
		membership ProductFetchResult
		sales      AggregationResult
		memberErr  error
		salesErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		membership, memberErr = s.aggregator.FetchAllProducts(ctx, config.CollectionID)
	}()
	go func() {
		defer wg.Done()
		if config.Settings.PrimaryCriterion == domain.CriterionManual {
			// Manual sorting reads no metrics; skip the order feed entirely.
			sales = AggregationResult{Metrics: make(MetricSet)}
			return
		}
		sales, salesErr = s.aggregator.AggregateSales(ctx, query)
	}()
	wg.Wait()

	if memberErr != nil {
		return passData{}, nil, fmt.Errorf("fetch collection membership: %w", memberErr)
	}
	if salesErr != nil {
		return passData{}, nil, fmt.Errorf("aggregate sales: %w", salesErr)
	}

	var warnings []string
	if membership.Partial || membership.Truncated {
		warnings = append(warnings, membershipWarning(membership))
	}
	if sales.Partial || sales.Truncated {
		warnings = append(warnings, salesWarning(sales))
	}
	return passData{products: membership.Products, metrics: sales.Metrics}, warnings, nil
}

// computeRanking returns the cached order when the configuration fingerprint
// is fresh, otherwise runs a full aggregation and ranking pass and caches the
// result.
func (s *collectionService) computeRanking(ctx context.Context, config CollectionConfig, invocation int64) (domain.RankedOrder, []string, error) {
	now := s.clock()

	pass, warnings, err := s.fetchPass(ctx, config)
	if err != nil {
		return domain.RankedOrder{}, nil, err
	}

	ranked := Rank(RankingInput{
		Config:     config,
		Products:   pass.products,
		Metrics:    pass.metrics,
		Invocation: invocation,
		Now:        now,
	})

	s.storeOrder(ctx, config, ranked, now)
	return ranked, warnings, nil
}

func (s *collectionService) cachedOrder(ctx context.Context, config CollectionConfig, now time.Time) *domain.RankedOrder {
	if s.cache == nil {
		return nil
	}
	key := ConfigFingerprint(config, now, s.cacheTTL)
	payload, ok, err := s.cache.Get(ctx, key, now)
	if err != nil {
		s.log(ctx, "ranking_cache_read_failed", map[string]any{
			"collection_id": config.CollectionID,
			"error":         err.Error(),
		})
		return nil
	}
	if !ok {
		return nil
	}
	var ranked domain.RankedOrder
	if err := json.Unmarshal(payload, &ranked); err != nil {
		return nil
	}
	return &ranked
}

func (s *collectionService) storeOrder(ctx context.Context, config CollectionConfig, ranked domain.RankedOrder, now time.Time) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(ranked)
	if err != nil {
		return
	}
	key := ConfigFingerprint(config, now, s.cacheTTL)
	if err := s.cache.Set(ctx, key, payload, now, s.cacheTTL); err != nil {
		s.log(ctx, "ranking_cache_write_failed", map[string]any{
			"collection_id": config.CollectionID,
			"error":         err.Error(),
		})
	}
}

func (s *collectionService) loadConfig(ctx context.Context, shop, collectionID string) (CollectionConfig, error) {
	config, err := s.settings.Get(ctx, shop, collectionID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return CollectionConfig{}, fmt.Errorf("%w: %s/%s", ErrCollectionNotConfigured, shop, collectionID)
		}
		return CollectionConfig{}, fmt.Errorf("load settings: %w", err)
	}
	return config, nil
}

// publishOutcome emits the resort event. Publish failures are logged and
// never fail the resort.
func (s *collectionService) publishOutcome(ctx context.Context, shop, collectionID string, result domain.ReorderResult) {
	if s.publisher == nil {
		return
	}
	message := ResortEventMessage{
		AttemptID:    result.AttemptID,
		Shop:         shop,
		CollectionID: collectionID,
		Outcome:      string(result.Outcome),
		JobID:        result.JobID,
		MoveCount:    result.MoveCount,
		DurationMS:   result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		FinishedAt:   result.FinishedAt,
	}
	if _, err := s.publisher.PublishResortEvent(ctx, message); err != nil {
		s.log(ctx, "resort_event_publish_failed", map[string]any{
			"attempt_id":    result.AttemptID,
			"collection_id": collectionID,
			"error":         err.Error(),
		})
	}
}

func resortCounterID(shop, collectionID string) string {
	return "resort:" + shop + ":" + collectionID
}

func membershipWarning(result ProductFetchResult) string {
	if result.Warning != "" {
		return result.Warning
	}
	return "collection membership truncated by fetch budget"
}

func salesWarning(result AggregationResult) string {
	if result.Warning != "" {
		return result.Warning
	}
	return "sales aggregation truncated by budget"
}
