package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/platform/textutil"
	"github.com/shelfsort/api/internal/repositories"
)

var (
	// ErrSettingsNotFound indicates no configuration exists for the collection.
	ErrSettingsNotFound = errors.New("settings: not found")
	// ErrSettingsInvalid indicates the configuration failed validation.
	ErrSettingsInvalid = errors.New("settings: invalid")
	// ErrSettingsUnavailable indicates the settings store could not be reached.
	ErrSettingsUnavailable = errors.New("settings: unavailable")
)

// SettingsServiceDeps bundles collaborators for the settings service.
type SettingsServiceDeps struct {
	Repository repositories.SettingsRepository
	Aggregator SalesAggregator
	Clock      func() time.Time
	Logger     Logger
}

type settingsService struct {
	repo       repositories.SettingsRepository
	aggregator SalesAggregator
	clock      func() time.Time
	log        Logger
}

// NewSettingsService constructs the validated settings service.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Repository == nil {
		return nil, errors.New("settings service: repository is required")
	}
	if deps.Aggregator == nil {
		return nil, errors.New("settings service: aggregator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = NoopLogger()
	}
	return &settingsService{
		repo:       deps.Repository,
		aggregator: deps.Aggregator,
		clock: func() time.Time {
			return clock().UTC()
		},
		log: logger,
	}, nil
}

func (s *settingsService) Get(ctx context.Context, shop, collectionID string) (CollectionConfig, error) {
	shop = strings.TrimSpace(shop)
	collectionID = strings.TrimSpace(collectionID)
	if shop == "" || collectionID == "" {
		return CollectionConfig{}, fmt.Errorf("%w: shop and collection id are required", ErrSettingsInvalid)
	}

	config, err := s.repo.Get(ctx, shop, collectionID)
	if err != nil {
		return CollectionConfig{}, mapSettingsRepositoryError(err)
	}
	return config, nil
}

// Save validates the configuration, including tag rules against the live
// collection membership, then persists it. Configuration errors surface at
// save time so the ranking engine never sees an invalid rule set.
func (s *settingsService) Save(ctx context.Context, config CollectionConfig) (CollectionConfig, error) {
	config.Shop = strings.TrimSpace(config.Shop)
	config.CollectionID = strings.TrimSpace(config.CollectionID)
	if config.Shop == "" {
		return CollectionConfig{}, fmt.Errorf("%w: shop is required", ErrSettingsInvalid)
	}
	if err := config.Validate(); err != nil {
		return CollectionConfig{}, fmt.Errorf("%w: %s", ErrSettingsInvalid, err)
	}
	if err := s.validateTagsExist(ctx, config); err != nil {
		return CollectionConfig{}, err
	}

	config.UpdatedAt = s.clock()
	if err := s.repo.Save(ctx, config); err != nil {
		return CollectionConfig{}, mapSettingsRepositoryError(err)
	}

	s.log(ctx, "settings_saved", map[string]any{
		"shop":          config.Shop,
		"collection_id": config.CollectionID,
		"criterion":     string(config.Settings.PrimaryCriterion),
		"tag_rules":     len(config.TagRules),
		"featured":      len(config.Featured),
	})
	return config, nil
}

func (s *settingsService) Delete(ctx context.Context, shop, collectionID string) error {
	shop = strings.TrimSpace(shop)
	collectionID = strings.TrimSpace(collectionID)
	if shop == "" || collectionID == "" {
		return fmt.Errorf("%w: shop and collection id are required", ErrSettingsInvalid)
	}
	if err := s.repo.Delete(ctx, shop, collectionID); err != nil {
		return mapSettingsRepositoryError(err)
	}
	return nil
}

func (s *settingsService) List(ctx context.Context, shop string, pager Pagination) (domain.CursorPage[CollectionConfig], error) {
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return domain.CursorPage[CollectionConfig]{}, fmt.Errorf("%w: shop is required", ErrSettingsInvalid)
	}
	page, err := s.repo.ListByShop(ctx, shop, pager)
	if err != nil {
		return domain.CursorPage[CollectionConfig]{}, mapSettingsRepositoryError(err)
	}
	return page, nil
}

// validateTagsExist rejects tag rules naming tags no product in the
// collection carries. Matching folds case the same way the ranking engine
// does. When membership comes back partial the check is skipped rather than
// rejecting a possibly valid rule.
func (s *settingsService) validateTagsExist(ctx context.Context, config CollectionConfig) error {
	if len(config.TagRules) == 0 {
		return nil
	}

	membership, err := s.aggregator.FetchAllProducts(ctx, config.CollectionID)
	if err != nil {
		return fmt.Errorf("%w: fetch collection membership: %s", ErrSettingsUnavailable, err)
	}
	if membership.Partial || membership.Truncated {
		s.log(ctx, "settings_tag_check_skipped", map[string]any{
			"shop":          config.Shop,
			"collection_id": config.CollectionID,
			"warning":       membership.Warning,
		})
		return nil
	}

	known := make(map[string]struct{})
	for _, product := range membership.Products {
		for _, tag := range product.Tags {
			known[textutil.NormalizeTag(tag)] = struct{}{}
		}
	}
	for _, rule := range config.TagRules {
		if _, ok := known[textutil.NormalizeTag(rule.Tag)]; !ok {
			return fmt.Errorf("%w: tag %q not present on any product in the collection", ErrSettingsInvalid, rule.Tag)
		}
	}
	return nil
}

func mapSettingsRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrSettingsNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s", ErrSettingsUnavailable, err)
		}
	}
	return err
}
