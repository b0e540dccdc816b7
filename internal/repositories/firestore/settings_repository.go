package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shelfsort/api/internal/domain"
	pfirestore "github.com/shelfsort/api/internal/platform/firestore"
)

const settingsCollection = "collectionSettings"

type settingsDocument struct {
	Shop             string                  `firestore:"shop"`
	CollectionID     string                  `firestore:"collectionId"`
	PrimaryCriterion string                  `firestore:"primaryCriterion"`
	Direction        string                  `firestore:"direction"`
	LookbackDays     int                     `firestore:"lookbackDays"`
	OrderFilter      string                  `firestore:"orderFilter"`
	IncludeDiscounts bool                    `firestore:"includeDiscounts"`
	Behavior         behaviorDocument        `firestore:"behavior"`
	TagRules         []tagRuleDocument       `firestore:"tagRules"`
	Featured         []featuredEntryDocument `firestore:"featured"`
	LimitFeatured    int                     `firestore:"limitFeatured"`
	UpdatedAt        time.Time               `firestore:"updatedAt"`
}

type behaviorDocument struct {
	PushNewUp            bool   `firestore:"pushNewUp"`
	NewThresholdDays     int    `firestore:"newThresholdDays"`
	PushOutOfStockDown   bool   `firestore:"pushOutOfStockDown"`
	NewVsOutOfStock      string `firestore:"newVsOutOfStock"`
	TagVsOutOfStock      string `firestore:"tagVsOutOfStock"`
	FeaturedVsOutOfStock string `firestore:"featuredVsOutOfStock"`
}

type tagRuleDocument struct {
	Tag  string `firestore:"tag"`
	Zone string `firestore:"zone"`
}

type featuredEntryDocument struct {
	ProductID    string    `firestore:"productId"`
	Mode         string    `firestore:"mode"`
	Position     int       `firestore:"position"`
	StartDate    time.Time `firestore:"startDate,omitempty"`
	DurationDays int       `firestore:"durationDays,omitempty"`
}

// SettingsRepository persists per-collection ranking configuration in Firestore.
type SettingsRepository struct {
	base *pfirestore.BaseRepository[domain.CollectionConfig]
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository: firestore provider is required")
	}

	encoder := func(_ context.Context, value domain.CollectionConfig) (any, error) {
		return encodeSettingsDocument(value), nil
	}
	decoder := func(_ context.Context, snap *firestore.DocumentSnapshot) (domain.CollectionConfig, error) {
		var doc settingsDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CollectionConfig{}, err
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodeSettingsDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.CollectionConfig](provider, settingsCollection, encoder, decoder)
	return &SettingsRepository{base: base}, nil
}

// Get loads the configuration for one collection.
func (r *SettingsRepository) Get(ctx context.Context, shop, collectionID string) (domain.CollectionConfig, error) {
	if r == nil || r.base == nil {
		return domain.CollectionConfig{}, errors.New("settings repository not initialised")
	}
	id := documentID(shop, collectionID)
	if id == "" {
		return domain.CollectionConfig{}, errors.New("settings repository: shop and collection id are required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.CollectionConfig{}, err
	}
	return doc.Data, nil
}

// Save upserts the configuration document.
func (r *SettingsRepository) Save(ctx context.Context, config domain.CollectionConfig) error {
	if r == nil || r.base == nil {
		return errors.New("settings repository not initialised")
	}
	id := documentID(config.Shop, config.CollectionID)
	if id == "" {
		return errors.New("settings repository: shop and collection id are required")
	}
	if _, err := r.base.Set(ctx, id, config); err != nil {
		return err
	}
	return nil
}

// Delete removes the configuration document.
func (r *SettingsRepository) Delete(ctx context.Context, shop, collectionID string) error {
	if r == nil || r.base == nil {
		return errors.New("settings repository not initialised")
	}
	id := documentID(shop, collectionID)
	if id == "" {
		return errors.New("settings repository: shop and collection id are required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("collectionSettings.delete", err)
	}
	return nil
}

// ListByShop pages through all configured collections for a shop ordered by
// collection ID.
func (r *SettingsRepository) ListByShop(ctx context.Context, shop string, pager domain.Pagination) (domain.CursorPage[domain.CollectionConfig], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.CollectionConfig]{}, errors.New("settings repository not initialised")
	}
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return domain.CursorPage[domain.CollectionConfig]{}, errors.New("settings repository: shop is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("shop", "==", shop).OrderBy("collectionId", firestore.Asc)
		if token := strings.TrimSpace(pager.PageToken); token != "" {
			q = q.StartAfter(token)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.CollectionConfig]{}, err
	}

	page := domain.CursorPage[domain.CollectionConfig]{}
	for i, doc := range docs {
		if i == pageSize {
			page.HasMore = true
			break
		}
		page.Items = append(page.Items, doc.Data)
	}
	if page.HasMore && len(page.Items) > 0 {
		page.NextPageToken = page.Items[len(page.Items)-1].CollectionID
	}
	return page, nil
}

func encodeSettingsDocument(config domain.CollectionConfig) settingsDocument {
	doc := settingsDocument{
		Shop:             strings.TrimSpace(config.Shop),
		CollectionID:     strings.TrimSpace(config.CollectionID),
		PrimaryCriterion: string(config.Settings.PrimaryCriterion),
		Direction:        string(config.Settings.Direction),
		LookbackDays:     config.Settings.LookbackDays,
		OrderFilter:      string(config.Settings.OrderFilter),
		IncludeDiscounts: config.Settings.IncludeDiscounts,
		Behavior: behaviorDocument{
			PushNewUp:            config.Behavior.PushNewUp,
			NewThresholdDays:     config.Behavior.NewThresholdDays,
			PushOutOfStockDown:   config.Behavior.PushOutOfStockDown,
			NewVsOutOfStock:      string(config.Behavior.NewVsOutOfStock),
			TagVsOutOfStock:      string(config.Behavior.TagVsOutOfStock),
			FeaturedVsOutOfStock: string(config.Behavior.FeaturedVsOutOfStock),
		},
		LimitFeatured: config.LimitFeatured,
		UpdatedAt:     config.UpdatedAt,
	}
	for _, rule := range config.TagRules {
		doc.TagRules = append(doc.TagRules, tagRuleDocument{
			Tag:  strings.TrimSpace(rule.Tag),
			Zone: string(rule.Zone),
		})
	}
	for _, entry := range config.Featured {
		doc.Featured = append(doc.Featured, featuredEntryDocument{
			ProductID:    strings.TrimSpace(entry.ProductID),
			Mode:         string(entry.Mode),
			Position:     entry.Position,
			StartDate:    entry.StartDate,
			DurationDays: entry.DurationDays,
		})
	}
	return doc
}

func decodeSettingsDocument(doc settingsDocument) domain.CollectionConfig {
	config := domain.CollectionConfig{
		Shop:         doc.Shop,
		CollectionID: doc.CollectionID,
		Settings: domain.CollectionSettings{
			PrimaryCriterion: domain.SortCriterion(doc.PrimaryCriterion),
			Direction:        domain.SortDirection(doc.Direction),
			LookbackDays:     doc.LookbackDays,
			OrderFilter:      domain.OrderStatusFilter(doc.OrderFilter),
			IncludeDiscounts: doc.IncludeDiscounts,
		},
		Behavior: domain.BehaviorRules{
			PushNewUp:            doc.Behavior.PushNewUp,
			NewThresholdDays:     doc.Behavior.NewThresholdDays,
			PushOutOfStockDown:   doc.Behavior.PushOutOfStockDown,
			NewVsOutOfStock:      domain.TieBreak(doc.Behavior.NewVsOutOfStock),
			TagVsOutOfStock:      domain.TieBreak(doc.Behavior.TagVsOutOfStock),
			FeaturedVsOutOfStock: domain.TieBreak(doc.Behavior.FeaturedVsOutOfStock),
		},
		LimitFeatured: doc.LimitFeatured,
		UpdatedAt:     doc.UpdatedAt,
	}
	for _, rule := range doc.TagRules {
		config.TagRules = append(config.TagRules, domain.TagPlacementRule{
			Tag:  rule.Tag,
			Zone: domain.Zone(rule.Zone),
		})
	}
	for _, entry := range doc.Featured {
		config.Featured = append(config.Featured, domain.FeaturedEntry{
			ProductID:    entry.ProductID,
			Mode:         domain.FeaturedMode(entry.Mode),
			Position:     entry.Position,
			StartDate:    entry.StartDate,
			DurationDays: entry.DurationDays,
		})
	}
	return config
}

// documentID builds a Firestore-safe composite key from shop and collection.
// Collection GIDs contain slashes, which are not valid in document IDs.
func documentID(shop, collectionID string) string {
	shop = strings.TrimSpace(shop)
	collectionID = strings.TrimSpace(collectionID)
	if shop == "" || collectionID == "" {
		return ""
	}
	sanitize := func(s string) string {
		return strings.NewReplacer("/", "_", ":", "_").Replace(s)
	}
	return sanitize(shop) + "__" + sanitize(collectionID)
}
