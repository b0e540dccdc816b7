package services

import (
	"sort"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
)

// The ranking engine is pure: same inputs, same output. All catalog and
// metric state comes in through RankingInput; nothing here touches I/O.

// RankingInput is everything one ranking pass reads.
type RankingInput struct {
	Config   CollectionConfig
	Products []CatalogProduct
	Metrics  MetricSet
	// Invocation is the persisted resort counter value driving featured
	// rotation. Zero means rotation has never run; the first window is used.
	Invocation int64
	Now        time.Time
}

// zoneSlot orders the placement buckets. Assembly always walks slots in
// declaration order.
type zoneSlot int

const (
	slotTop zoneSlot = iota
	slotNew
	slotAfterNew
	slotNone
	slotBeforeOutOfStock
	slotOutOfStock
	slotBottom
	slotCount
)

var ruleZoneSlots = map[domain.Zone]zoneSlot{
	domain.ZoneTop:              slotTop,
	domain.ZoneAfterNew:         slotAfterNew,
	domain.ZoneNone:             slotNone,
	domain.ZoneBeforeOutOfStock: slotBeforeOutOfStock,
	domain.ZoneBottom:           slotBottom,
}

// Rank computes the final display order for a collection. The output always
// contains every input product exactly once.
func Rank(input RankingInput) domain.RankedOrder {
	ranked := sortByBaseKey(input.Products, input.Metrics, input.Config.Settings)

	zones := make([][]CatalogProduct, slotCount)
	for _, product := range ranked {
		slot := assignSlot(product, input.Config, input.Now)
		zones[slot] = append(zones[slot], product)
	}

	ordered := make([]string, 0, len(ranked))
	for _, zone := range zones {
		for _, product := range zone {
			ordered = append(ordered, product.ID)
		}
	}

	pinned := pinnedFeatured(input)
	final := overlayPins(pinned, ordered)

	return domain.RankedOrder{
		CollectionID: input.Config.CollectionID,
		ProductIDs:   final,
		Invocation:   input.Invocation,
		ComputedAt:   input.Now,
	}
}

// sortByBaseKey orders products by the primary criterion. The manual
// criterion keeps the catalog's own order; only overlays apply on top. Ties
// keep catalog order, so the sort is fully deterministic.
func sortByBaseKey(products []CatalogProduct, metrics MetricSet, settings CollectionSettings) []CatalogProduct {
	out := make([]CatalogProduct, len(products))
	copy(out, products)
	if settings.PrimaryCriterion == domain.CriterionManual {
		return out
	}

	descending := settings.Direction != domain.DirectionAscending
	sort.SliceStable(out, func(i, j int) bool {
		a := baseKey(out[i], metrics, settings)
		b := baseKey(out[j], metrics, settings)
		if descending {
			return a > b
		}
		return a < b
	})
	return out
}

func baseKey(product CatalogProduct, metrics MetricSet, settings CollectionSettings) float64 {
	metric := metrics[product.ID]
	switch settings.PrimaryCriterion {
	case domain.CriterionRevenue:
		if settings.IncludeDiscounts {
			return metric.DiscountedRevenue
		}
		return metric.GrossRevenue
	case domain.CriterionUnitsSold:
		return float64(metric.UnitsSold)
	case domain.CriterionCreationDate:
		return float64(product.CreatedAt.Unix())
	case domain.CriterionPublishDate:
		return float64(product.PublishedAt.Unix())
	case domain.CriterionPrice:
		return product.UnitPrice
	case domain.CriterionInventory:
		return float64(product.Inventory)
	default:
		return 0
	}
}

// assignSlot resolves a product's zone. Tag rules are checked first since an
// explicit rule outranks the new-product heuristic; conflicts with the
// out-of-stock overlay go through the configured tie-breaks.
func assignSlot(product CatalogProduct, config CollectionConfig, now time.Time) zoneSlot {
	outOfStock := config.Behavior.PushOutOfStockDown && product.OutOfStock()

	if zone, matched := firstRuleZone(product, config.TagRules); matched {
		if outOfStock && preferOutOfStock(config.Behavior.TagVsOutOfStock) {
			return slotOutOfStock
		}
		return ruleZoneSlots[zone]
	}

	if isNewProduct(product, config.Behavior, now) {
		if outOfStock && preferOutOfStock(config.Behavior.NewVsOutOfStock) {
			return slotOutOfStock
		}
		return slotNew
	}

	if outOfStock {
		return slotOutOfStock
	}
	return slotNone
}

// firstRuleZone returns the zone of the first declared rule whose tag the
// product carries.
func firstRuleZone(product CatalogProduct, rules []TagPlacementRule) (domain.Zone, bool) {
	for _, rule := range rules {
		if product.HasTag(rule.Tag) {
			if _, known := ruleZoneSlots[rule.Zone]; known {
				return rule.Zone, true
			}
		}
	}
	return "", false
}

func isNewProduct(product CatalogProduct, behavior BehaviorRules, now time.Time) bool {
	if !behavior.PushNewUp || behavior.NewThresholdDays <= 0 {
		return false
	}
	if product.CreatedAt.IsZero() {
		return false
	}
	cutoff := now.AddDate(0, 0, -behavior.NewThresholdDays)
	return product.CreatedAt.After(cutoff)
}

// preferOutOfStock reports whether the tie-break sends conflicted products to
// the out-of-stock zone. Empty defaults to the non-out-of-stock side.
func preferOutOfStock(tieBreak domain.TieBreak) bool {
	return tieBreak == domain.TieBreakPreferOutOfStock
}

// pinnedFeatured selects the featured product IDs to pin. Rotation only
// applies when the cap is smaller than the active set; it advances one entry
// per resort invocation, and the selected entries always emit in manual pin
// order. Entries deflected to out of stock by the featured tie-break are
// skipped.
func pinnedFeatured(input RankingInput) []string {
	active := make([]FeaturedEntry, 0, len(input.Config.Featured))
	for _, entry := range input.Config.SortedFeatured() {
		if entry.ActiveAt(input.Now) {
			active = append(active, entry)
		}
	}
	if len(active) == 0 {
		return nil
	}

	limit := input.Config.LimitFeatured
	if limit <= 0 || limit > len(active) {
		limit = len(active)
	}

	indices := make([]int, 0, limit)
	if limit < len(active) && input.Invocation > 0 {
		offset := int((input.Invocation - 1) % int64(len(active)))
		for i := 0; i < limit; i++ {
			indices = append(indices, (offset+i)%len(active))
		}
		// Wrap-around picks come out of cycle order; restore manual order.
		sort.Ints(indices)
	} else {
		for i := 0; i < limit; i++ {
			indices = append(indices, i)
		}
	}

	byID := make(map[string]CatalogProduct, len(input.Products))
	for _, product := range input.Products {
		byID[product.ID] = product
	}

	pinned := make([]string, 0, limit)
	for _, idx := range indices {
		entry := active[idx]
		product, inCollection := byID[entry.ProductID]
		if !inCollection {
			continue
		}
		if input.Config.Behavior.PushOutOfStockDown && product.OutOfStock() &&
			preferOutOfStock(input.Config.Behavior.FeaturedVsOutOfStock) {
			continue
		}
		pinned = append(pinned, entry.ProductID)
	}
	return pinned
}

// overlayPins places pinned IDs at the head and removes their duplicates from
// the tail, conserving the product set.
func overlayPins(pinned, ordered []string) []string {
	if len(pinned) == 0 {
		return ordered
	}
	pinnedSet := make(map[string]struct{}, len(pinned))
	for _, id := range pinned {
		pinnedSet[id] = struct{}{}
	}

	final := make([]string, 0, len(ordered))
	final = append(final, pinned...)
	for _, id := range ordered {
		if _, isPinned := pinnedSet[id]; isPinned {
			continue
		}
		final = append(final, id)
	}
	return final
}

// Moves converts a ranked order into zero-based position moves.
func Moves(order domain.RankedOrder) []domain.ProductMove {
	moves := make([]domain.ProductMove, 0, len(order.ProductIDs))
	for position, id := range order.ProductIDs {
		moves = append(moves, domain.ProductMove{ProductID: id, Position: position})
	}
	return moves
}
