package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SortCriterion selects the base ranking key.
type SortCriterion string

const (
	CriterionRevenue      SortCriterion = "revenue"
	CriterionUnitsSold    SortCriterion = "unitsSold"
	CriterionCreationDate SortCriterion = "creationDate"
	CriterionPublishDate  SortCriterion = "publishDate"
	CriterionPrice        SortCriterion = "price"
	CriterionInventory    SortCriterion = "inventory"
	// CriterionManual disables metric-based sorting entirely; only behaviour,
	// tag, and featured overlays apply on top of the catalog's own order.
	CriterionManual SortCriterion = "manual"
)

// SortDirection orders the base key ascending or descending.
type SortDirection string

const (
	DirectionAscending  SortDirection = "ascending"
	DirectionDescending SortDirection = "descending"
)

// CollectionSettings is the merchant-configured primary sort for one
// collection.
type CollectionSettings struct {
	PrimaryCriterion SortCriterion
	Direction        SortDirection
	LookbackDays     int
	OrderFilter      OrderStatusFilter
	IncludeDiscounts bool
}

// Zone names one of the ordered placement buckets. Zones are assembled in
// the fixed order: top, new, afterNew, none, beforeOutOfStock, outOfStock,
// bottom.
type Zone string

const (
	ZoneTop              Zone = "top"
	ZoneAfterNew         Zone = "afterNew"
	ZoneNone             Zone = "none"
	ZoneBeforeOutOfStock Zone = "beforeOutOfStock"
	ZoneBottom           Zone = "bottom"
)

// TieBreak resolves which placement wins when a product qualifies for two
// conflicting overlays.
type TieBreak string

const (
	TieBreakPreferNew        TieBreak = "preferNew"
	TieBreakPreferTag        TieBreak = "preferTag"
	TieBreakPreferFeatured   TieBreak = "preferFeatured"
	TieBreakPreferOutOfStock TieBreak = "preferOutOfStock"
)

// BehaviorRules configures the new/out-of-stock overlays and their conflict
// resolution.
type BehaviorRules struct {
	PushNewUp          bool
	NewThresholdDays   int
	PushOutOfStockDown bool

	// Tie-breaks between competing overlays. Empty values default to the
	// non-out-of-stock side so an explicit merchant setting is never
	// silently contradicted.
	NewVsOutOfStock      TieBreak
	TagVsOutOfStock      TieBreak
	FeaturedVsOutOfStock TieBreak
}

// TagPlacementRule pins products carrying a tag into a zone. Rules are
// evaluated in declared order; the first tag present on a product wins.
type TagPlacementRule struct {
	Tag  string
	Zone Zone
}

// FeaturedMode distinguishes always-on pins from scheduled windows.
type FeaturedMode string

const (
	FeaturedManual    FeaturedMode = "manual"
	FeaturedScheduled FeaturedMode = "scheduled"
)

// FeaturedEntry is one pinned product. Scheduled entries are active only
// while now falls inside [StartDate, StartDate+DurationDays).
type FeaturedEntry struct {
	ProductID    string
	Mode         FeaturedMode
	Position     int
	StartDate    time.Time
	DurationDays int
}

// ActiveAt reports whether the entry should be pinned at the given instant.
func (e FeaturedEntry) ActiveAt(now time.Time) bool {
	switch e.Mode {
	case FeaturedScheduled:
		if e.StartDate.IsZero() || e.DurationDays <= 0 {
			return false
		}
		end := e.StartDate.AddDate(0, 0, e.DurationDays)
		return !now.Before(e.StartDate) && now.Before(end)
	default:
		return true
	}
}

// CollectionConfig bundles everything a ranking pass reads for one
// collection. It is the unit persisted in the settings repository and the
// unit hashed into cache fingerprints.
type CollectionConfig struct {
	Shop         string
	CollectionID string
	Settings     CollectionSettings
	Behavior     BehaviorRules
	TagRules     []TagPlacementRule
	Featured     []FeaturedEntry
	// LimitFeatured caps how many active featured entries are pinned per
	// resort; zero means no cap.
	LimitFeatured int
	UpdatedAt     time.Time
}

// SortedFeatured returns the featured entries ordered by their manual
// position, ties broken by product ID for determinism.
func (c CollectionConfig) SortedFeatured() []FeaturedEntry {
	out := make([]FeaturedEntry, len(c.Featured))
	copy(out, c.Featured)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

const (
	MinLookbackDays = 1
	MaxLookbackDays = 365
)

var validCriteria = map[SortCriterion]struct{}{
	CriterionRevenue:      {},
	CriterionUnitsSold:    {},
	CriterionCreationDate: {},
	CriterionPublishDate:  {},
	CriterionPrice:        {},
	CriterionInventory:    {},
	CriterionManual:       {},
}

var validRuleZones = map[Zone]struct{}{
	ZoneTop:              {},
	ZoneAfterNew:         {},
	ZoneBeforeOutOfStock: {},
	ZoneBottom:           {},
}

// Validate checks structural correctness of the configuration. Tag existence
// against the live catalog is checked separately at save time.
func (c CollectionConfig) Validate() error {
	if strings.TrimSpace(c.CollectionID) == "" {
		return fmt.Errorf("collection config: collection id is required")
	}
	if _, ok := validCriteria[c.Settings.PrimaryCriterion]; !ok {
		return fmt.Errorf("collection config: unknown criterion %q", c.Settings.PrimaryCriterion)
	}
	switch c.Settings.Direction {
	case DirectionAscending, DirectionDescending:
	default:
		return fmt.Errorf("collection config: unknown direction %q", c.Settings.Direction)
	}
	if c.Settings.LookbackDays < MinLookbackDays || c.Settings.LookbackDays > MaxLookbackDays {
		return fmt.Errorf("collection config: lookback days %d outside [%d, %d]", c.Settings.LookbackDays, MinLookbackDays, MaxLookbackDays)
	}
	switch c.Settings.OrderFilter {
	case OrderFilterAll, OrderFilterPaidOnly, OrderFilterFulfilledOnly:
	default:
		return fmt.Errorf("collection config: unknown order filter %q", c.Settings.OrderFilter)
	}
	if c.Behavior.PushNewUp && c.Behavior.NewThresholdDays <= 0 {
		return fmt.Errorf("collection config: new threshold days must be positive when pushNewUp is enabled")
	}
	if err := validateTieBreak(c.Behavior.NewVsOutOfStock, TieBreakPreferNew); err != nil {
		return err
	}
	if err := validateTieBreak(c.Behavior.TagVsOutOfStock, TieBreakPreferTag); err != nil {
		return err
	}
	if err := validateTieBreak(c.Behavior.FeaturedVsOutOfStock, TieBreakPreferFeatured); err != nil {
		return err
	}
	for _, rule := range c.TagRules {
		if strings.TrimSpace(rule.Tag) == "" {
			return fmt.Errorf("collection config: tag rule with empty tag")
		}
		if _, ok := validRuleZones[rule.Zone]; !ok {
			return fmt.Errorf("collection config: tag %q targets unknown zone %q", rule.Tag, rule.Zone)
		}
	}
	if c.LimitFeatured < 0 {
		return fmt.Errorf("collection config: featured limit must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Featured))
	for _, entry := range c.Featured {
		id := strings.TrimSpace(entry.ProductID)
		if id == "" {
			return fmt.Errorf("collection config: featured entry with empty product id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("collection config: duplicate featured entry %q", id)
		}
		seen[id] = struct{}{}
		switch entry.Mode {
		case FeaturedManual:
		case FeaturedScheduled:
			if entry.StartDate.IsZero() {
				return fmt.Errorf("collection config: scheduled featured entry %q missing start date", id)
			}
			if entry.DurationDays <= 0 {
				return fmt.Errorf("collection config: scheduled featured entry %q needs positive duration", id)
			}
		default:
			return fmt.Errorf("collection config: featured entry %q has unknown mode %q", id, entry.Mode)
		}
	}
	return nil
}

func validateTieBreak(value, allowed TieBreak) error {
	switch value {
	case "", allowed, TieBreakPreferOutOfStock:
		return nil
	default:
		return fmt.Errorf("collection config: tie-break %q must be %q or %q", value, allowed, TieBreakPreferOutOfStock)
	}
}
