package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
)

// Fingerprints key the ranking and report caches. They hash the full
// configuration plus a coarse time bucket of the cache TTL's width, so an
// unchanged configuration re-ranks at most once per TTL window and any
// settings change rolls the key immediately.

type configFingerprintPayload struct {
	Shop         string                    `json:"shop"`
	CollectionID string                    `json:"collectionId"`
	Settings     domain.CollectionSettings `json:"settings"`
	Behavior     domain.BehaviorRules      `json:"behavior"`
	TagRules     []domain.TagPlacementRule `json:"tagRules"`
	Featured     []domain.FeaturedEntry    `json:"featured"`
	Limit        int                       `json:"limitFeatured"`
	Bucket       int64                     `json:"bucket"`
}

// ConfigFingerprint returns the stable cache key for one collection
// configuration at the given instant.
func ConfigFingerprint(config CollectionConfig, now time.Time, ttl time.Duration) string {
	payload := configFingerprintPayload{
		Shop:         config.Shop,
		CollectionID: config.CollectionID,
		Settings:     config.Settings,
		Behavior:     config.Behavior,
		TagRules:     config.TagRules,
		Featured:     config.SortedFeatured(),
		Limit:        config.LimitFeatured,
		Bucket:       timeBucket(now, ttl),
	}
	return hashPayload("config", payload)
}

type reportFingerprintPayload struct {
	Shop         string `json:"shop"`
	Kind         string `json:"kind"`
	LookbackDays int    `json:"lookbackDays"`
	Search       string `json:"search"`
	PageSize     int    `json:"pageSize"`
	PageToken    string `json:"pageToken"`
	Bucket       int64  `json:"bucket"`
}

// ReportFingerprint returns the cache key for one report view.
func ReportFingerprint(shop string, filter ReportFilter, now time.Time, ttl time.Duration) string {
	payload := reportFingerprintPayload{
		Shop:         shop,
		Kind:         string(filter.Kind),
		LookbackDays: filter.LookbackDays,
		Search:       filter.Search,
		PageSize:     filter.Pagination.PageSize,
		PageToken:    filter.Pagination.PageToken,
		Bucket:       timeBucket(now, ttl),
	}
	return hashPayload("report", payload)
}

// timeBucket floors the instant to a TTL-width window. TTL <= 0 means the
// bucket never changes.
func timeBucket(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.UnixNano() / int64(ttl)
}

func hashPayload(prefix string, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types are plain structs; marshal cannot fail in practice.
		data = []byte(prefix)
	}
	sum := sha256.Sum256(data)
	return prefix + ":" + hex.EncodeToString(sum[:])
}
