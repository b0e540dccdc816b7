package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/platform/httpx"
	"github.com/shelfsort/api/internal/platform/pagination"
	"github.com/shelfsort/api/internal/services"
)

const (
	maxCollectionBodySize = 64 * 1024

	collectionGIDPrefix = "gid://shopify/Collection/"
)

// CollectionHandlers exposes resort, preview, and settings endpoints for
// collections.
type CollectionHandlers struct {
	collections services.CollectionService
	settings    services.SettingsService
	limiter     rateLimiter
}

// CollectionOption customises the collection handlers.
type CollectionOption func(*CollectionHandlers)

// WithResortRateLimit throttles resort requests per shop and collection.
func WithResortRateLimit(limit int, window time.Duration, clock func() time.Time) CollectionOption {
	return func(h *CollectionHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

// NewCollectionHandlers constructs a new CollectionHandlers instance.
func NewCollectionHandlers(collections services.CollectionService, settings services.SettingsService, opts ...CollectionOption) *CollectionHandlers {
	handlers := &CollectionHandlers{
		collections: collections,
		settings:    settings,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handlers)
		}
	}
	return handlers
}

// Routes registers the /collections endpoints.
func (h *CollectionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listSettings)
	r.Post("/{collectionID}:resort", h.resort)
	r.Post("/{collectionID}:preview", h.preview)
	r.Route("/{collectionID}/settings", func(sr chi.Router) {
		sr.Get("/", h.getSettings)
		sr.Put("/", h.putSettings)
		sr.Delete("/", h.deleteSettings)
	})
}

func (h *CollectionHandlers) resort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.collections == nil {
		httpx.WriteError(ctx, w, httpx.NewError("collection_service_unavailable", "collection service unavailable", http.StatusServiceUnavailable))
		return
	}

	shop, collectionID, ok := h.requestTarget(ctx, w, r)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(shop+"/"+collectionID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "resort requests are throttled for this collection", http.StatusTooManyRequests))
		return
	}

	report, err := h.collections.Resort(ctx, services.ResortCommand{
		Shop:         shop,
		CollectionID: collectionID,
	})
	if err != nil {
		writeCollectionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildResortResponse(report))
}

func (h *CollectionHandlers) preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.collections == nil {
		httpx.WriteError(ctx, w, httpx.NewError("collection_service_unavailable", "collection service unavailable", http.StatusServiceUnavailable))
		return
	}

	shop, collectionID, ok := h.requestTarget(ctx, w, r)
	if !ok {
		return
	}

	// The preview body is optional; without it the stored settings apply.
	var req previewRequest
	body, err := readLimitedBody(r, maxCollectionBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.PreviewCommand{
		Shop:         shop,
		CollectionID: collectionID,
		Limit:        req.Limit,
	}
	if req.Override != nil {
		override, err := buildConfig(*req.Override, shop, collectionID)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		cmd.Override = &override
	}

	result, err := h.collections.Preview(ctx, cmd)
	if err != nil {
		writeCollectionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildPreviewResponse(result))
}

func (h *CollectionHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_service_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}

	shop, collectionID, ok := h.requestTarget(ctx, w, r)
	if !ok {
		return
	}

	config, err := h.settings.Get(ctx, shop, collectionID)
	if err != nil {
		writeCollectionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildConfigPayload(config))
}

func (h *CollectionHandlers) putSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_service_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}

	shop, collectionID, ok := h.requestTarget(ctx, w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCollectionBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var payload configPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	config, err := buildConfig(payload, shop, collectionID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	saved, err := h.settings.Save(ctx, config)
	if err != nil {
		writeCollectionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildConfigPayload(saved))
}

func (h *CollectionHandlers) deleteSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_service_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}

	shop, collectionID, ok := h.requestTarget(ctx, w, r)
	if !ok {
		return
	}

	if err := h.settings.Delete(ctx, shop, collectionID); err != nil {
		writeCollectionError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CollectionHandlers) listSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_service_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}

	shop := shopFromRequest(r)
	if shop == "" {
		httpx.WriteError(ctx, w, httpx.NewError("shop_required", "shop could not be resolved for this request", http.StatusBadRequest))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.settings.List(ctx, shop, services.Pagination{
		PageSize:  params.PageSize,
		PageToken: cursorStartAfterToken(params.Cursor),
	})
	if err != nil {
		writeCollectionError(ctx, w, err)
		return
	}

	items := make([]configPayload, 0, len(page.Items))
	for _, config := range page.Items {
		items = append(items, buildConfigPayload(config))
	}

	response := listSettingsResponse{Items: items}
	if page.NextPageToken != "" {
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{page.NextPageToken}})
		if err == nil {
			response.NextPageToken = token
		}
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// requestTarget resolves the shop and the collection GID from the request,
// writing the error response itself when either is missing.
func (h *CollectionHandlers) requestTarget(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, string, bool) {
	shop := shopFromRequest(r)
	if shop == "" {
		httpx.WriteError(ctx, w, httpx.NewError("shop_required", "shop could not be resolved for this request", http.StatusBadRequest))
		return "", "", false
	}
	collectionID := expandCollectionID(chi.URLParam(r, "collectionID"))
	if collectionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "collection id is required", http.StatusBadRequest))
		return "", "", false
	}
	return shop, collectionID, true
}

// expandCollectionID accepts either a bare numeric ID, which path segments
// force because GIDs contain slashes, or a full Admin API GID.
func expandCollectionID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "gid://") {
		return raw
	}
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return raw
		}
	}
	return collectionGIDPrefix + raw
}

// cursorStartAfterToken extracts the single continuation value carried inside
// an opaque page token.
func cursorStartAfterToken(cursor pagination.Cursor) string {
	if len(cursor.StartAfter) == 0 {
		return ""
	}
	switch value := cursor.StartAfter[0].(type) {
	case string:
		return value
	case float64:
		return fmt.Sprintf("%d", int64(value))
	default:
		return ""
	}
}

func writeCollectionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCollectionInvalidInput), errors.Is(err, services.ErrSettingsInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCollectionNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("collection_not_configured", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrSettingsNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("settings_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrSettingsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("settings_unavailable", "settings storage is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

type previewRequest struct {
	Limit    int            `json:"limit"`
	Override *configPayload `json:"override"`
}

type resortResponse struct {
	AttemptID  string   `json:"attempt_id"`
	Outcome    string   `json:"outcome"`
	Message    string   `json:"message,omitempty"`
	JobID      string   `json:"job_id,omitempty"`
	MoveCount  int      `json:"move_count"`
	DurationMS int64    `json:"duration_ms"`
	Warnings   []string `json:"warnings,omitempty"`
}

type previewItemPayload struct {
	Position  int     `json:"position"`
	ProductID string  `json:"product_id"`
	Title     string  `json:"title"`
	Vendor    string  `json:"vendor,omitempty"`
	UnitsSold int     `json:"units_sold"`
	Revenue   float64 `json:"revenue"`
	Inventory int     `json:"inventory"`
}

type previewResponse struct {
	CollectionID string               `json:"collection_id"`
	Items        []previewItemPayload `json:"items"`
	Total        int                  `json:"total"`
	Warnings     []string             `json:"warnings,omitempty"`
	ComputedAt   string               `json:"computed_at,omitempty"`
}

type listSettingsResponse struct {
	Items         []configPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type settingsPayload struct {
	PrimaryCriterion string `json:"primary_criterion"`
	Direction        string `json:"direction"`
	LookbackDays     int    `json:"lookback_days"`
	OrderFilter      string `json:"order_filter"`
	IncludeDiscounts bool   `json:"include_discounts"`
}

type behaviorPayload struct {
	PushNewUp            bool   `json:"push_new_up"`
	NewThresholdDays     int    `json:"new_threshold_days,omitempty"`
	PushOutOfStockDown   bool   `json:"push_out_of_stock_down"`
	NewVsOutOfStock      string `json:"new_vs_out_of_stock,omitempty"`
	TagVsOutOfStock      string `json:"tag_vs_out_of_stock,omitempty"`
	FeaturedVsOutOfStock string `json:"featured_vs_out_of_stock,omitempty"`
}

type tagRulePayload struct {
	Tag  string `json:"tag"`
	Zone string `json:"zone"`
}

type featuredPayload struct {
	ProductID    string `json:"product_id"`
	Mode         string `json:"mode"`
	Position     int    `json:"position,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	DurationDays int    `json:"duration_days,omitempty"`
}

type configPayload struct {
	Shop          string            `json:"shop,omitempty"`
	CollectionID  string            `json:"collection_id,omitempty"`
	Settings      settingsPayload   `json:"settings"`
	Behavior      behaviorPayload   `json:"behavior"`
	TagRules      []tagRulePayload  `json:"tag_rules,omitempty"`
	Featured      []featuredPayload `json:"featured,omitempty"`
	LimitFeatured int               `json:"limit_featured,omitempty"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
}

func buildResortResponse(report services.ResortReport) resortResponse {
	return resortResponse{
		AttemptID:  report.Result.AttemptID,
		Outcome:    string(report.Result.Outcome),
		Message:    report.Result.Message,
		JobID:      report.Result.JobID,
		MoveCount:  report.Result.MoveCount,
		DurationMS: report.Result.FinishedAt.Sub(report.Result.StartedAt).Milliseconds(),
		Warnings:   report.Warnings,
	}
}

func buildPreviewResponse(result services.PreviewResult) previewResponse {
	items := make([]previewItemPayload, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, previewItemPayload{
			Position:  item.Position,
			ProductID: item.ProductID,
			Title:     item.Title,
			Vendor:    item.Vendor,
			UnitsSold: item.UnitsSold,
			Revenue:   item.Revenue,
			Inventory: item.Inventory,
		})
	}
	return previewResponse{
		CollectionID: result.CollectionID,
		Items:        items,
		Total:        result.Total,
		Warnings:     result.Warnings,
		ComputedAt:   formatTime(result.ComputedAt),
	}
}

func buildConfigPayload(config domain.CollectionConfig) configPayload {
	payload := configPayload{
		Shop:         config.Shop,
		CollectionID: config.CollectionID,
		Settings: settingsPayload{
			PrimaryCriterion: string(config.Settings.PrimaryCriterion),
			Direction:        string(config.Settings.Direction),
			LookbackDays:     config.Settings.LookbackDays,
			OrderFilter:      string(config.Settings.OrderFilter),
			IncludeDiscounts: config.Settings.IncludeDiscounts,
		},
		Behavior: behaviorPayload{
			PushNewUp:            config.Behavior.PushNewUp,
			NewThresholdDays:     config.Behavior.NewThresholdDays,
			PushOutOfStockDown:   config.Behavior.PushOutOfStockDown,
			NewVsOutOfStock:      string(config.Behavior.NewVsOutOfStock),
			TagVsOutOfStock:      string(config.Behavior.TagVsOutOfStock),
			FeaturedVsOutOfStock: string(config.Behavior.FeaturedVsOutOfStock),
		},
		LimitFeatured: config.LimitFeatured,
		UpdatedAt:     formatTime(config.UpdatedAt),
	}
	for _, rule := range config.TagRules {
		payload.TagRules = append(payload.TagRules, tagRulePayload{
			Tag:  rule.Tag,
			Zone: string(rule.Zone),
		})
	}
	for _, entry := range config.Featured {
		payload.Featured = append(payload.Featured, featuredPayload{
			ProductID:    entry.ProductID,
			Mode:         string(entry.Mode),
			Position:     entry.Position,
			StartDate:    formatTime(entry.StartDate),
			DurationDays: entry.DurationDays,
		})
	}
	return payload
}

// buildConfig maps a request payload onto the domain configuration. Omitted
// enum fields fall back to the defaults so a minimal PUT stays valid;
// structural validation happens in the settings service.
func buildConfig(payload configPayload, shop, collectionID string) (domain.CollectionConfig, error) {
	settings := domain.CollectionSettings{
		PrimaryCriterion: domain.SortCriterion(strings.TrimSpace(payload.Settings.PrimaryCriterion)),
		Direction:        domain.SortDirection(strings.TrimSpace(payload.Settings.Direction)),
		LookbackDays:     payload.Settings.LookbackDays,
		OrderFilter:      domain.OrderStatusFilter(strings.TrimSpace(payload.Settings.OrderFilter)),
		IncludeDiscounts: payload.Settings.IncludeDiscounts,
	}
	if settings.Direction == "" {
		settings.Direction = domain.DirectionDescending
	}
	if settings.OrderFilter == "" {
		settings.OrderFilter = domain.OrderFilterAll
	}

	config := domain.CollectionConfig{
		Shop:         shop,
		CollectionID: collectionID,
		Settings:     settings,
		Behavior: domain.BehaviorRules{
			PushNewUp:            payload.Behavior.PushNewUp,
			NewThresholdDays:     payload.Behavior.NewThresholdDays,
			PushOutOfStockDown:   payload.Behavior.PushOutOfStockDown,
			NewVsOutOfStock:      domain.TieBreak(strings.TrimSpace(payload.Behavior.NewVsOutOfStock)),
			TagVsOutOfStock:      domain.TieBreak(strings.TrimSpace(payload.Behavior.TagVsOutOfStock)),
			FeaturedVsOutOfStock: domain.TieBreak(strings.TrimSpace(payload.Behavior.FeaturedVsOutOfStock)),
		},
		LimitFeatured: payload.LimitFeatured,
	}

	for _, rule := range payload.TagRules {
		config.TagRules = append(config.TagRules, domain.TagPlacementRule{
			Tag:  strings.TrimSpace(rule.Tag),
			Zone: domain.Zone(strings.TrimSpace(rule.Zone)),
		})
	}

	for _, entry := range payload.Featured {
		featured := domain.FeaturedEntry{
			ProductID:    strings.TrimSpace(entry.ProductID),
			Mode:         domain.FeaturedMode(strings.TrimSpace(entry.Mode)),
			Position:     entry.Position,
			DurationDays: entry.DurationDays,
		}
		if featured.Mode == "" {
			featured.Mode = domain.FeaturedManual
		}
		if raw := strings.TrimSpace(entry.StartDate); raw != "" {
			start, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return domain.CollectionConfig{}, fmt.Errorf("featured entry %q has invalid start_date: %w", featured.ProductID, err)
			}
			featured.StartDate = start.UTC()
		}
		config.Featured = append(config.Featured, featured)
	}

	return config, nil
}
