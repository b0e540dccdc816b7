package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/platform/httpx"
	"github.com/shelfsort/api/internal/platform/pagination"
	"github.com/shelfsort/api/internal/services"
)

const (
	defaultReportPageSize = 50
	maxReportPageSize     = 250
)

// ReportHandlers exposes the merchandising report endpoints.
type ReportHandlers struct {
	reports services.ReportService
}

// NewReportHandlers constructs a new ReportHandlers instance.
func NewReportHandlers(reports services.ReportService) *ReportHandlers {
	return &ReportHandlers{reports: reports}
}

// Routes registers the /reports endpoints.
func (h *ReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{reportKind}", h.generate)
}

func (h *ReportHandlers) generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("report_service_unavailable", "report service unavailable", http.StatusServiceUnavailable))
		return
	}

	shop := shopFromRequest(r)
	if shop == "" {
		httpx.WriteError(ctx, w, httpx.NewError("shop_required", "shop could not be resolved for this request", http.StatusBadRequest))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultReportPageSize,
		MaxPageSize:     maxReportPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.ReportFilter{
		Kind:   domain.ReportKind(strings.TrimSpace(chi.URLParam(r, "reportKind"))),
		Search: params.Search,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: cursorStartAfterToken(params.Cursor),
		},
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("lookbackDays")); raw != "" {
		lookback, err := strconv.Atoi(raw)
		if err != nil || lookback <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "lookbackDays must be a positive integer", http.StatusBadRequest))
			return
		}
		filter.LookbackDays = lookback
	}

	report, err := h.reports.Generate(ctx, shop, filter)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildReportResponse(report))
}

func writeReportError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReportInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

type reportRowPayload struct {
	ProductID  string  `json:"product_id"`
	Title      string  `json:"title"`
	Vendor     string  `json:"vendor,omitempty"`
	UnitsSold  int     `json:"units_sold"`
	Revenue    float64 `json:"revenue"`
	Inventory  int     `json:"inventory"`
	DaysListed int     `json:"days_listed"`
	LastSaleAt string  `json:"last_sale_at,omitempty"`
	TrendRatio float64 `json:"trend_ratio,omitempty"`
}

type reportResponse struct {
	Kind          string             `json:"kind"`
	Rows          []reportRowPayload `json:"rows"`
	Total         int                `json:"total"`
	NextPageToken string             `json:"next_page_token,omitempty"`
	ComputedAt    string             `json:"computed_at,omitempty"`
}

func buildReportResponse(report services.Report) reportResponse {
	rows := make([]reportRowPayload, 0, len(report.Rows))
	for _, row := range report.Rows {
		payload := reportRowPayload{
			ProductID:  row.ProductID,
			Title:      row.Title,
			Vendor:     row.Vendor,
			UnitsSold:  row.UnitsSold,
			Revenue:    row.Revenue,
			Inventory:  row.Inventory,
			DaysListed: row.DaysListed,
			TrendRatio: row.TrendRatio,
		}
		if row.LastSaleAt != nil {
			payload.LastSaleAt = formatTime(*row.LastSaleAt)
		}
		rows = append(rows, payload)
	}

	response := reportResponse{
		Kind:       string(report.Kind),
		Rows:       rows,
		Total:      report.Total,
		ComputedAt: formatTime(report.ComputedAt),
	}
	if report.NextPageToken != "" {
		if token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{report.NextPageToken}}); err == nil {
			response.NextPageToken = token
		}
	}
	return response
}
