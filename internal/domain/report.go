package domain

import "time"

// ReportKind selects one of the merchandising reports.
type ReportKind string

const (
	ReportAging       ReportKind = "aging"
	ReportBestsellers ReportKind = "bestsellers"
	ReportTrending    ReportKind = "trending"
)

// ReportRow is one product line in a computed report.
type ReportRow struct {
	ProductID  string
	Title      string
	Vendor     string
	UnitsSold  int
	Revenue    float64
	Inventory  int
	DaysListed int
	LastSaleAt *time.Time
	TrendRatio float64
}

// ReportFilter narrows and pages a report query.
type ReportFilter struct {
	Kind         ReportKind
	LookbackDays int
	Search       string
	Pagination   Pagination
}

// Report is a computed, ordered report page.
type Report struct {
	Kind          ReportKind
	Rows          []ReportRow
	Total         int
	NextPageToken string
	ComputedAt    time.Time
}
