package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReportRow is one materialized result row. TrancheID is set only for tranche-grain reports.
type ReportRow struct {
	DealNumber int64                          `json:"deal_number"`
	TrancheID  *string                        `json:"tranche_id,omitempty"`
	CycleCode  int                            `json:"cycle_code"`
	Values     map[string]decimal.NullDecimal `json:"values"`
}

// ReportTemplate is a reusable report configuration. The cycle is chosen at execution time.
type ReportTemplate struct {
	ID           int64                  `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Grain        Grain                  `json:"aggregation_level"`
	Deals        []int64                `json:"selected_deals"`
	Tranches     []ReportTranche        `json:"selected_tranches"`
	Calculations []ReportCalculationRef `json:"selected_calculations"`
	IsActive     bool                   `json:"is_active"`
	CreatedBy    string                 `json:"created_by,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// ReportTranche selects one tranche of one deal.
type ReportTranche struct {
	DealNumber int64  `json:"deal_number"`
	TrancheID  string `json:"tranche_id"`
}

// ReportCalculationRef links a calculation into a template at a display position.
type ReportCalculationRef struct {
	CalculationID int64  `json:"calculation_id"`
	DisplayOrder  int    `json:"display_order"`
	DisplayName   string `json:"display_name,omitempty"`
}

// TrancheIDs returns the distinct tranche ids selected by the template.
func (r ReportTemplate) TrancheIDs() []string {
	ids := make([]string, 0, len(r.Tranches))
	for _, t := range r.Tranches {
		ids = append(ids, t.TrancheID)
	}
	return uniqueStrings(ids)
}

// ExecutionLog records one report execution, successful or not.
type ExecutionLog struct {
	ID              uuid.UUID `json:"id"`
	ReportID        int64     `json:"report_id"`
	CycleCode       int       `json:"cycle_code"`
	ExecutedBy      string    `json:"executed_by,omitempty"`
	ExecutionTimeMs float64   `json:"execution_time_ms"`
	RowCount        int       `json:"row_count"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ExecutedAt      time.Time `json:"executed_at"`
}

// Deal, Tranche and Cycle summaries are returned by warehouse browsing endpoints.
type DealSummary struct {
	DealNumber   int64  `json:"dl_nbr"`
	IssuerCode   string `json:"issr_cde"`
	CDIFileName  string `json:"cdi_file_nme"`
	TrancheCount int    `json:"tranche_count"`
}

type TrancheSummary struct {
	DealNumber int64  `json:"dl_nbr"`
	TrancheID  string `json:"tr_id"`
	CUSIP      string `json:"tr_cusip_id"`
}

type CycleSummary struct {
	CycleCode int `json:"cycle_cde"`
	DealCount int `json:"deal_count"`
	RowCount  int `json:"row_count"`
}
