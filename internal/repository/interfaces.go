package repository

import (
	"context"

	"github.com/rpattn/dealreport/internal/domain"
)

// CalculationRepository defines the interface for calculation catalog operations
type CalculationRepository interface {
	Create(ctx context.Context, spec domain.CalculationSpec) (domain.CalculationSpec, error)
	GetByID(ctx context.Context, id int64) (domain.CalculationSpec, error)
	GetByIDs(ctx context.Context, ids []int64) ([]domain.CalculationSpec, error)
	GetByNames(ctx context.Context, names []string) ([]domain.CalculationSpec, error)
	List(ctx context.Context, filter CalculationFilter) ([]domain.CalculationSpec, error)
	Update(ctx context.Context, spec domain.CalculationSpec) (domain.CalculationSpec, error)
	SoftDelete(ctx context.Context, id int64) error
}

// CalculationFilter narrows List. A zero filter returns every active calculation.
type CalculationFilter struct {
	GroupLevel      domain.Grain
	IncludeInactive bool
}

// ReportRepository defines the interface for report template operations
type ReportRepository interface {
	Create(ctx context.Context, report domain.ReportTemplate) (domain.ReportTemplate, error)
	GetByID(ctx context.Context, id int64) (domain.ReportTemplate, error)
	List(ctx context.Context) ([]domain.ReportTemplate, error)
	Update(ctx context.Context, report domain.ReportTemplate) (domain.ReportTemplate, error)
	SoftDelete(ctx context.Context, id int64) error
}

// ExecutionLogRepository defines the interface for execution history
type ExecutionLogRepository interface {
	Create(ctx context.Context, log domain.ExecutionLog) (domain.ExecutionLog, error)
	ListByReport(ctx context.Context, reportID int64, limit int) ([]domain.ExecutionLog, error)
}

// WarehouseRepository exposes read-only browsing of the deal warehouse
type WarehouseRepository interface {
	ListDeals(ctx context.Context, cycleCode int) ([]domain.DealSummary, error)
	ListTranches(ctx context.Context, dealNumbers []int64, cycleCode int) ([]domain.TrancheSummary, error)
	ListCycles(ctx context.Context) ([]domain.CycleSummary, error)
}
