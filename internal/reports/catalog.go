package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/dealreport/internal/auth"
	"github.com/rpattn/dealreport/internal/domain"
	"github.com/rpattn/dealreport/internal/engine"
	"github.com/rpattn/dealreport/internal/query"
	"github.com/rpattn/dealreport/internal/repository"
)

// Sample selection used when a calculation preview omits its parameters.
var (
	sampleDeals     = []int64{101, 102, 103}
	sampleTranches  = []string{"A", "B"}
	sampleCycleCode = 202404
)

// CalculationPreviewRequest overrides the sample selection for a single-calculation preview.
type CalculationPreviewRequest struct {
	DealNumbers []int64  `json:"deal_numbers,omitempty"`
	TrancheIDs  []string `json:"tranche_ids,omitempty"`
	CycleCode   int      `json:"cycle_code,omitempty"`
}

// CreateCalculation validates spec before storing it, so only well-formed definitions
// ever reach the catalog.
func (s *Service) CreateCalculation(ctx context.Context, spec domain.CalculationSpec) (domain.CalculationSpec, error) {
	calc, err := domain.NewCalculation(spec)
	if err != nil {
		return domain.CalculationSpec{}, err
	}
	normalized := calc.Spec()
	normalized.CreatedBy = auth.CallerOrDefault(ctx, normalized.CreatedBy)
	return s.calculations.Create(ctx, normalized)
}

// UpdateCalculation refuses edits that would stop a stored template from compiling.
func (s *Service) UpdateCalculation(ctx context.Context, id int64, spec domain.CalculationSpec) (domain.CalculationSpec, error) {
	spec.ID = id
	calc, err := domain.NewCalculation(spec)
	if err != nil {
		return domain.CalculationSpec{}, err
	}
	if err := s.checkDependentTemplates(ctx, calc.Spec()); err != nil {
		return domain.CalculationSpec{}, err
	}
	return s.calculations.Update(ctx, calc.Spec())
}

// checkDependentTemplates re-validates every active template that selects updated: the
// calculation may not become finer than the template, nor take a label another
// selection already shows.
func (s *Service) checkDependentTemplates(ctx context.Context, updated domain.CalculationSpec) error {
	templates, err := s.reports.List(ctx)
	if err != nil {
		return fmt.Errorf("list reports using calculation %d: %w", updated.ID, err)
	}
	for _, template := range templates {
		position := -1
		ids := make([]int64, len(template.Calculations))
		for i, ref := range template.Calculations {
			ids[i] = ref.CalculationID
			if ref.CalculationID == updated.ID {
				position = i
			}
		}
		if position < 0 {
			continue
		}
		if updated.GroupLevel.Finer(template.Grain) {
			return &domain.InvalidCalculationError{
				Name:   updated.Name,
				Reason: fmt.Sprintf("report %q is at %s level and cannot use a %s level calculation", template.Name, template.Grain, updated.GroupLevel),
			}
		}

		specs, err := s.loader(ctx).LoadMany(ctx, ids)
		if domain.IsNotFound(err) {
			// Already unresolvable through another deleted calculation.
			continue
		} else if err != nil {
			return err
		}
		specs[position] = updated
		if label, dup := duplicateLabel(template.Calculations, specs); dup {
			return &domain.InvalidCalculationError{
				Name:   updated.Name,
				Reason: fmt.Sprintf("report %q would show the column %q twice", template.Name, label),
			}
		}
	}
	return nil
}

// duplicateLabel finds two selections that produce the same result column. refs and
// specs are parallel.
func duplicateLabel(refs []domain.ReportCalculationRef, specs []domain.CalculationSpec) (string, bool) {
	seen := make(map[string]struct{}, len(refs))
	for i, ref := range refs {
		label := strings.TrimSpace(ref.DisplayName)
		if label == "" {
			label = strings.TrimSpace(specs[i].Name)
		}
		if _, dup := seen[label]; dup {
			return label, true
		}
		seen[label] = struct{}{}
	}
	return "", false
}

func (s *Service) GetCalculation(ctx context.Context, id int64) (domain.CalculationSpec, error) {
	return s.calculations.GetByID(ctx, id)
}

func (s *Service) ListCalculations(ctx context.Context, filter repository.CalculationFilter) ([]domain.CalculationSpec, error) {
	return s.calculations.List(ctx, filter)
}

func (s *Service) DeleteCalculation(ctx context.Context, id int64) error {
	return s.calculations.SoftDelete(ctx, id)
}

// PreviewCalculation renders the standalone subquery of one calculation.
func (s *Service) PreviewCalculation(ctx context.Context, id int64, req CalculationPreviewRequest) (*engine.Preview, error) {
	_, stmt, filter, err := s.calculationStatement(ctx, id, req)
	if err != nil {
		return nil, err
	}
	return s.engine.PreviewStatement(stmt, filter)
}

// RunCalculation executes the same standalone subquery PreviewCalculation renders, one
// row per key of the calculation's own group level.
func (s *Service) RunCalculation(ctx context.Context, id int64, req CalculationPreviewRequest) (*Execution, error) {
	ctx, span := s.tracer.Start(ctx, "reports.RunCalculation")
	defer span.End()

	calc, stmt, filter, err := s.calculationStatement(ctx, id, req)
	if err != nil {
		return nil, s.fail(span, err)
	}
	result, err := s.engine.ExecuteStatement(ctx, stmt)
	if err != nil {
		return nil, s.fail(span, err)
	}
	// The subquery has no cycle column; every row belongs to the filtered cycle.
	for i := range result.Rows {
		result.Rows[i].CycleCode = filter.CycleCode()
	}
	return newExecution(calc.Name(), calc.GroupLevel(), filter.CycleCode(), result), nil
}

// calculationStatement falls back to the sample selection for omitted parameters.
func (s *Service) calculationStatement(ctx context.Context, id int64, req CalculationPreviewRequest) (domain.Calculation, query.Statement, domain.FilterCriteria, error) {
	spec, err := s.calculations.GetByID(ctx, id)
	if err != nil {
		return domain.Calculation{}, query.Statement{}, domain.FilterCriteria{}, err
	}
	calc, err := domain.NewCalculation(spec)
	if err != nil {
		return domain.Calculation{}, query.Statement{}, domain.FilterCriteria{}, err
	}

	deals, tranches, cycle := req.DealNumbers, req.TrancheIDs, req.CycleCode
	if len(deals) == 0 {
		deals = sampleDeals
	}
	if len(tranches) == 0 {
		tranches = sampleTranches
	}
	if cycle == 0 {
		cycle = sampleCycleCode
	}
	filter, err := domain.NewFilterCriteria(deals, tranches, cycle)
	if err != nil {
		return domain.Calculation{}, query.Statement{}, domain.FilterCriteria{}, err
	}

	stmt, err := query.BuildSubquery(calc, filter)
	if err != nil {
		return domain.Calculation{}, query.Statement{}, domain.FilterCriteria{}, err
	}
	return calc, stmt, filter, nil
}

// ReportInput is the writable part of a report template.
type ReportInput struct {
	Name         string                        `json:"name" validate:"required,max=255"`
	Description  string                        `json:"description,omitempty" validate:"max=1000"`
	Grain        domain.Grain                  `json:"aggregation_level" validate:"required"`
	Deals        []int64                       `json:"selected_deals" validate:"required,min=1"`
	Tranches     []domain.ReportTranche        `json:"selected_tranches" validate:"required,min=1"`
	Calculations []domain.ReportCalculationRef `json:"selected_calculations" validate:"required,min=1"`
}

func (s *Service) CreateReport(ctx context.Context, input ReportInput) (domain.ReportTemplate, error) {
	template, err := s.templateFromInput(ctx, input)
	if err != nil {
		return domain.ReportTemplate{}, err
	}
	template.CreatedBy = auth.CallerOrDefault(ctx, "")
	return s.reports.Create(ctx, template)
}

func (s *Service) UpdateReport(ctx context.Context, id int64, input ReportInput) (domain.ReportTemplate, error) {
	template, err := s.templateFromInput(ctx, input)
	if err != nil {
		return domain.ReportTemplate{}, err
	}
	template.ID = id
	return s.reports.Update(ctx, template)
}

func (s *Service) GetReport(ctx context.Context, id int64) (domain.ReportTemplate, error) {
	return s.reports.GetByID(ctx, id)
}

func (s *Service) ListReports(ctx context.Context) ([]domain.ReportTemplate, error) {
	return s.reports.List(ctx)
}

func (s *Service) DeleteReport(ctx context.Context, id int64) error {
	return s.reports.SoftDelete(ctx, id)
}

// templateFromInput checks everything the compiler would later reject: the grain, the
// selections, that no calculation is grouped finer than the report, and that no two
// selections share a result column.
func (s *Service) templateFromInput(ctx context.Context, input ReportInput) (domain.ReportTemplate, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: "report name is required"}
	}
	grain, err := domain.ParseGrain(string(input.Grain))
	if err != nil {
		return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: err.Error()}
	}
	if len(input.Deals) == 0 {
		return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: "at least one deal must be selected"}
	}
	if len(input.Calculations) == 0 {
		return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: "at least one calculation must be selected"}
	}

	deals := make(map[int64]struct{}, len(input.Deals))
	for _, d := range input.Deals {
		deals[d] = struct{}{}
	}
	tranches := make([]domain.ReportTranche, 0, len(input.Tranches))
	for _, t := range input.Tranches {
		t.TrancheID = strings.TrimSpace(t.TrancheID)
		if t.TrancheID == "" {
			return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: "tranche id is required"}
		}
		if _, ok := deals[t.DealNumber]; !ok {
			return domain.ReportTemplate{}, &domain.InvalidFilterError{
				Reason: fmt.Sprintf("tranche %s belongs to deal %d which is not selected", t.TrancheID, t.DealNumber),
			}
		}
		tranches = append(tranches, t)
	}
	if len(tranches) == 0 {
		return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: "at least one tranche must be selected"}
	}

	refs := make([]domain.ReportCalculationRef, len(input.Calculations))
	ids := make([]int64, len(input.Calculations))
	seen := make(map[int64]struct{}, len(input.Calculations))
	for i, ref := range input.Calculations {
		if _, dup := seen[ref.CalculationID]; dup {
			return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: fmt.Sprintf("calculation %d is selected twice", ref.CalculationID)}
		}
		seen[ref.CalculationID] = struct{}{}
		if ref.DisplayOrder == 0 {
			ref.DisplayOrder = i + 1
		}
		ref.DisplayName = strings.TrimSpace(ref.DisplayName)
		refs[i] = ref
		ids[i] = ref.CalculationID
	}

	specs, err := s.loader(ctx).LoadMany(ctx, ids)
	if err != nil {
		return domain.ReportTemplate{}, err
	}
	for _, spec := range specs {
		if spec.GroupLevel.Finer(grain) {
			return domain.ReportTemplate{}, &domain.InvalidCalculationError{
				Name:   spec.Name,
				Reason: fmt.Sprintf("grouped by %s, which is finer than the %s report level", spec.GroupLevel, grain),
			}
		}
	}
	if label, dup := duplicateLabel(refs, specs); dup {
		return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: fmt.Sprintf("column %q is selected twice", label)}
	}

	return domain.ReportTemplate{
		Name:         name,
		Description:  strings.TrimSpace(input.Description),
		Grain:        grain,
		Deals:        input.Deals,
		Tranches:     tranches,
		Calculations: refs,
		IsActive:     true,
	}, nil
}

func (s *Service) ListDeals(ctx context.Context, cycleCode int) ([]domain.DealSummary, error) {
	return s.warehouse.ListDeals(ctx, cycleCode)
}

func (s *Service) ListTranches(ctx context.Context, dealNumbers []int64, cycleCode int) ([]domain.TrancheSummary, error) {
	return s.warehouse.ListTranches(ctx, dealNumbers, cycleCode)
}

func (s *Service) ListCycles(ctx context.Context) ([]domain.CycleSummary, error) {
	return s.warehouse.ListCycles(ctx)
}
