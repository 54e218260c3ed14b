package engine

import (
	"fmt"

	"github.com/rpattn/dealreport/internal/domain"
	"github.com/rpattn/dealreport/internal/query"
)

// Complexity is a coarse hint shown next to previewed SQL.
type Complexity string

const (
	ComplexityLow    Complexity = "Low"
	ComplexityMedium Complexity = "Medium"
	ComplexityHigh   Complexity = "High"
)

// Preview is the human-readable form of the statement Execute would run.
type Preview struct {
	Grain         domain.Grain        `json:"aggregation_level"`
	SQL           string              `json:"sql_query"`
	Parameterized string              `json:"parameterized_sql"`
	Parameters    PreviewParameters   `json:"parameters"`
	Calculations  []CalculationDetail `json:"selected_calculations"`
	Complexity    Complexity          `json:"query_complexity"`
	EstimatedRows int                 `json:"estimated_rows"`
}

type PreviewParameters struct {
	DealNumbers []int64                 `json:"deal_numbers"`
	TrancheIDs  []string                `json:"tranche_ids"`
	CycleCode   int                     `json:"cycle_code"`
	Predicates  []domain.FieldPredicate `json:"predicates,omitempty"`
	Bound       map[string]any          `json:"bound"`
}

type CalculationDetail struct {
	Name         string                     `json:"name"`
	DisplayName  string                     `json:"display_name"`
	Function     domain.AggregationFunction `json:"aggregation_function"`
	SourceEntity domain.Entity              `json:"source_entity"`
	SourceField  string                     `json:"source_field"`
	WeightField  string                     `json:"weight_field,omitempty"`
	GroupLevel   domain.Grain               `json:"group_level"`
	Expression   string                     `json:"expression"`
}

// Preview compiles exactly what Execute would and renders it with literal values.
func (e *Engine) Preview(calcs []domain.Calculation, filter domain.FilterCriteria, grain domain.Grain) (*Preview, error) {
	stmt, err := e.Compile(calcs, filter, grain)
	if err != nil {
		return nil, err
	}
	return previewStatement(stmt, filter)
}

// PreviewStatement renders an already compiled statement.
func (e *Engine) PreviewStatement(stmt query.Statement, filter domain.FilterCriteria) (*Preview, error) {
	return previewStatement(stmt, filter)
}

func previewStatement(stmt query.Statement, filter domain.FilterCriteria) (*Preview, error) {
	rendered, err := stmt.Render()
	if err != nil {
		return nil, &domain.CompilationError{Reason: fmt.Sprintf("render statement: %v", err)}
	}

	details := make([]CalculationDetail, 0, len(stmt.Calculations))
	for _, calc := range stmt.Calculations {
		details = append(details, CalculationDetail{
			Name:         calc.Name(),
			DisplayName:  calc.DisplayName(),
			Function:     calc.Aggregation().Function(),
			SourceEntity: calc.SourceEntity(),
			SourceField:  calc.SourceField(),
			WeightField:  calc.WeightField(),
			GroupLevel:   calc.GroupLevel(),
			Expression:   calc.Describe(),
		})
	}

	deals := filter.DealNumbers()
	tranches := filter.TrancheIDs()
	return &Preview{
		Grain:         stmt.Grain,
		SQL:           rendered,
		Parameterized: stmt.SQL,
		Parameters: PreviewParameters{
			DealNumbers: deals,
			TrancheIDs:  tranches,
			CycleCode:   filter.CycleCode(),
			Predicates:  filter.Predicates(),
			Bound:       stmt.Parameters(),
		},
		Calculations:  details,
		Complexity:    EstimateComplexity(len(stmt.Calculations), len(deals)),
		EstimatedRows: EstimateRows(stmt.Grain, len(deals), len(tranches)),
	}, nil
}

// EstimateComplexity grades a report by how many calculations and deals it spans.
func EstimateComplexity(calculations, deals int) Complexity {
	switch {
	case calculations > 5 || deals > 20:
		return ComplexityHigh
	case calculations <= 2 && deals <= 5:
		return ComplexityLow
	}
	return ComplexityMedium
}

// EstimateRows is the upper bound on rows for a single cycle.
func EstimateRows(grain domain.Grain, deals, tranches int) int {
	if grain == domain.GrainTranche {
		return deals * tranches
	}
	return deals
}
