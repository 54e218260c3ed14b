package query

import (
	"testing"

	"github.com/rpattn/dealreport/internal/domain"
)

func mustCalculation(t *testing.T, spec domain.CalculationSpec) domain.Calculation {
	t.Helper()
	calc, err := domain.NewCalculation(spec)
	if err != nil {
		t.Fatalf("expected calculation %q to be valid, got %v", spec.Name, err)
	}
	return calc
}

func mustFilter(t *testing.T, deals []int64, tranches []string, cycle int, predicates ...domain.Predicate) domain.FilterCriteria {
	t.Helper()
	filter, err := domain.NewFilterCriteria(deals, tranches, cycle, predicates...)
	if err != nil {
		t.Fatalf("expected filter to be valid, got %v", err)
	}
	return filter
}

func weightedAvgRate(t *testing.T) domain.Calculation {
	return mustCalculation(t, domain.CalculationSpec{
		Name:         "Weighted Avg Rate",
		Function:     domain.AggregationWeightedAvg,
		SourceEntity: domain.EntityTrancheBal,
		SourceField:  "tr_pass_thru_rte",
		WeightField:  "tr_end_bal_amt",
		GroupLevel:   domain.GrainDeal,
	})
}

func trancheCount(t *testing.T) domain.Calculation {
	return mustCalculation(t, domain.CalculationSpec{
		Name:         "Tranche Count",
		Function:     domain.AggregationCount,
		SourceEntity: domain.EntityTranche,
		SourceField:  "tr_id",
		GroupLevel:   domain.GrainDeal,
	})
}

func dealCount(t *testing.T) domain.Calculation {
	return mustCalculation(t, domain.CalculationSpec{
		Name:         "Deal Count",
		Function:     domain.AggregationCount,
		SourceEntity: domain.EntityDeal,
		SourceField:  "dl_nbr",
		GroupLevel:   domain.GrainDeal,
	})
}

func endingBalance(t *testing.T) domain.Calculation {
	return mustCalculation(t, domain.CalculationSpec{
		Name:         "Ending Balance",
		Function:     domain.AggregationSum,
		SourceEntity: domain.EntityTrancheBal,
		SourceField:  "tr_end_bal_amt",
		GroupLevel:   domain.GrainTranche,
	})
}

func defaultFilter(t *testing.T) domain.FilterCriteria {
	return mustFilter(t, []int64{101}, []string{"A", "B"}, 202401)
}
