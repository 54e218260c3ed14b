package domain

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestNewFilterCriteriaNormalizesSelection(t *testing.T) {
	filter, err := NewFilterCriteria([]int64{103, 101, 103}, []string{"B", " A", "B", ""}, 202401)
	if err != nil {
		t.Fatalf("NewFilterCriteria returned error: %v", err)
	}
	if !reflect.DeepEqual(filter.DealNumbers(), []int64{101, 103}) {
		t.Fatalf("unexpected deals %v", filter.DealNumbers())
	}
	if !reflect.DeepEqual(filter.TrancheIDs(), []string{"A", "B"}) {
		t.Fatalf("unexpected tranches %v", filter.TrancheIDs())
	}

	deals := filter.DealNumbers()
	deals[0] = 999
	if filter.DealNumbers()[0] != 101 {
		t.Fatalf("accessor must return a copy")
	}
}

func TestNewFilterCriteriaRejectsEmptySelection(t *testing.T) {
	cases := []struct {
		name     string
		deals    []int64
		tranches []string
		cycle    int
	}{
		{"no deals", nil, []string{"A"}, 202401},
		{"blank tranches", []int64{101}, []string{" "}, 202401},
		{"zero cycle", []int64{101}, []string{"A"}, 0},
		{"negative cycle", []int64{101}, []string{"A"}, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFilterCriteria(tc.deals, tc.tranches, tc.cycle)
			var invalid *InvalidFilterError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidFilterError, got %v", err)
			}
		})
	}
}

func TestPredicateValidation(t *testing.T) {
	filter, err := NewFilterCriteria([]int64{101}, []string{"A"}, 202401,
		Predicate{Entity: "tranchebal", Field: "tr_end_bal_amt", Operator: "gt", Values: []any{json.Number("0")}},
		Predicate{Entity: EntityDeal, Field: "issr_cde", Operator: OpIn, Values: []any{"FHLMC", "FNMA"}},
		Predicate{Entity: EntityTranche, Field: "tr_cusip_id", Values: []any{"123"}},
	)
	if err != nil {
		t.Fatalf("NewFilterCriteria returned error: %v", err)
	}
	predicates := filter.Predicates()
	if len(predicates) != 3 {
		t.Fatalf("expected 3 predicates, got %d", len(predicates))
	}
	if predicates[0].Entity != EntityTrancheBal || predicates[0].Operator != OpGt || !predicates[0].Numbers[0].IsZero() {
		t.Fatalf("unexpected numeric predicate %+v", predicates[0])
	}
	if !predicates[1].Multi() || len(predicates[1].Strings) != 2 {
		t.Fatalf("unexpected IN predicate %+v", predicates[1])
	}
	if predicates[2].Operator != OpEq || predicates[2].Operator.SQL() != "=" {
		t.Fatalf("expected default EQ, got %+v", predicates[2])
	}

	bad := []struct {
		name      string
		predicate Predicate
		reason    string
	}{
		{"unknown entity", Predicate{Entity: "Pool", Field: "x", Values: []any{1}}, "unknown source entity"},
		{"unknown field", Predicate{Entity: EntityDeal, Field: "nope", Values: []any{1}}, "does not exist"},
		{"empty IN", Predicate{Entity: EntityDeal, Field: "dl_nbr", Operator: OpIn}, "at least one value"},
		{"two values for EQ", Predicate{Entity: EntityDeal, Field: "dl_nbr", Values: []any{1, 2}}, "exactly one value"},
		{"bad operator", Predicate{Entity: EntityDeal, Field: "dl_nbr", Operator: "LIKE", Values: []any{1}}, "unsupported operator"},
		{"non numeric", Predicate{Entity: EntityTrancheBal, Field: "tr_end_bal_amt", Values: []any{"lots"}}, "not numeric"},
		{"not finite", Predicate{Entity: EntityTrancheBal, Field: "tr_end_bal_amt", Values: []any{math.Inf(1)}}, "finite"},
		{"null text", Predicate{Entity: EntityDeal, Field: "issr_cde", Values: []any{nil}}, "null"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFilterCriteria([]int64{101}, []string{"A"}, 202401, tc.predicate)
			var invalid *InvalidFilterError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidFilterError, got %v", err)
			}
			if !strings.Contains(invalid.Reason, tc.reason) {
				t.Fatalf("expected reason containing %q, got %q", tc.reason, invalid.Reason)
			}
		})
	}
}

func TestNumericPredicatesStayExact(t *testing.T) {
	filter, err := NewFilterCriteria([]int64{101}, []string{"A"}, 202401,
		Predicate{Entity: EntityTrancheBal, Field: "tr_end_bal_amt", Operator: OpIn, Values: []any{
			json.Number("12345678901234567.89"),
			"0.10",
			int64(42),
		}},
	)
	if err != nil {
		t.Fatalf("NewFilterCriteria returned error: %v", err)
	}
	numbers := filter.Predicates()[0].Numbers
	want := []string{"12345678901234567.89", "0.1", "42"}
	for i, n := range numbers {
		if n.String() != want[i] {
			t.Fatalf("value %d: got %s want %s", i, n.String(), want[i])
		}
	}
}

func TestWithCycle(t *testing.T) {
	filter, err := NewFilterCriteria([]int64{101}, []string{"A"}, 202401)
	if err != nil {
		t.Fatalf("NewFilterCriteria returned error: %v", err)
	}
	next, err := filter.WithCycle(202402)
	if err != nil || next.CycleCode() != 202402 || filter.CycleCode() != 202401 {
		t.Fatalf("unexpected cycles %d/%d (%v)", next.CycleCode(), filter.CycleCode(), err)
	}
	if _, err := filter.WithCycle(0); err == nil {
		t.Fatalf("expected error for zero cycle")
	}
}

func TestTemplateTrancheIDsCollapseAcrossDeals(t *testing.T) {
	template := ReportTemplate{Tranches: []ReportTranche{
		{DealNumber: 102, TrancheID: "B"},
		{DealNumber: 101, TrancheID: "A"},
		{DealNumber: 102, TrancheID: "A"},
	}}
	if got := template.TrancheIDs(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("unexpected tranche ids %v", got)
	}
}
