package domain

import (
	"fmt"
	"strings"
)

// AggregationFunction is the persisted name of an aggregation.
type AggregationFunction string

const (
	AggregationSum         AggregationFunction = "SUM"
	AggregationAvg         AggregationFunction = "AVG"
	AggregationCount       AggregationFunction = "COUNT"
	AggregationMin         AggregationFunction = "MIN"
	AggregationMax         AggregationFunction = "MAX"
	AggregationWeightedAvg AggregationFunction = "WEIGHTED_AVG"
)

// AggregationFunctions lists every supported function in display order.
func AggregationFunctions() []AggregationFunction {
	return []AggregationFunction{
		AggregationSum,
		AggregationAvg,
		AggregationCount,
		AggregationMin,
		AggregationMax,
		AggregationWeightedAvg,
	}
}

// Aggregation is the closed set of aggregation variants. Each variant renders its own
// SQL expression, so the compiler never switches on the function name; a new variant
// only compiles once it implements Expression.
type Aggregation interface {
	Function() AggregationFunction
	// Expression renders the aggregate over the given column references. weight is
	// empty for every variant except WeightedAvg.
	Expression(value, weight string) string
	// RequiresNumeric reports whether the source field must be numeric.
	RequiresNumeric() bool
	sealed()
}

type Sum struct{}

func (Sum) Function() AggregationFunction     { return AggregationSum }
func (Sum) Expression(value, _ string) string { return "SUM(" + value + ")" }
func (Sum) RequiresNumeric() bool             { return true }
func (Sum) sealed()                           {}

type Avg struct{}

func (Avg) Function() AggregationFunction     { return AggregationAvg }
func (Avg) Expression(value, _ string) string { return "AVG(" + value + ")" }
func (Avg) RequiresNumeric() bool             { return true }
func (Avg) sealed()                           {}

type Count struct{}

func (Count) Function() AggregationFunction     { return AggregationCount }
func (Count) Expression(value, _ string) string { return "COUNT(" + value + ")" }
func (Count) RequiresNumeric() bool             { return false }
func (Count) sealed()                           {}

type Min struct{}

func (Min) Function() AggregationFunction     { return AggregationMin }
func (Min) Expression(value, _ string) string { return "MIN(" + value + ")" }
func (Min) RequiresNumeric() bool             { return true }
func (Min) sealed()                           {}

type Max struct{}

func (Max) Function() AggregationFunction     { return AggregationMax }
func (Max) Expression(value, _ string) string { return "MAX(" + value + ")" }
func (Max) RequiresNumeric() bool             { return true }
func (Max) sealed()                           {}

// WeightedAvg yields NULL rather than a division error when the total weight is zero.
type WeightedAvg struct{}

func (WeightedAvg) Function() AggregationFunction { return AggregationWeightedAvg }
func (WeightedAvg) Expression(value, weight string) string {
	return fmt.Sprintf("SUM(%s * %s) / NULLIF(SUM(%s), 0)", value, weight, weight)
}
func (WeightedAvg) RequiresNumeric() bool { return true }
func (WeightedAvg) sealed()               {}

// ParseAggregation maps a persisted function name to its variant.
func ParseAggregation(value string) (Aggregation, error) {
	switch AggregationFunction(strings.ToUpper(strings.TrimSpace(value))) {
	case AggregationSum:
		return Sum{}, nil
	case AggregationAvg:
		return Avg{}, nil
	case AggregationCount:
		return Count{}, nil
	case AggregationMin:
		return Min{}, nil
	case AggregationMax:
		return Max{}, nil
	case AggregationWeightedAvg:
		return WeightedAvg{}, nil
	}
	return nil, fmt.Errorf("unsupported aggregation function %q", value)
}
