package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PredicateOperator is a comparison usable in an extra filter predicate.
type PredicateOperator string

const (
	OpEq  PredicateOperator = "EQ"
	OpNe  PredicateOperator = "NE"
	OpGt  PredicateOperator = "GT"
	OpGte PredicateOperator = "GTE"
	OpLt  PredicateOperator = "LT"
	OpLte PredicateOperator = "LTE"
	OpIn  PredicateOperator = "IN"
)

// SQL returns the comparison operator used in the rendered predicate.
func (o PredicateOperator) SQL() string {
	switch o {
	case OpNe:
		return "<>"
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	}
	return "="
}

// Predicate is an extra field filter supplied alongside the deal/tranche/cycle selection.
type Predicate struct {
	Entity   Entity            `json:"entity"`
	Field    string            `json:"field"`
	Operator PredicateOperator `json:"operator"`
	Values   []any             `json:"values"`
}

// FieldPredicate is a validated predicate. Numeric fields carry exact Numbers, text
// fields carry Strings.
type FieldPredicate struct {
	Entity   Entity
	Field    string
	Kind     FieldKind
	Operator PredicateOperator
	Numbers  []decimal.Decimal
	Strings  []string
}

// Multi reports whether the predicate compares against a set.
func (p FieldPredicate) Multi() bool {
	return p.Operator == OpIn
}

// FilterCriteria is the validated selection a report executes against.
type FilterCriteria struct {
	dealNumbers []int64
	trancheIDs  []string
	cycleCode   int
	predicates  []FieldPredicate
}

// NewFilterCriteria de-duplicates and sorts the deal and tranche sets and validates
// every extra predicate against the entity schema.
func NewFilterCriteria(dealNumbers []int64, trancheIDs []string, cycleCode int, predicates ...Predicate) (FilterCriteria, error) {
	deals := uniqueInts(dealNumbers)
	if len(deals) == 0 {
		return FilterCriteria{}, &InvalidFilterError{Reason: "at least one deal number is required"}
	}
	tranches := uniqueStrings(trancheIDs)
	if len(tranches) == 0 {
		return FilterCriteria{}, &InvalidFilterError{Reason: "at least one tranche id is required"}
	}
	if cycleCode <= 0 {
		return FilterCriteria{}, &InvalidFilterError{Reason: fmt.Sprintf("cycle code must be positive, got %d", cycleCode)}
	}

	validated := make([]FieldPredicate, 0, len(predicates))
	for _, p := range predicates {
		fp, err := validatePredicate(p)
		if err != nil {
			return FilterCriteria{}, err
		}
		validated = append(validated, fp)
	}

	return FilterCriteria{
		dealNumbers: deals,
		trancheIDs:  tranches,
		cycleCode:   cycleCode,
		predicates:  validated,
	}, nil
}

func (f FilterCriteria) DealNumbers() []int64 { return append([]int64(nil), f.dealNumbers...) }
func (f FilterCriteria) TrancheIDs() []string { return append([]string(nil), f.trancheIDs...) }
func (f FilterCriteria) CycleCode() int       { return f.cycleCode }

func (f FilterCriteria) Predicates() []FieldPredicate {
	return append([]FieldPredicate(nil), f.predicates...)
}

// WithCycle returns a copy of the filter targeting another cycle.
func (f FilterCriteria) WithCycle(cycleCode int) (FilterCriteria, error) {
	if cycleCode <= 0 {
		return FilterCriteria{}, &InvalidFilterError{Reason: fmt.Sprintf("cycle code must be positive, got %d", cycleCode)}
	}
	f.cycleCode = cycleCode
	return f, nil
}

func validatePredicate(p Predicate) (FieldPredicate, error) {
	entity, err := ParseEntity(string(p.Entity))
	if err != nil {
		return FieldPredicate{}, &InvalidFilterError{Reason: err.Error()}
	}
	schema := MustSchema(entity)
	field, ok := schema.Field(strings.TrimSpace(p.Field))
	if !ok {
		return FieldPredicate{}, &InvalidFilterError{Reason: fmt.Sprintf("field %s does not exist on %s", p.Field, entity)}
	}

	op := PredicateOperator(strings.ToUpper(strings.TrimSpace(string(p.Operator))))
	if op == "" {
		op = OpEq
	}
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if len(p.Values) != 1 {
			return FieldPredicate{}, &InvalidFilterError{Reason: fmt.Sprintf("%s on %s.%s needs exactly one value", op, entity, field.Name)}
		}
	case OpIn:
		if len(p.Values) == 0 {
			return FieldPredicate{}, &InvalidFilterError{Reason: fmt.Sprintf("IN on %s.%s needs at least one value", entity, field.Name)}
		}
	default:
		return FieldPredicate{}, &InvalidFilterError{Reason: fmt.Sprintf("unsupported operator %q", p.Operator)}
	}

	fp := FieldPredicate{Entity: entity, Field: field.Name, Kind: field.Kind, Operator: op}
	for _, raw := range p.Values {
		switch field.Kind {
		case FieldKindNumeric:
			n, err := toDecimal(raw)
			if err != nil {
				return FieldPredicate{}, &InvalidFilterError{Reason: fmt.Sprintf("%s.%s: %v", entity, field.Name, err)}
			}
			fp.Numbers = append(fp.Numbers, n)
		default:
			if raw == nil {
				return FieldPredicate{}, &InvalidFilterError{Reason: fmt.Sprintf("%s.%s: null is not comparable", entity, field.Name)}
			}
			fp.Strings = append(fp.Strings, fmt.Sprint(raw))
		}
	}
	return fp, nil
}

// toDecimal keeps numeric predicate values exact; JSON numbers and strings are parsed
// from their text, never through float64.
func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float32:
		return fromFloat(float64(v))
	case float64:
		return fromFloat(v)
	case decimal.Decimal:
		return v, nil
	case json.Number:
		return parseDecimal(string(v))
	case string:
		return parseDecimal(v)
	}
	return decimal.Decimal{}, fmt.Errorf("value %v is not numeric", value)
}

func fromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, fmt.Errorf("value must be finite")
	}
	return decimal.NewFromFloat(f), nil
}

func parseDecimal(text string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("value %q is not numeric", text)
	}
	return d, nil
}

func uniqueInts(values []int64) []int64 {
	seen := make(map[int64]struct{}, len(values))
	out := make([]int64, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
