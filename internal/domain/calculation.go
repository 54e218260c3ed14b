package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validator exposes the shared struct validator so HTTP payloads use the same rules.
func Validator() *validator.Validate {
	return validate
}

// CalculationSpec is the raw, persisted form of a calculation definition.
type CalculationSpec struct {
	ID           int64               `json:"id,omitempty"`
	Name         string              `json:"name" validate:"required,max=100"`
	Description  string              `json:"description,omitempty" validate:"max=500"`
	Function     AggregationFunction `json:"aggregation_function" validate:"required,oneof=SUM AVG COUNT MIN MAX WEIGHTED_AVG"`
	SourceEntity Entity              `json:"source_entity" validate:"required,oneof=Deal Tranche TrancheBal"`
	SourceField  string              `json:"source_field" validate:"required"`
	WeightField  string              `json:"weight_field,omitempty" validate:"required_if=Function WEIGHTED_AVG"`
	GroupLevel   Grain               `json:"group_level" validate:"required,oneof=deal tranche"`
	IsActive     bool                `json:"is_active"`
	CreatedBy    string              `json:"created_by,omitempty"`
	CreatedAt    time.Time           `json:"created_at,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at,omitempty"`
}

// Calculation is a validated, immutable calculation definition. The zero value is
// not usable; construct it with NewCalculation.
type Calculation struct {
	spec        CalculationSpec
	aggregation Aggregation
	displayName string
}

// NewCalculation validates spec against the entity schema and returns the immutable
// definition. Every failure is an *InvalidCalculationError.
func NewCalculation(spec CalculationSpec) (Calculation, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Description = strings.TrimSpace(spec.Description)
	spec.Function = AggregationFunction(strings.ToUpper(strings.TrimSpace(string(spec.Function))))
	spec.SourceField = strings.TrimSpace(spec.SourceField)
	spec.WeightField = strings.TrimSpace(spec.WeightField)
	if entity, err := ParseEntity(string(spec.SourceEntity)); err == nil {
		spec.SourceEntity = entity
	}
	if grain, err := ParseGrain(string(spec.GroupLevel)); err == nil {
		spec.GroupLevel = grain
	}

	if err := validate.Struct(spec); err != nil {
		return Calculation{}, &InvalidCalculationError{Name: spec.Name, Reason: describeValidation(err)}
	}

	aggregation, err := ParseAggregation(string(spec.Function))
	if err != nil {
		return Calculation{}, &InvalidCalculationError{Name: spec.Name, Reason: err.Error()}
	}

	schema := MustSchema(spec.SourceEntity)
	field, ok := schema.Field(spec.SourceField)
	if !ok {
		return Calculation{}, &InvalidCalculationError{
			Name:   spec.Name,
			Reason: fmt.Sprintf("field %s does not exist on %s", spec.SourceField, spec.SourceEntity),
		}
	}
	if aggregation.RequiresNumeric() && field.Kind != FieldKindNumeric {
		return Calculation{}, &InvalidCalculationError{
			Name:   spec.Name,
			Reason: fmt.Sprintf("%s requires a numeric field, %s.%s is %s", aggregation.Function(), spec.SourceEntity, spec.SourceField, field.Kind),
		}
	}

	if aggregation.Function() == AggregationWeightedAvg {
		weight, ok := schema.Field(spec.WeightField)
		if !ok {
			return Calculation{}, &InvalidCalculationError{
				Name:   spec.Name,
				Reason: fmt.Sprintf("weight field %s does not exist on %s", spec.WeightField, spec.SourceEntity),
			}
		}
		if weight.Kind != FieldKindNumeric {
			return Calculation{}, &InvalidCalculationError{
				Name:   spec.Name,
				Reason: fmt.Sprintf("weight field %s.%s must be numeric", spec.SourceEntity, spec.WeightField),
			}
		}
	} else if spec.WeightField != "" {
		return Calculation{}, &InvalidCalculationError{
			Name:   spec.Name,
			Reason: fmt.Sprintf("weight field is only allowed for %s", AggregationWeightedAvg),
		}
	}

	return Calculation{spec: spec, aggregation: aggregation}, nil
}

func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fe.Field()))
		case "required_if":
			messages = append(messages, fmt.Sprintf("%s is required when %s", fe.Field(), fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

func (c Calculation) ID() int64                { return c.spec.ID }
func (c Calculation) Name() string             { return c.spec.Name }
func (c Calculation) Aggregation() Aggregation { return c.aggregation }
func (c Calculation) SourceEntity() Entity     { return c.spec.SourceEntity }
func (c Calculation) SourceField() string      { return c.spec.SourceField }
func (c Calculation) WeightField() string      { return c.spec.WeightField }
func (c Calculation) GroupLevel() Grain        { return c.spec.GroupLevel }
func (c Calculation) Spec() CalculationSpec    { return c.spec }
func (c Calculation) IsZero() bool             { return c.aggregation == nil }

// DisplayName is the result column label: the report's override if any, else the name.
func (c Calculation) DisplayName() string {
	if c.displayName != "" {
		return c.displayName
	}
	return c.spec.Name
}

// WithDisplayName returns a copy labelled with name. Blank names clear the override.
func (c Calculation) WithDisplayName(name string) Calculation {
	c.displayName = strings.TrimSpace(name)
	return c
}

// Describe renders the calculation as e.g. "WEIGHTED_AVG(TrancheBal.tr_pass_thru_rte BY tr_end_bal_amt)".
func (c Calculation) Describe() string {
	if c.spec.WeightField != "" {
		return fmt.Sprintf("%s(%s.%s BY %s)", c.spec.Function, c.spec.SourceEntity, c.spec.SourceField, c.spec.WeightField)
	}
	return fmt.Sprintf("%s(%s.%s)", c.spec.Function, c.spec.SourceEntity, c.spec.SourceField)
}

func (c Calculation) MarshalJSON() ([]byte, error) {
	type payload struct {
		CalculationSpec
		DisplayName string `json:"display_name"`
	}
	return json.Marshal(payload{CalculationSpec: c.spec, DisplayName: c.DisplayName()})
}
