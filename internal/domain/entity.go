package domain

import (
	"fmt"
	"strings"
)

// Entity names one of the three warehouse fact tables.
type Entity string

const (
	EntityDeal       Entity = "Deal"
	EntityTranche    Entity = "Tranche"
	EntityTrancheBal Entity = "TrancheBal"
)

// FieldKind distinguishes columns that may feed numeric aggregates.
type FieldKind string

const (
	FieldKindNumeric FieldKind = "numeric"
	FieldKindText    FieldKind = "text"
)

// FieldDefinition describes one column of a warehouse entity.
type FieldDefinition struct {
	Name        string    `json:"name"`
	Kind        FieldKind `json:"kind"`
	Description string    `json:"description,omitempty"`
}

// EntitySchema is the static description of a warehouse table.
type EntitySchema struct {
	Entity Entity            `json:"entity"`
	Table  string            `json:"table"`
	Alias  string            `json:"alias"`
	Keys   []string          `json:"keys"`
	Fields []FieldDefinition `json:"fields"`
}

// Column returns the alias-qualified column reference, e.g. "tb.tr_end_bal_amt".
func (s EntitySchema) Column(field string) string {
	return s.Alias + "." + field
}

// Field looks up a field by name.
func (s EntitySchema) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

var (
	dealSchema = EntitySchema{
		Entity: EntityDeal,
		Table:  "deal",
		Alias:  "d",
		Keys:   []string{"dl_nbr"},
		Fields: []FieldDefinition{
			{Name: "dl_nbr", Kind: FieldKindNumeric, Description: "Deal number"},
			{Name: "issr_cde", Kind: FieldKindText, Description: "Issuer code"},
			{Name: "cdi_file_nme", Kind: FieldKindText, Description: "CDI file name"},
			{Name: "cdb_cdi_file_nme", Kind: FieldKindText, Description: "CDB CDI file name"},
		},
	}
	trancheSchema = EntitySchema{
		Entity: EntityTranche,
		Table:  "tranche",
		Alias:  "t",
		Keys:   []string{"dl_nbr", "tr_id"},
		Fields: []FieldDefinition{
			{Name: "dl_nbr", Kind: FieldKindNumeric, Description: "Deal number"},
			{Name: "tr_id", Kind: FieldKindText, Description: "Tranche identifier"},
			{Name: "tr_cusip_id", Kind: FieldKindText, Description: "Tranche CUSIP"},
		},
	}
	trancheBalSchema = EntitySchema{
		Entity: EntityTrancheBal,
		Table:  "tranchebal",
		Alias:  "tb",
		Keys:   []string{"dl_nbr", "tr_id", "cycle_cde"},
		Fields: []FieldDefinition{
			{Name: "dl_nbr", Kind: FieldKindNumeric, Description: "Deal number"},
			{Name: "tr_id", Kind: FieldKindText, Description: "Tranche identifier"},
			{Name: "cycle_cde", Kind: FieldKindNumeric, Description: "Reporting cycle code"},
			{Name: "tr_end_bal_amt", Kind: FieldKindNumeric, Description: "Ending balance amount"},
			{Name: "tr_prin_rel_ls_amt", Kind: FieldKindNumeric, Description: "Principal release loss amount"},
			{Name: "tr_pass_thru_rte", Kind: FieldKindNumeric, Description: "Pass-through rate"},
			{Name: "tr_accrl_days", Kind: FieldKindNumeric, Description: "Accrual days"},
			{Name: "tr_int_dstrb_amt", Kind: FieldKindNumeric, Description: "Interest distribution amount"},
			{Name: "tr_prin_dstrb_amt", Kind: FieldKindNumeric, Description: "Principal distribution amount"},
			{Name: "tr_int_accrl_amt", Kind: FieldKindNumeric, Description: "Interest accrual amount"},
			{Name: "tr_int_shtfl_amt", Kind: FieldKindNumeric, Description: "Interest shortfall amount"},
		},
	}
)

// Schema returns the static schema for an entity. Unknown entities yield false.
func Schema(entity Entity) (EntitySchema, bool) {
	switch entity {
	case EntityDeal:
		return dealSchema, true
	case EntityTranche:
		return trancheSchema, true
	case EntityTrancheBal:
		return trancheBalSchema, true
	}
	return EntitySchema{}, false
}

// MustSchema is Schema for entities that were validated earlier.
func MustSchema(entity Entity) EntitySchema {
	s, ok := Schema(entity)
	if !ok {
		panic(fmt.Sprintf("unknown entity %q", entity))
	}
	return s
}

// Entities lists every entity root-first.
func Entities() []Entity {
	return []Entity{EntityDeal, EntityTranche, EntityTrancheBal}
}

// Depth is the number of joins needed from Deal to reach the entity.
func (e Entity) Depth() int {
	switch e {
	case EntityTranche:
		return 1
	case EntityTrancheBal:
		return 2
	}
	return 0
}

// Valid reports whether e is one of the known entities.
func (e Entity) Valid() bool {
	_, ok := Schema(e)
	return ok
}

// ParseEntity accepts entity names case-insensitively, as well as table names.
func ParseEntity(value string) (Entity, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, entity := range Entities() {
		s := MustSchema(entity)
		if normalized == strings.ToLower(string(entity)) || normalized == s.Table {
			return entity, nil
		}
	}
	return "", fmt.Errorf("unknown source entity %q", value)
}

// Grain is the level of row identity a report or calculation aggregates to.
type Grain string

const (
	GrainDeal    Grain = "deal"
	GrainTranche Grain = "tranche"
)

// Valid reports whether g is a known grain.
func (g Grain) Valid() bool {
	return g == GrainDeal || g == GrainTranche
}

// Entity returns the deepest entity the grain's key columns come from.
func (g Grain) Entity() Entity {
	if g == GrainTranche {
		return EntityTranche
	}
	return EntityDeal
}

// Finer reports whether g identifies rows at a finer level than other.
func (g Grain) Finer(other Grain) bool {
	return g.Entity().Depth() > other.Entity().Depth()
}

// ParseGrain accepts "deal" or "tranche" in any case.
func ParseGrain(value string) (Grain, error) {
	g := Grain(strings.ToLower(strings.TrimSpace(value)))
	if !g.Valid() {
		return "", fmt.Errorf("unknown grain %q", value)
	}
	return g, nil
}
