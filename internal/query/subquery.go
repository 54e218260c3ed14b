package query

import (
	"fmt"
	"strings"

	"github.com/rpattn/dealreport/internal/domain"
)

const (
	dealNumberColumn = "deal_number"
	trancheIDColumn  = "tranche_id"
	cycleCodeColumn  = "cycle_code"
)

// subquery is one calculation pre-aggregated to its own group level.
type subquery struct {
	alias       string
	calculation domain.Calculation
	path        JoinPath
	keys        []string
	value       string
	lines       []string
}

// keyColumns returns the output key aliases and the source columns for grain.
func keyColumns(grain domain.Grain) (aliases []string, columns []string) {
	deal := domain.MustSchema(domain.EntityDeal)
	aliases = []string{dealNumberColumn}
	columns = []string{deal.Column("dl_nbr")}
	if grain == domain.GrainTranche {
		tranche := domain.MustSchema(domain.EntityTranche)
		aliases = append(aliases, trancheIDColumn)
		columns = append(columns, tranche.Column("tr_id"))
	}
	return aliases, columns
}

func buildSubquery(alias string, calc domain.Calculation, params *filterParams) subquery {
	grain := calc.GroupLevel()
	path := ResolveJoinPath(calc.SourceEntity()).Extend(grain.Entity())

	schema := domain.MustSchema(calc.SourceEntity())
	weight := ""
	if calc.WeightField() != "" {
		weight = schema.Column(calc.WeightField())
	}
	expression := calc.Aggregation().Expression(schema.Column(calc.SourceField()), weight)

	keys, columns := keyColumns(grain)
	selects := make([]string, 0, len(keys)+1)
	for i := range keys {
		selects = append(selects, fmt.Sprintf("%s AS %s", columns[i], keys[i]))
	}
	value := valueColumn(calc.Name())
	selects = append(selects, fmt.Sprintf("%s AS %s", expression, value))

	lines := []string{"SELECT " + strings.Join(selects, ", ")}
	lines = append(lines, path.fromClause()...)
	lines = append(lines, "WHERE "+strings.Join(params.where(path), " AND "))
	lines = append(lines, "GROUP BY "+strings.Join(columns, ", "))

	return subquery{
		alias:       alias,
		calculation: calc,
		path:        path,
		keys:        keys,
		value:       value,
		lines:       lines,
	}
}

// BuildSubquery compiles a single calculation into a standalone aggregate statement that
// returns at most one row per key of the calculation's group level.
func BuildSubquery(calc domain.Calculation, filter domain.FilterCriteria) (Statement, error) {
	if calc.IsZero() {
		return Statement{}, &domain.CompilationError{Reason: "calculation was not validated"}
	}
	if len(filter.DealNumbers()) == 0 {
		return Statement{}, &domain.CompilationError{Reason: "filter criteria were not validated"}
	}
	builder := newSQLBuilder()
	sub := buildSubquery("c1", calc, bindFilter(builder, filter))

	columns := make([]Column, 0, len(sub.keys)+1)
	for _, key := range sub.keys {
		columns = append(columns, keyColumn(key))
	}
	columns = append(columns, Column{Name: calc.DisplayName(), Kind: ColumnValue})

	return Statement{
		SQL:          strings.Join(sub.lines, "\n"),
		Args:         builder.args,
		Grain:        calc.GroupLevel(),
		Columns:      columns,
		Calculations: []domain.Calculation{calc},
	}, nil
}
