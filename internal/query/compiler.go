package query

import (
	"fmt"
	"strings"

	"github.com/rpattn/dealreport/internal/domain"
)

// Compile assembles the single statement used for both execution and preview: a base
// enumeration of grain keys with one pre-aggregated subquery LEFT JOINed per calculation.
//
// Calculations must already be validated. A calculation grouped finer than the report
// grain cannot be joined one-to-one and is rejected; a coarser one is repeated on every
// row sharing its key.
func Compile(calcs []domain.Calculation, filter domain.FilterCriteria, grain domain.Grain) (Statement, error) {
	if !grain.Valid() {
		return Statement{}, &domain.CompilationError{Reason: fmt.Sprintf("unknown report grain %q", grain)}
	}
	if len(filter.DealNumbers()) == 0 || len(filter.TrancheIDs()) == 0 {
		return Statement{}, &domain.CompilationError{Reason: "filter criteria were not validated"}
	}

	labels := make(map[string]struct{}, len(calcs))
	for i, calc := range calcs {
		if calc.IsZero() {
			return Statement{}, &domain.CompilationError{Reason: fmt.Sprintf("calculation at position %d was not validated", i)}
		}
		if calc.GroupLevel().Finer(grain) {
			return Statement{}, &domain.CompilationError{
				Reason: fmt.Sprintf("calculation %q is grouped by %s but the report grain is %s", calc.Name(), calc.GroupLevel(), grain),
			}
		}
		label := calc.DisplayName()
		if _, dup := labels[label]; dup {
			return Statement{}, &domain.CompilationError{Reason: fmt.Sprintf("duplicate result column %q", label)}
		}
		labels[label] = struct{}{}
	}

	builder := newSQLBuilder()
	params := bindFilter(builder, filter)

	keys, keySources := keyColumns(grain)
	bal := domain.MustSchema(domain.EntityTrancheBal)
	fullPath := ResolveJoinPath(domain.EntityTrancheBal)

	baseSelects := make([]string, 0, len(keys)+1)
	for i := range keys {
		baseSelects = append(baseSelects, fmt.Sprintf("%s AS %s", keySources[i], keys[i]))
	}
	baseSelects = append(baseSelects, fmt.Sprintf("%s AS %s", bal.Column("cycle_cde"), cycleCodeColumn))

	base := []string{"SELECT DISTINCT " + strings.Join(baseSelects, ", ")}
	base = append(base, fullPath.fromClause()...)
	base = append(base, "WHERE "+strings.Join(params.where(fullPath), " AND "))

	grouping := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		grouping = append(grouping, "base."+key)
	}
	grouping = append(grouping, "base."+cycleCodeColumn)

	columns := make([]Column, 0, len(grouping)+len(calcs))
	for _, key := range keys {
		columns = append(columns, keyColumn(key))
	}
	columns = append(columns, keyColumn(cycleCodeColumn))

	selects := append([]string(nil), grouping...)
	var joins []string
	for i, calc := range calcs {
		sub := buildSubquery(fmt.Sprintf("c%d", i+1), calc, params)
		selects = append(selects, fmt.Sprintf("MAX(%s.%s) AS %s", sub.alias, sub.value, QuoteIdentifier(calc.DisplayName())))
		columns = append(columns, Column{Name: calc.DisplayName(), Kind: ColumnValue})

		on := make([]string, len(sub.keys))
		for k, key := range sub.keys {
			on[k] = fmt.Sprintf("%s.%s = base.%s", sub.alias, key, key)
		}
		joins = append(joins, "LEFT JOIN (\n"+indent(sub.lines)+"\n) "+sub.alias+" ON "+strings.Join(on, " AND "))
	}

	var sql strings.Builder
	sql.WriteString("SELECT " + strings.Join(selects, ", ") + "\n")
	sql.WriteString("FROM (\n" + indent(base) + "\n) base\n")
	for _, join := range joins {
		sql.WriteString(join + "\n")
	}
	sql.WriteString("GROUP BY " + strings.Join(grouping, ", ") + "\n")
	sql.WriteString("ORDER BY " + strings.Join(grouping, ", "))

	return Statement{
		SQL:          sql.String(),
		Args:         builder.args,
		Grain:        grain,
		Columns:      columns,
		Calculations: append([]domain.Calculation(nil), calcs...),
	}, nil
}

func indent(lines []string) string {
	return "    " + strings.Join(lines, "\n    ")
}
