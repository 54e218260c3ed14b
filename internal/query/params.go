package query

import (
	"fmt"

	"github.com/rpattn/dealreport/internal/domain"
)

type sqlBuilder struct {
	args []any
}

func newSQLBuilder() *sqlBuilder {
	return &sqlBuilder{args: make([]any, 0)}
}

func (b *sqlBuilder) addArg(value any) int {
	b.args = append(b.args, value)
	return len(b.args)
}

func (b *sqlBuilder) placeholder(idx int) string {
	return fmt.Sprintf("$%d", idx)
}

// filterParams registers every filter value exactly once. The base query and all
// subqueries reference the same placeholders, so the consolidated statement can
// never bind different values for the same filter.
type filterParams struct {
	builder    *sqlBuilder
	deals      int
	tranches   int
	cycle      int
	predicates []boundPredicate
}

type boundPredicate struct {
	predicate domain.FieldPredicate
	idx       int
}

func bindFilter(builder *sqlBuilder, filter domain.FilterCriteria) *filterParams {
	p := &filterParams{
		builder:  builder,
		deals:    builder.addArg(filter.DealNumbers()),
		tranches: builder.addArg(filter.TrancheIDs()),
		cycle:    builder.addArg(filter.CycleCode()),
	}
	for _, pred := range filter.Predicates() {
		var value any
		switch {
		case pred.Kind == domain.FieldKindNumeric && pred.Multi():
			value = pred.Numbers
		case pred.Kind == domain.FieldKindNumeric:
			value = pred.Numbers[0]
		case pred.Multi():
			value = pred.Strings
		default:
			value = pred.Strings[0]
		}
		p.predicates = append(p.predicates, boundPredicate{predicate: pred, idx: builder.addArg(value)})
	}
	return p
}

// where returns the conditions that apply to a query joining path. Deal numbers always
// apply; tranche ids and cycle apply once their entity is joined, as do predicates.
func (p *filterParams) where(path JoinPath) []string {
	deal := domain.MustSchema(domain.EntityDeal)
	conditions := []string{
		fmt.Sprintf("%s = ANY(%s)", deal.Column("dl_nbr"), p.builder.placeholder(p.deals)),
	}
	if path.Includes(domain.EntityTranche) {
		tranche := domain.MustSchema(domain.EntityTranche)
		conditions = append(conditions, fmt.Sprintf("%s = ANY(%s)", tranche.Column("tr_id"), p.builder.placeholder(p.tranches)))
	}
	if path.Includes(domain.EntityTrancheBal) {
		bal := domain.MustSchema(domain.EntityTrancheBal)
		conditions = append(conditions, fmt.Sprintf("%s = %s", bal.Column("cycle_cde"), p.builder.placeholder(p.cycle)))
	}

	for _, bound := range p.predicates {
		pred := bound.predicate
		if !path.Includes(pred.Entity) {
			continue
		}
		column := domain.MustSchema(pred.Entity).Column(pred.Field)
		cast := "text"
		if pred.Kind == domain.FieldKindNumeric {
			cast = "numeric"
		}
		ph := p.builder.placeholder(bound.idx)
		if pred.Multi() {
			conditions = append(conditions, fmt.Sprintf("%s = ANY(%s::%s[])", column, ph, cast))
			continue
		}
		conditions = append(conditions, fmt.Sprintf("%s %s %s::%s", column, pred.Operator.SQL(), ph, cast))
	}
	return conditions
}
