package query

import (
	"fmt"
	"strings"

	"github.com/rpattn/dealreport/internal/domain"
)

// JoinPath is the ordered chain of entities joined from Deal to reach a source entity.
type JoinPath []domain.Entity

// ResolveJoinPath returns [Deal], [Deal, Tranche] or [Deal, Tranche, TrancheBal].
func ResolveJoinPath(entity domain.Entity) JoinPath {
	all := domain.Entities()
	return append(JoinPath(nil), all[:entity.Depth()+1]...)
}

// Includes reports whether the path joins entity.
func (p JoinPath) Includes(entity domain.Entity) bool {
	for _, e := range p {
		if e == entity {
			return true
		}
	}
	return false
}

// Deepest returns the last entity of the path.
func (p JoinPath) Deepest() domain.Entity {
	if len(p) == 0 {
		return domain.EntityDeal
	}
	return p[len(p)-1]
}

// Extend returns the longer of p and the path needed to reach entity.
func (p JoinPath) Extend(entity domain.Entity) JoinPath {
	if entity.Depth() <= p.Deepest().Depth() {
		return p
	}
	return ResolveJoinPath(entity)
}

func (p JoinPath) String() string {
	names := make([]string, len(p))
	for i, e := range p {
		names[i] = string(e)
	}
	return strings.Join(names, " -> ")
}

// fromClause renders FROM and INNER JOIN lines. Each child joins its parent on the
// parent's key columns.
func (p JoinPath) fromClause() []string {
	if len(p) == 0 {
		p = ResolveJoinPath(domain.EntityDeal)
	}
	root := domain.MustSchema(p[0])
	lines := []string{fmt.Sprintf("FROM %s %s", root.Table, root.Alias)}
	for i := 1; i < len(p); i++ {
		parent := domain.MustSchema(p[i-1])
		child := domain.MustSchema(p[i])
		conditions := make([]string, 0, len(parent.Keys))
		for _, key := range parent.Keys {
			conditions = append(conditions, fmt.Sprintf("%s = %s", child.Column(key), parent.Column(key)))
		}
		lines = append(lines, fmt.Sprintf("INNER JOIN %s %s ON %s", child.Table, child.Alias, strings.Join(conditions, " AND ")))
	}
	return lines
}
