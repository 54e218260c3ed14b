package query

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// maxIdentifierLength is PostgreSQL's NAMEDATALEN-1.
const maxIdentifierLength = 63

// SanitizeIdentifier turns an arbitrary calculation name into a SQL-safe column alias:
// lower-cased, every run of non-alphanumeric characters collapsed to one underscore,
// edges trimmed, and prefixed with "calc_" when it would start with a digit.
// It is total: every input maps to a usable identifier.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	pendingUnderscore := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingUnderscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingUnderscore = false
			b.WriteRune(r)
			continue
		}
		pendingUnderscore = true
	}

	out := b.String()
	if out == "" {
		return "calc"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "calc_" + out
	}
	if len(out) > maxIdentifierLength {
		out = strings.TrimRight(out[:maxIdentifierLength], "_")
	}
	return out
}

// QuoteIdentifier quotes a display label for use as a result column alias.
func QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

var reservedColumns = map[string]struct{}{
	dealNumberColumn: {},
	trancheIDColumn:  {},
	cycleCodeColumn:  {},
}

// valueColumn is the alias of a calculation's value inside its subquery. Both the
// subquery builder and the final projection call it, so the two never disagree.
func valueColumn(name string) string {
	col := SanitizeIdentifier(name)
	if _, clash := reservedColumns[col]; clash {
		col += "_value"
	}
	return col
}
