package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rpattn/dealreport/internal/domain"
	"github.com/shopspring/decimal"
)

// ColumnKind identifies how a result column is materialized.
type ColumnKind int

const (
	ColumnDealNumber ColumnKind = iota
	ColumnTrancheID
	ColumnCycleCode
	ColumnValue
)

// Column describes one positional column of a compiled statement's result.
type Column struct {
	Name string
	Kind ColumnKind
}

func keyColumn(alias string) Column {
	switch alias {
	case trancheIDColumn:
		return Column{Name: alias, Kind: ColumnTrancheID}
	case cycleCodeColumn:
		return Column{Name: alias, Kind: ColumnCycleCode}
	}
	return Column{Name: alias, Kind: ColumnDealNumber}
}

// Statement is a compiled, parameterized query. Execution and preview both consume the
// same value: execution sends SQL with Args, preview calls Render.
type Statement struct {
	SQL          string
	Args         []any
	Grain        domain.Grain
	Columns      []Column
	Calculations []domain.Calculation
}

// Render substitutes every $n placeholder with the SQL literal of Args[n-1]. Text inside
// quoted identifiers and string literals is copied unchanged.
func (s Statement) Render() (string, error) {
	var out strings.Builder
	out.Grow(len(s.SQL))
	sql := s.SQL

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch ch {
		case '"', '\'':
			end := closingQuote(sql, i)
			out.WriteString(sql[i:end])
			i = end - 1
		case '$':
			j := i + 1
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}
			if j == i+1 {
				out.WriteByte(ch)
				continue
			}
			n, err := strconv.Atoi(sql[i+1 : j])
			if err != nil || n < 1 || n > len(s.Args) {
				return "", fmt.Errorf("render statement: placeholder %s has no argument", sql[i:j])
			}
			literal, err := Literal(s.Args[n-1])
			if err != nil {
				return "", fmt.Errorf("render statement: placeholder %s: %w", sql[i:j], err)
			}
			out.WriteString(literal)
			i = j - 1
		default:
			out.WriteByte(ch)
		}
	}
	return out.String(), nil
}

// closingQuote returns the index just past the quoted section starting at start.
// A doubled quote character is an escaped quote.
func closingQuote(sql string, start int) int {
	quote := sql[start]
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(sql)
}

// Literal renders a bound argument as a SQL literal.
func Literal(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(v), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case decimal.Decimal:
		return v.String(), nil
	case string:
		return quoteLiteral(v), nil
	case []int64:
		items := make([]string, len(v))
		for i, n := range v {
			items[i] = strconv.FormatInt(n, 10)
		}
		return arrayLiteral(items), nil
	case []float64:
		items := make([]string, len(v))
		for i, f := range v {
			items[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		return arrayLiteral(items), nil
	case []decimal.Decimal:
		items := make([]string, len(v))
		for i, d := range v {
			items[i] = d.String()
		}
		return arrayLiteral(items), nil
	case []string:
		items := make([]string, len(v))
		for i, str := range v {
			items[i] = quoteLiteral(str)
		}
		return arrayLiteral(items), nil
	}
	return "", fmt.Errorf("unsupported argument type %T", value)
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func arrayLiteral(items []string) string {
	if len(items) == 0 {
		return "'{}'"
	}
	return "ARRAY[" + strings.Join(items, ", ") + "]"
}

// Parameters returns the bound arguments keyed by placeholder, for display next to the
// rendered SQL.
func (s Statement) Parameters() map[string]any {
	params := make(map[string]any, len(s.Args))
	for i, arg := range s.Args {
		params[fmt.Sprintf("$%d", i+1)] = arg
	}
	return params
}
