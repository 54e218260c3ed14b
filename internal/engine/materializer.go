package engine

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rpattn/dealreport/internal/domain"
	"github.com/rpattn/dealreport/internal/query"
	"github.com/shopspring/decimal"
)

// materialize maps every row positionally onto stmt.Columns. Rows are only returned
// when the whole result was read without error.
func materialize(rows pgx.Rows, stmt query.Statement) ([]domain.ReportRow, error) {
	defer rows.Close()

	var out []domain.ReportRow
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		if len(values) != len(stmt.Columns) {
			return nil, fmt.Errorf("expected %d columns, got %d", len(stmt.Columns), len(values))
		}

		row := domain.ReportRow{Values: make(map[string]decimal.NullDecimal, len(stmt.Calculations))}
		for i, col := range stmt.Columns {
			switch col.Kind {
			case query.ColumnDealNumber:
				n, err := toInt64(values[i])
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", col.Name, err)
				}
				row.DealNumber = n
			case query.ColumnTrancheID:
				s, err := toString(values[i])
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", col.Name, err)
				}
				row.TrancheID = &s
			case query.ColumnCycleCode:
				n, err := toInt64(values[i])
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", col.Name, err)
				}
				row.CycleCode = int(n)
			case query.ColumnValue:
				d, err := toNullDecimal(values[i])
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", col.Name, err)
				}
				row.Values[col.Name] = d
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ReportRow{}
	}
	return out, nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case pgtype.Numeric:
		d, err := numericToDecimal(v)
		if err != nil {
			return 0, err
		}
		if !d.Valid || !d.Decimal.IsInteger() {
			return 0, fmt.Errorf("value %v is not an integer", value)
		}
		return d.Decimal.IntPart(), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case nil:
		return 0, fmt.Errorf("unexpected null key")
	}
	return 0, fmt.Errorf("unsupported key type %T", value)
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("unexpected null key")
	}
	return fmt.Sprint(value), nil
}

func toNullDecimal(value any) (decimal.NullDecimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case int16:
		return valid(decimal.NewFromInt(int64(v))), nil
	case int32:
		return valid(decimal.NewFromInt32(v)), nil
	case int64:
		return valid(decimal.NewFromInt(v)), nil
	case int:
		return valid(decimal.NewFromInt(int64(v))), nil
	case float32:
		return toNullDecimal(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.NullDecimal{}, fmt.Errorf("non-finite float value")
		}
		return valid(decimal.NewFromFloat(v)), nil
	case pgtype.Numeric:
		return numericToDecimal(v)
	case decimal.Decimal:
		return valid(v), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("parse %q as decimal: %w", v, err)
		}
		return valid(d), nil
	}
	return decimal.NullDecimal{}, fmt.Errorf("unsupported value type %T", value)
}

func numericToDecimal(n pgtype.Numeric) (decimal.NullDecimal, error) {
	if !n.Valid {
		return decimal.NullDecimal{}, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.NullDecimal{}, fmt.Errorf("non-finite numeric value")
	}
	i := n.Int
	if i == nil {
		i = new(big.Int)
	}
	return valid(decimal.NewFromBigInt(i, n.Exp)), nil
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
