package query

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLiteral(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: "NULL"},
		{name: "bool", in: true, want: "TRUE"},
		{name: "int", in: 202401, want: "202401"},
		{name: "int64", in: int64(-7), want: "-7"},
		{name: "float", in: 0.025, want: "0.025"},
		{name: "whole float", in: float64(1000), want: "1000"},
		{name: "decimal", in: decimal.RequireFromString("1.250"), want: "1.25"},
		{name: "string", in: "O'Brien", want: "'O''Brien'"},
		{name: "int array", in: []int64{101, 102}, want: "ARRAY[101, 102]"},
		{name: "float array", in: []float64{1.5, 2}, want: "ARRAY[1.5, 2]"},
		{name: "decimal array", in: []decimal.Decimal{decimal.RequireFromString("12345678901234567.89"), decimal.NewFromInt(2)}, want: "ARRAY[12345678901234567.89, 2]"},
		{name: "string array", in: []string{"A", "B'"}, want: "ARRAY['A', 'B''']"},
		{name: "empty array", in: []string{}, want: "'{}'"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Literal(tc.in)
			if err != nil {
				t.Fatalf("Literal(%v) returned error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("Literal(%v) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}

	if _, err := Literal(struct{}{}); err == nil {
		t.Fatalf("expected unsupported argument type to fail")
	}
}

func TestRender_SkipsQuotedSections(t *testing.T) {
	stmt := Statement{
		SQL:  `SELECT '$1' AS "col $1", 'it''s $2' AS x, $1, $2`,
		Args: []any{5, "y"},
	}
	got, err := stmt.Render()
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	want := `SELECT '$1' AS "col $1", 'it''s $2' AS x, 5, 'y'`
	if got != want {
		t.Fatalf("Render() = %s, want %s", got, want)
	}
}

func TestRender_MultiDigitPlaceholders(t *testing.T) {
	args := make([]any, 12)
	for i := range args {
		args[i] = i + 1
	}
	stmt := Statement{SQL: "SELECT $1, $12, $10", Args: args}
	got, err := stmt.Render()
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if got != "SELECT 1, 12, 10" {
		t.Fatalf("unexpected render %s", got)
	}
}

func TestRender_MissingArgument(t *testing.T) {
	stmt := Statement{SQL: "SELECT $2", Args: []any{1}}
	if _, err := stmt.Render(); err == nil || !strings.Contains(err.Error(), "$2") {
		t.Fatalf("expected missing argument error, got %v", err)
	}
}

func TestRender_LoneDollarIsKept(t *testing.T) {
	stmt := Statement{SQL: "SELECT $ || $1", Args: []any{"a"}}
	got, err := stmt.Render()
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if got != "SELECT $ || 'a'" {
		t.Fatalf("unexpected render %s", got)
	}
}

func TestParameters(t *testing.T) {
	stmt := Statement{Args: []any{[]int64{1}, "A"}}
	params := stmt.Parameters()
	if len(params) != 2 {
		t.Fatalf("expected two parameters, got %d", len(params))
	}
	if params["$2"] != "A" {
		t.Fatalf("unexpected parameter $2: %v", params["$2"])
	}
}
