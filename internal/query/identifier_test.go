package query

import (
	"strings"
	"testing"

	"github.com/rpattn/dealreport/internal/domain"
)

func TestSanitizeIdentifier(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "spaces", in: "Total Balance", want: "total_balance"},
		{name: "collapses runs", in: "  --Weighted   Avg Rate!! ", want: "weighted_avg_rate"},
		{name: "digit prefix", in: "2024 Balance", want: "calc_2024_balance"},
		{name: "empty", in: "", want: "calc"},
		{name: "punctuation only", in: "!!!", want: "calc"},
		{name: "non ascii", in: "Über Rate", want: "ber_rate"},
		{name: "already safe", in: "wac_rate", want: "wac_rate"},
		{name: "truncated", in: strings.Repeat("a", 80), want: strings.Repeat("a", maxIdentifierLength)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeIdentifier(tc.in); got != tc.want {
				t.Fatalf("SanitizeIdentifier(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestValueColumnAvoidsKeyAliases(t *testing.T) {
	if got := valueColumn("Deal Number"); got != "deal_number_value" {
		t.Fatalf("expected key alias clash to be suffixed, got %s", got)
	}
	if got := valueColumn("Cycle-Code"); got != "cycle_code_value" {
		t.Fatalf("expected key alias clash to be suffixed, got %s", got)
	}
	if got := valueColumn("Tranche Count"); got != "tranche_count" {
		t.Fatalf("expected plain sanitized alias, got %s", got)
	}
}

func TestQuoteIdentifierEscapesQuotes(t *testing.T) {
	if got := QuoteIdentifier(`Rate "x"`); got != `"Rate ""x"""` {
		t.Fatalf("unexpected quoted identifier %s", got)
	}
}

func TestResolveJoinPath(t *testing.T) {
	cases := []struct {
		entity domain.Entity
		want   string
	}{
		{entity: domain.EntityDeal, want: "Deal"},
		{entity: domain.EntityTranche, want: "Deal -> Tranche"},
		{entity: domain.EntityTrancheBal, want: "Deal -> Tranche -> TrancheBal"},
	}

	for _, tc := range cases {
		path := ResolveJoinPath(tc.entity)
		if path.String() != tc.want {
			t.Fatalf("ResolveJoinPath(%s) = %s, want %s", tc.entity, path, tc.want)
		}
		if path.Deepest() != tc.entity {
			t.Fatalf("expected path to end at %s, got %s", tc.entity, path.Deepest())
		}
	}
}

func TestJoinPathExtendKeepsDeeperPath(t *testing.T) {
	path := ResolveJoinPath(domain.EntityDeal).Extend(domain.EntityTranche)
	if path.String() != "Deal -> Tranche" {
		t.Fatalf("expected extension to tranche, got %s", path)
	}
	path = ResolveJoinPath(domain.EntityTrancheBal).Extend(domain.EntityTranche)
	if len(path) != 3 {
		t.Fatalf("expected deeper path to be kept, got %s", path)
	}
}

func TestJoinPathFromClauseJoinsOnParentKeys(t *testing.T) {
	lines := ResolveJoinPath(domain.EntityTrancheBal).fromClause()
	want := []string{
		"FROM deal d",
		"INNER JOIN tranche t ON t.dl_nbr = d.dl_nbr",
		"INNER JOIN tranchebal tb ON tb.dl_nbr = t.dl_nbr AND tb.tr_id = t.tr_id",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected from clause:\n%s", strings.Join(lines, "\n"))
	}
}
