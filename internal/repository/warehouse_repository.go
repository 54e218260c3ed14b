package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rpattn/dealreport/internal/db"
	"github.com/rpattn/dealreport/internal/domain"
)

type warehouseRepository struct {
	db db.DBTX
}

// NewWarehouseRepository creates a read-only repository over deal, tranche and tranchebal
func NewWarehouseRepository(conn db.DBTX) WarehouseRepository {
	return &warehouseRepository{db: conn}
}

// ListDeals returns every deal. A positive cycleCode restricts the list to deals with
// balances in that cycle.
func (r *warehouseRepository) ListDeals(ctx context.Context, cycleCode int) ([]domain.DealSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT d.dl_nbr, d.issr_cde, d.cdi_file_nme, COUNT(t.tr_id)
		FROM deal d
		LEFT JOIN tranche t ON t.dl_nbr = d.dl_nbr
		WHERE $1 <= 0 OR EXISTS (SELECT 1 FROM tranchebal tb WHERE tb.dl_nbr = d.dl_nbr AND tb.cycle_cde = $1)
		GROUP BY d.dl_nbr, d.issr_cde, d.cdi_file_nme
		ORDER BY d.dl_nbr`,
		cycleCode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	defer rows.Close()

	deals := make([]domain.DealSummary, 0)
	for rows.Next() {
		var (
			deal    domain.DealSummary
			issuer  pgtype.Text
			cdiFile pgtype.Text
			count   int64
		)
		if err := rows.Scan(&deal.DealNumber, &issuer, &cdiFile, &count); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deal.IssuerCode = strings.TrimSpace(issuer.String)
		deal.CDIFileName = strings.TrimSpace(cdiFile.String)
		deal.TrancheCount = int(count)
		deals = append(deals, deal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deals: %w", err)
	}
	return deals, nil
}

// ListTranches returns the tranches of dealNumbers, optionally restricted to a cycle.
func (r *warehouseRepository) ListTranches(ctx context.Context, dealNumbers []int64, cycleCode int) ([]domain.TrancheSummary, error) {
	if len(dealNumbers) == 0 {
		return []domain.TrancheSummary{}, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT t.dl_nbr, t.tr_id, t.tr_cusip_id
		FROM tranche t
		WHERE t.dl_nbr = ANY($1)
		AND ($2 <= 0 OR EXISTS (SELECT 1 FROM tranchebal tb WHERE tb.dl_nbr = t.dl_nbr AND tb.tr_id = t.tr_id AND tb.cycle_cde = $2))
		ORDER BY t.dl_nbr, t.tr_id`,
		dealNumbers, cycleCode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tranches: %w", err)
	}
	defer rows.Close()

	tranches := make([]domain.TrancheSummary, 0)
	for rows.Next() {
		var (
			tranche domain.TrancheSummary
			cusip   pgtype.Text
		)
		if err := rows.Scan(&tranche.DealNumber, &tranche.TrancheID, &cusip); err != nil {
			return nil, fmt.Errorf("scan tranche: %w", err)
		}
		tranche.CUSIP = strings.TrimSpace(cusip.String)
		tranches = append(tranches, tranche)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tranches: %w", err)
	}
	return tranches, nil
}

// ListCycles returns the cycles with balance data, newest first.
func (r *warehouseRepository) ListCycles(ctx context.Context) ([]domain.CycleSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT cycle_cde, COUNT(DISTINCT dl_nbr), COUNT(*)
		FROM tranchebal
		GROUP BY cycle_cde
		ORDER BY cycle_cde DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]domain.CycleSummary, 0)
	for rows.Next() {
		var (
			cycle         domain.CycleSummary
			deals, rows64 int64
		)
		if err := rows.Scan(&cycle.CycleCode, &deals, &rows64); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycle.DealCount = int(deals)
		cycle.RowCount = int(rows64)
		cycles = append(cycles, cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return cycles, nil
}
