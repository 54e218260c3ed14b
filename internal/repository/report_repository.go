package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rpattn/dealreport/internal/db"
	"github.com/rpattn/dealreport/internal/domain"
	"github.com/sirupsen/logrus"
)

const reportColumns = "id, name, description, aggregation_level, is_active, created_by, created_at, updated_at"

// ReportStore is the connection a report repository needs: queries plus transactions.
type ReportStore interface {
	db.DBTX
	db.TxBeginner
}

// reportRepository implements ReportRepository interface
type reportRepository struct {
	db     ReportStore
	logger logrus.FieldLogger
}

// NewReportRepository creates a new report template repository
func NewReportRepository(conn ReportStore, logger logrus.FieldLogger) ReportRepository {
	return &reportRepository{db: conn, logger: logger}
}

// Create stores the template and its deal, tranche and calculation selections atomically.
func (r *reportRepository) Create(ctx context.Context, report domain.ReportTemplate) (domain.ReportTemplate, error) {
	var created domain.ReportTemplate
	err := db.WithTx(ctx, r.db, r.logger, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO reports (name, description, aggregation_level, is_active, created_by)
			VALUES ($1, $2, $3, TRUE, $4)
			RETURNING `+reportColumns,
			report.Name, nullText(report.Description), string(report.Grain), nullText(report.CreatedBy),
		)
		header, err := scanReport(row)
		if err != nil {
			return err
		}
		if err := insertSelections(ctx, tx, header.ID, report); err != nil {
			return err
		}
		created = withSelections(header, report)
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: fmt.Sprintf("a report named %q already exists", report.Name)}
		}
		return domain.ReportTemplate{}, fmt.Errorf("failed to create report: %w", err)
	}
	return created, nil
}

// GetByID returns an active template with its selections.
func (r *reportRepository) GetByID(ctx context.Context, id int64) (domain.ReportTemplate, error) {
	row := r.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1 AND is_active`, id)
	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ReportTemplate{}, &domain.DefinitionNotFoundError{Kind: "report", Key: strconv.FormatInt(id, 10)}
		}
		return domain.ReportTemplate{}, fmt.Errorf("failed to get report: %w", err)
	}

	reports := map[int64]*domain.ReportTemplate{report.ID: &report}
	if err := r.loadSelections(ctx, reports); err != nil {
		return domain.ReportTemplate{}, err
	}
	return report, nil
}

// List returns every active template ordered by name.
func (r *reportRepository) List(ctx context.Context) ([]domain.ReportTemplate, error) {
	rows, err := r.db.Query(ctx, `SELECT `+reportColumns+` FROM reports WHERE is_active ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.ReportTemplate
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	rows.Close()

	byID := make(map[int64]*domain.ReportTemplate, len(reports))
	for i := range reports {
		byID[reports[i].ID] = &reports[i]
	}
	if err := r.loadSelections(ctx, byID); err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []domain.ReportTemplate{}
	}
	return reports, nil
}

// Update replaces the template header and all of its selections.
func (r *reportRepository) Update(ctx context.Context, report domain.ReportTemplate) (domain.ReportTemplate, error) {
	var updated domain.ReportTemplate
	err := db.WithTx(ctx, r.db, r.logger, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE reports SET name = $2, description = $3, aggregation_level = $4, updated_at = NOW()
			WHERE id = $1 AND is_active
			RETURNING `+reportColumns,
			report.ID, report.Name, nullText(report.Description), string(report.Grain),
		)
		header, err := scanReport(row)
		if err != nil {
			return err
		}
		for _, table := range []string{"report_deals", "report_tranches", "report_calculations"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE report_id = $1", header.ID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := insertSelections(ctx, tx, header.ID, report); err != nil {
			return err
		}
		updated = withSelections(header, report)
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ReportTemplate{}, &domain.DefinitionNotFoundError{Kind: "report", Key: strconv.FormatInt(report.ID, 10)}
		}
		if isUniqueViolation(err) {
			return domain.ReportTemplate{}, &domain.InvalidFilterError{Reason: fmt.Sprintf("a report named %q already exists", report.Name)}
		}
		return domain.ReportTemplate{}, fmt.Errorf("failed to update report: %w", err)
	}
	return updated, nil
}

// SoftDelete deactivates a template; its execution history is kept.
func (r *reportRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE reports SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.DefinitionNotFoundError{Kind: "report", Key: strconv.FormatInt(id, 10)}
	}
	return nil
}

func insertSelections(ctx context.Context, tx pgx.Tx, reportID int64, report domain.ReportTemplate) error {
	if len(report.Deals) > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO report_deals (report_id, deal_number) SELECT $1, d FROM unnest($2::int[]) AS d`,
			reportID, report.Deals,
		); err != nil {
			return fmt.Errorf("insert report deals: %w", err)
		}
	}

	if len(report.Tranches) > 0 {
		deals := make([]int64, len(report.Tranches))
		tranches := make([]string, len(report.Tranches))
		for i, t := range report.Tranches {
			deals[i] = t.DealNumber
			tranches[i] = t.TrancheID
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO report_tranches (report_id, deal_number, tranche_id)
			SELECT $1, d, t FROM unnest($2::int[], $3::text[]) AS s(d, t)`,
			reportID, deals, tranches,
		); err != nil {
			return fmt.Errorf("insert report tranches: %w", err)
		}
	}

	if len(report.Calculations) > 0 {
		ids := make([]int64, len(report.Calculations))
		orders := make([]int32, len(report.Calculations))
		names := make([]string, len(report.Calculations))
		for i, c := range report.Calculations {
			ids[i] = c.CalculationID
			orders[i] = int32(c.DisplayOrder)
			names[i] = c.DisplayName
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO report_calculations (report_id, calculation_id, display_order, display_name)
			SELECT $1, c, o, NULLIF(n, '') FROM unnest($2::bigint[], $3::int[], $4::text[]) AS s(c, o, n)`,
			reportID, ids, orders, names,
		); err != nil {
			return fmt.Errorf("insert report calculations: %w", err)
		}
	}
	return nil
}

func (r *reportRepository) loadSelections(ctx context.Context, reports map[int64]*domain.ReportTemplate) error {
	if len(reports) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(reports))
	for id, report := range reports {
		ids = append(ids, id)
		report.Deals = []int64{}
		report.Tranches = []domain.ReportTranche{}
		report.Calculations = []domain.ReportCalculationRef{}
	}

	rows, err := r.db.Query(ctx, `SELECT report_id, deal_number FROM report_deals WHERE report_id = ANY($1) ORDER BY deal_number`, ids)
	if err != nil {
		return fmt.Errorf("failed to load report deals: %w", err)
	}
	for rows.Next() {
		var reportID, deal int64
		if err := rows.Scan(&reportID, &deal); err != nil {
			rows.Close()
			return fmt.Errorf("scan report deal: %w", err)
		}
		reports[reportID].Deals = append(reports[reportID].Deals, deal)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate report deals: %w", err)
	}

	rows, err = r.db.Query(ctx, `SELECT report_id, deal_number, tranche_id FROM report_tranches WHERE report_id = ANY($1) ORDER BY deal_number, tranche_id`, ids)
	if err != nil {
		return fmt.Errorf("failed to load report tranches: %w", err)
	}
	for rows.Next() {
		var (
			reportID int64
			tranche  domain.ReportTranche
		)
		if err := rows.Scan(&reportID, &tranche.DealNumber, &tranche.TrancheID); err != nil {
			rows.Close()
			return fmt.Errorf("scan report tranche: %w", err)
		}
		reports[reportID].Tranches = append(reports[reportID].Tranches, tranche)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate report tranches: %w", err)
	}

	rows, err = r.db.Query(ctx,
		`SELECT report_id, calculation_id, display_order, display_name FROM report_calculations
		WHERE report_id = ANY($1) ORDER BY display_order, calculation_id`, ids)
	if err != nil {
		return fmt.Errorf("failed to load report calculations: %w", err)
	}
	for rows.Next() {
		var (
			reportID int64
			ref      domain.ReportCalculationRef
			order    int32
			name     pgtype.Text
		)
		if err := rows.Scan(&reportID, &ref.CalculationID, &order, &name); err != nil {
			rows.Close()
			return fmt.Errorf("scan report calculation: %w", err)
		}
		ref.DisplayOrder = int(order)
		ref.DisplayName = name.String
		reports[reportID].Calculations = append(reports[reportID].Calculations, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate report calculations: %w", err)
	}
	return nil
}

// withSelections copies the requested selections onto a freshly written header in the
// order they are read back.
func withSelections(header, report domain.ReportTemplate) domain.ReportTemplate {
	header.Deals = append([]int64{}, report.Deals...)
	sort.Slice(header.Deals, func(i, j int) bool { return header.Deals[i] < header.Deals[j] })

	header.Tranches = append([]domain.ReportTranche{}, report.Tranches...)
	sort.Slice(header.Tranches, func(i, j int) bool {
		a, b := header.Tranches[i], header.Tranches[j]
		if a.DealNumber != b.DealNumber {
			return a.DealNumber < b.DealNumber
		}
		return a.TrancheID < b.TrancheID
	})

	header.Calculations = append([]domain.ReportCalculationRef{}, report.Calculations...)
	sort.SliceStable(header.Calculations, func(i, j int) bool {
		return header.Calculations[i].DisplayOrder < header.Calculations[j].DisplayOrder
	})
	return header
}

func scanReport(row pgx.Row) (domain.ReportTemplate, error) {
	var (
		report      domain.ReportTemplate
		description pgtype.Text
		grain       string
		createdBy   pgtype.Text
	)
	if err := row.Scan(
		&report.ID,
		&report.Name,
		&description,
		&grain,
		&report.IsActive,
		&createdBy,
		&report.CreatedAt,
		&report.UpdatedAt,
	); err != nil {
		return domain.ReportTemplate{}, err
	}
	report.Description = description.String
	report.Grain = domain.Grain(grain)
	report.CreatedBy = createdBy.String
	return report, nil
}
