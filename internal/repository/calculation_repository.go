package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rpattn/dealreport/internal/db"
	"github.com/rpattn/dealreport/internal/domain"
)

const calculationColumns = "id, name, description, aggregation_function, source_entity, source_field, weight_field, group_level, is_active, created_by, created_at, updated_at"

// calculationRepository implements CalculationRepository interface
type calculationRepository struct {
	db db.DBTX
}

// NewCalculationRepository creates a new calculation repository
func NewCalculationRepository(conn db.DBTX) CalculationRepository {
	return &calculationRepository{db: conn}
}

// Create inserts a calculation. Names must be unique among active calculations.
func (r *calculationRepository) Create(ctx context.Context, spec domain.CalculationSpec) (domain.CalculationSpec, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO calculations (name, description, aggregation_function, source_entity, source_field, weight_field, group_level, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
		RETURNING `+calculationColumns,
		spec.Name,
		nullText(spec.Description),
		string(spec.Function),
		string(spec.SourceEntity),
		spec.SourceField,
		nullText(spec.WeightField),
		string(spec.GroupLevel),
		nullText(spec.CreatedBy),
	)
	created, err := scanCalculation(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.CalculationSpec{}, &domain.InvalidCalculationError{Name: spec.Name, Reason: "a calculation with this name already exists"}
		}
		return domain.CalculationSpec{}, fmt.Errorf("failed to create calculation: %w", err)
	}
	return created, nil
}

// GetByID returns an active calculation.
func (r *calculationRepository) GetByID(ctx context.Context, id int64) (domain.CalculationSpec, error) {
	row := r.db.QueryRow(ctx, `SELECT `+calculationColumns+` FROM calculations WHERE id = $1 AND is_active`, id)
	spec, err := scanCalculation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CalculationSpec{}, &domain.DefinitionNotFoundError{Kind: "calculation", Key: strconv.FormatInt(id, 10)}
		}
		return domain.CalculationSpec{}, fmt.Errorf("failed to get calculation: %w", err)
	}
	return spec, nil
}

// GetByIDs returns the active calculations among ids, ordered by id. Missing ids are
// simply absent from the result.
func (r *calculationRepository) GetByIDs(ctx context.Context, ids []int64) ([]domain.CalculationSpec, error) {
	if len(ids) == 0 {
		return []domain.CalculationSpec{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+calculationColumns+` FROM calculations WHERE id = ANY($1) AND is_active ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get calculations: %w", err)
	}
	return collectCalculations(rows)
}

// GetByNames returns the active calculations among names, ordered by name.
func (r *calculationRepository) GetByNames(ctx context.Context, names []string) ([]domain.CalculationSpec, error) {
	if len(names) == 0 {
		return []domain.CalculationSpec{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+calculationColumns+` FROM calculations WHERE name = ANY($1) AND is_active ORDER BY name`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to get calculations by name: %w", err)
	}
	return collectCalculations(rows)
}

// List returns calculations ordered by group level then name.
func (r *calculationRepository) List(ctx context.Context, filter CalculationFilter) ([]domain.CalculationSpec, error) {
	var where []string
	var args []any
	if !filter.IncludeInactive {
		where = append(where, "is_active")
	}
	if filter.GroupLevel != "" {
		args = append(args, string(filter.GroupLevel))
		where = append(where, fmt.Sprintf("group_level = $%d", len(args)))
	}

	sql := `SELECT ` + calculationColumns + ` FROM calculations`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY group_level, name"

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calculations: %w", err)
	}
	return collectCalculations(rows)
}

// Update replaces the definition of an active calculation.
func (r *calculationRepository) Update(ctx context.Context, spec domain.CalculationSpec) (domain.CalculationSpec, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE calculations
		SET name = $2, description = $3, aggregation_function = $4, source_entity = $5, source_field = $6,
			weight_field = $7, group_level = $8, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING `+calculationColumns,
		spec.ID,
		spec.Name,
		nullText(spec.Description),
		string(spec.Function),
		string(spec.SourceEntity),
		spec.SourceField,
		nullText(spec.WeightField),
		string(spec.GroupLevel),
	)
	updated, err := scanCalculation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CalculationSpec{}, &domain.DefinitionNotFoundError{Kind: "calculation", Key: strconv.FormatInt(spec.ID, 10)}
		}
		if isUniqueViolation(err) {
			return domain.CalculationSpec{}, &domain.InvalidCalculationError{Name: spec.Name, Reason: "a calculation with this name already exists"}
		}
		return domain.CalculationSpec{}, fmt.Errorf("failed to update calculation: %w", err)
	}
	return updated, nil
}

// SoftDelete deactivates a calculation. Reports keep their link but stop resolving it.
func (r *calculationRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE calculations SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("failed to delete calculation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.DefinitionNotFoundError{Kind: "calculation", Key: strconv.FormatInt(id, 10)}
	}
	return nil
}

func collectCalculations(rows pgx.Rows) ([]domain.CalculationSpec, error) {
	defer rows.Close()

	specs := make([]domain.CalculationSpec, 0)
	for rows.Next() {
		spec, err := scanCalculation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calculation: %w", err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calculations: %w", err)
	}
	return specs, nil
}

func scanCalculation(row pgx.Row) (domain.CalculationSpec, error) {
	var (
		spec        domain.CalculationSpec
		description pgtype.Text
		function    string
		entity      string
		weight      pgtype.Text
		grain       string
		createdBy   pgtype.Text
	)
	if err := row.Scan(
		&spec.ID,
		&spec.Name,
		&description,
		&function,
		&entity,
		&spec.SourceField,
		&weight,
		&grain,
		&spec.IsActive,
		&createdBy,
		&spec.CreatedAt,
		&spec.UpdatedAt,
	); err != nil {
		return domain.CalculationSpec{}, err
	}
	spec.Description = description.String
	spec.Function = domain.AggregationFunction(function)
	spec.SourceEntity = domain.Entity(entity)
	spec.WeightField = weight.String
	spec.GroupLevel = domain.Grain(grain)
	spec.CreatedBy = createdBy.String
	return spec, nil
}
