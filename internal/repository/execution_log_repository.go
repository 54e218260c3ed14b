package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rpattn/dealreport/internal/db"
	"github.com/rpattn/dealreport/internal/domain"
)

// MaxErrorMessageLength bounds stored failure messages.
const MaxErrorMessageLength = 1000

type executionLogRepository struct {
	db db.DBTX
}

// NewExecutionLogRepository creates a new execution log repository
func NewExecutionLogRepository(conn db.DBTX) ExecutionLogRepository {
	return &executionLogRepository{db: conn}
}

func (r *executionLogRepository) Create(ctx context.Context, log domain.ExecutionLog) (domain.ExecutionLog, error) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.ErrorMessage = TruncateMessage(log.ErrorMessage, MaxErrorMessageLength)

	err := r.db.QueryRow(ctx,
		`INSERT INTO report_execution_logs (id, report_id, cycle_code, executed_by, execution_time_ms, row_count, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING executed_at`,
		log.ID, log.ReportID, log.CycleCode, nullText(log.ExecutedBy), log.ExecutionTimeMs, log.RowCount, log.Success, nullText(log.ErrorMessage),
	).Scan(&log.ExecutedAt)
	if err != nil {
		return domain.ExecutionLog{}, fmt.Errorf("failed to create execution log: %w", err)
	}
	return log, nil
}

// ListByReport returns the most recent executions first.
func (r *executionLogRepository) ListByReport(ctx context.Context, reportID int64, limit int) ([]domain.ExecutionLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, report_id, cycle_code, executed_by, execution_time_ms, row_count, success, error_message, executed_at
		FROM report_execution_logs
		WHERE report_id = $1
		ORDER BY executed_at DESC
		LIMIT $2`,
		reportID, normalizeLimit(limit, 50, 500),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	logs := make([]domain.ExecutionLog, 0)
	for rows.Next() {
		entry, err := scanExecutionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution logs: %w", err)
	}
	return logs, nil
}

func scanExecutionLog(row pgx.Row) (domain.ExecutionLog, error) {
	var (
		entry      domain.ExecutionLog
		executedBy pgtype.Text
		elapsed    pgtype.Float8
		rowCount   pgtype.Int4
		message    pgtype.Text
	)
	if err := row.Scan(
		&entry.ID,
		&entry.ReportID,
		&entry.CycleCode,
		&executedBy,
		&elapsed,
		&rowCount,
		&entry.Success,
		&message,
		&entry.ExecutedAt,
	); err != nil {
		return domain.ExecutionLog{}, err
	}
	entry.ExecutedBy = executedBy.String
	entry.ExecutionTimeMs = elapsed.Float64
	entry.RowCount = int(rowCount.Int32)
	entry.ErrorMessage = message.String
	return entry, nil
}

// TruncateMessage shortens s to at most max runes.
func TruncateMessage(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
