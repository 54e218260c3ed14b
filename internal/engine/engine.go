package engine

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rpattn/dealreport/internal/domain"
	"github.com/rpattn/dealreport/internal/logging"
	"github.com/rpattn/dealreport/internal/query"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Querier is the read-only database surface the engine needs. *pgxpool.Pool and
// pgx.Tx both satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Engine compiles calculations into one consolidated statement and runs it. It holds
// no mutable state and is safe for concurrent use.
type Engine struct {
	db      Querier
	logger  logrus.FieldLogger
	tracer  trace.Tracer
	timeout time.Duration
}

type Option func(*Engine)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithStatementTimeout bounds each statement execution. Zero disables the bound.
func WithStatementTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

func New(db Querier, opts ...Option) *Engine {
	e := &Engine{
		db:     db,
		logger: logging.GetLogger().WithField("module", "engine"),
		tracer: otel.Tracer("dealreport/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a successful execution.
type Result struct {
	Rows          []domain.ReportRow `json:"rows"`
	RowCount      int                `json:"row_count"`
	ExecutionTime time.Duration      `json:"-"`
	Statement     query.Statement    `json:"-"`
}

// ExecutionTimeMs is the wall time of the database round trip in milliseconds.
func (r *Result) ExecutionTimeMs() float64 {
	return float64(r.ExecutionTime.Microseconds()) / 1000
}

// Compile is the single compilation entry point shared by Execute and Preview.
func (e *Engine) Compile(calcs []domain.Calculation, filter domain.FilterCriteria, grain domain.Grain) (query.Statement, error) {
	return query.Compile(calcs, filter, grain)
}

// Execute compiles and runs the report in one database round trip. Database failures
// are returned as *domain.ExecutionError and never yield partial rows.
func (e *Engine) Execute(ctx context.Context, calcs []domain.Calculation, filter domain.FilterCriteria, grain domain.Grain) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.grain", string(grain)),
		attribute.Int("report.calculations", len(calcs)),
		attribute.Int("report.deals", len(filter.DealNumbers())),
		attribute.Int("report.cycle", filter.CycleCode()),
	)

	stmt, err := e.Compile(calcs, filter, grain)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compile failed")
		return nil, err
	}

	result, err := e.run(ctx, stmt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("report.rows", result.RowCount))
	return result, nil
}

// ExecuteStatement runs an already compiled statement, e.g. a single-calculation subquery.
func (e *Engine) ExecuteStatement(ctx context.Context, stmt query.Statement) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ExecuteStatement")
	defer span.End()

	result, err := e.run(ctx, stmt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute failed")
		return nil, err
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, stmt query.Statement) (*Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	started := time.Now()
	rows, err := e.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		e.logger.WithError(err).WithField("grain", stmt.Grain).Error("report query failed")
		return nil, &domain.ExecutionError{Err: err}
	}
	reportRows, err := materialize(rows, stmt)
	elapsed := time.Since(started)
	if err != nil {
		e.logger.WithError(err).WithField("grain", stmt.Grain).Error("report rows could not be read")
		return nil, &domain.ExecutionError{Err: err}
	}

	e.logger.WithFields(logrus.Fields{
		"grain":        stmt.Grain,
		"calculations": len(stmt.Calculations),
		"rows":         len(reportRows),
		"elapsed_ms":   elapsed.Milliseconds(),
	}).Info("report query executed")

	return &Result{
		Rows:          reportRows,
		RowCount:      len(reportRows),
		ExecutionTime: elapsed,
		Statement:     stmt,
	}, nil
}
