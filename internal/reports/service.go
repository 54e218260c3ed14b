package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpattn/dealreport/internal/auth"
	"github.com/rpattn/dealreport/internal/calcloader"
	"github.com/rpattn/dealreport/internal/domain"
	"github.com/rpattn/dealreport/internal/engine"
	"github.com/rpattn/dealreport/internal/logging"
	"github.com/rpattn/dealreport/internal/middleware"
	"github.com/rpattn/dealreport/internal/query"
	"github.com/rpattn/dealreport/internal/repository"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const moduleName = "reports"

// ReportEngine is the part of *engine.Engine the service depends on.
type ReportEngine interface {
	Execute(ctx context.Context, calcs []domain.Calculation, filter domain.FilterCriteria, grain domain.Grain) (*engine.Result, error)
	ExecuteStatement(ctx context.Context, stmt query.Statement) (*engine.Result, error)
	Preview(calcs []domain.Calculation, filter domain.FilterCriteria, grain domain.Grain) (*engine.Preview, error)
	PreviewStatement(stmt query.Statement, filter domain.FilterCriteria) (*engine.Preview, error)
}

type Service struct {
	calculations repository.CalculationRepository
	reports      repository.ReportRepository
	executions   repository.ExecutionLogRepository
	warehouse    repository.WarehouseRepository
	engine       ReportEngine

	cache  PreviewCache
	locker Locker
	logger logrus.FieldLogger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Service)

func WithPreviewCache(cache PreviewCache) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

func WithLocker(locker Locker) Option {
	return func(s *Service) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func NewService(
	calculations repository.CalculationRepository,
	reports repository.ReportRepository,
	executions repository.ExecutionLogRepository,
	warehouse repository.WarehouseRepository,
	eng ReportEngine,
	opts ...Option,
) *Service {
	service := &Service{
		calculations: calculations,
		reports:      reports,
		executions:   executions,
		warehouse:    warehouse,
		engine:       eng,
		cache:        noopPreviewCache{},
		locker:       NewLocalLocker(),
		logger:       logging.GetLogger().WithField("module", moduleName),
		tracer:       otel.Tracer("dealreport/reports"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Execution is the response for a report run: ordered columns plus the materialized rows.
type Execution struct {
	ReportID        int64              `json:"report_id,omitempty"`
	ReportName      string             `json:"report_name"`
	Grain           domain.Grain       `json:"aggregation_level"`
	CycleCode       int                `json:"cycle_code"`
	Columns         []string           `json:"columns"`
	Rows            []domain.ReportRow `json:"data"`
	RowCount        int                `json:"total_rows"`
	ExecutionTimeMs float64            `json:"execution_time_ms"`
	ExecutionID     *uuid.UUID         `json:"execution_id,omitempty"`
}

// AdHocRequest runs calculations by name without a stored template.
type AdHocRequest struct {
	CalculationNames []string           `json:"calculation_names" validate:"required,min=1,dive,required"`
	DealNumbers      []int64            `json:"deal_numbers" validate:"required,min=1"`
	TrancheIDs       []string           `json:"tranche_ids" validate:"required,min=1"`
	CycleCode        int                `json:"cycle_code" validate:"required,gt=0"`
	Grain            domain.Grain       `json:"aggregation_level" validate:"required"`
	Predicates       []domain.Predicate `json:"predicates,omitempty"`
}

func newExecution(name string, grain domain.Grain, cycleCode int, result *engine.Result) *Execution {
	columns := make([]string, 0, len(result.Statement.Columns))
	for _, col := range result.Statement.Columns {
		columns = append(columns, col.Name)
	}
	return &Execution{
		ReportName:      name,
		Grain:           grain,
		CycleCode:       cycleCode,
		Columns:         columns,
		Rows:            result.Rows,
		RowCount:        result.RowCount,
		ExecutionTimeMs: result.ExecutionTimeMs(),
	}
}

// ExecuteReport runs a stored template for one cycle. Every attempt that reaches the
// engine is recorded in the execution log, failed or not.
func (s *Service) ExecuteReport(ctx context.Context, reportID int64, cycleCode int) (*Execution, error) {
	const funcName = "ExecuteReport"
	ctx, span := s.tracer.Start(ctx, "reports.ExecuteReport")
	defer span.End()
	span.SetAttributes(attribute.Int64("report.id", reportID), attribute.Int("report.cycle", cycleCode))

	template, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	release, err := s.locker.Acquire(ctx, executionLockKey(reportID, cycleCode))
	if err != nil {
		return nil, s.fail(span, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logging.LogError(s.logger, moduleName, funcName, "release execution lock", reportID, err)
		}
	}()

	started := s.now()
	execution, err := s.runTemplate(ctx, template, cycleCode)
	entry := domain.ExecutionLog{
		ReportID:   reportID,
		CycleCode:  cycleCode,
		ExecutedBy: auth.CallerOrDefault(ctx, ""),
	}
	if err != nil {
		entry.ExecutionTimeMs = float64(s.now().Sub(started).Microseconds()) / 1000
		entry.ErrorMessage = err.Error()
		s.recordExecution(ctx, entry)
		logging.LogError(s.logger, moduleName, funcName, "report execution failed", logrus.Fields{"report_id": reportID, "cycle_code": cycleCode}, err)
		return nil, s.fail(span, err)
	}

	entry.Success = true
	entry.RowCount = execution.RowCount
	entry.ExecutionTimeMs = execution.ExecutionTimeMs
	if logged, ok := s.recordExecution(ctx, entry); ok {
		execution.ExecutionID = &logged.ID
	}
	execution.ReportID = reportID
	span.SetAttributes(attribute.Int("report.rows", execution.RowCount))

	s.logger.WithFields(logrus.Fields{
		"report_id":   reportID,
		"cycle_code":  cycleCode,
		"row_count":   execution.RowCount,
		"duration_ms": execution.ExecutionTimeMs,
	}).Info("report executed")
	return execution, nil
}

func (s *Service) runTemplate(ctx context.Context, template domain.ReportTemplate, cycleCode int) (*Execution, error) {
	calcs, _, err := s.templateCalculations(ctx, template)
	if err != nil {
		return nil, err
	}
	filter, err := domain.NewFilterCriteria(template.Deals, template.TrancheIDs(), cycleCode)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.Execute(ctx, calcs, filter, template.Grain)
	if err != nil {
		return nil, err
	}
	return newExecution(template.Name, template.Grain, cycleCode, result), nil
}

// recordExecution never fails the caller; a lost log entry is only reported.
func (s *Service) recordExecution(ctx context.Context, entry domain.ExecutionLog) (domain.ExecutionLog, bool) {
	logged, err := s.executions.Create(context.WithoutCancel(ctx), entry)
	if err != nil {
		logging.LogError(s.logger, moduleName, "recordExecution", "write execution log", entry.ReportID, err)
		return domain.ExecutionLog{}, false
	}
	return logged, true
}

// PreviewReport renders the SQL a template would run for cycleCode without touching
// the warehouse.
func (s *Service) PreviewReport(ctx context.Context, reportID int64, cycleCode int) (*engine.Preview, error) {
	ctx, span := s.tracer.Start(ctx, "reports.PreviewReport")
	defer span.End()
	span.SetAttributes(attribute.Int64("report.id", reportID), attribute.Int("report.cycle", cycleCode))

	template, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	calcs, specs, err := s.templateCalculations(ctx, template)
	if err != nil {
		return nil, s.fail(span, err)
	}
	filter, err := domain.NewFilterCriteria(template.Deals, template.TrancheIDs(), cycleCode)
	if err != nil {
		return nil, s.fail(span, err)
	}

	key := previewCacheKey(template, specs, cycleCode)
	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		logging.LogError(s.logger, moduleName, "PreviewReport", "read preview cache", key, err)
	} else if ok {
		span.SetAttributes(attribute.Bool("preview.cached", true))
		return cached, nil
	}

	preview, err := s.engine.Preview(calcs, filter, template.Grain)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.cache.Set(ctx, key, preview); err != nil {
		logging.LogError(s.logger, moduleName, "PreviewReport", "write preview cache", key, err)
	}
	return preview, nil
}

// RunAdHoc executes calculations looked up by name. Nothing is logged because there is
// no template to attach the execution to.
func (s *Service) RunAdHoc(ctx context.Context, req AdHocRequest) (*Execution, error) {
	ctx, span := s.tracer.Start(ctx, "reports.RunAdHoc")
	defer span.End()

	calcs, filter, grain, err := s.adHocInputs(ctx, req)
	if err != nil {
		return nil, s.fail(span, err)
	}
	result, err := s.engine.Execute(ctx, calcs, filter, grain)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return newExecution("Ad hoc report", grain, filter.CycleCode(), result), nil
}

func (s *Service) PreviewAdHoc(ctx context.Context, req AdHocRequest) (*engine.Preview, error) {
	calcs, filter, grain, err := s.adHocInputs(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.engine.Preview(calcs, filter, grain)
}

func (s *Service) adHocInputs(ctx context.Context, req AdHocRequest) ([]domain.Calculation, domain.FilterCriteria, domain.Grain, error) {
	grain, err := domain.ParseGrain(string(req.Grain))
	if err != nil {
		return nil, domain.FilterCriteria{}, "", &domain.InvalidFilterError{Reason: err.Error()}
	}
	filter, err := domain.NewFilterCriteria(req.DealNumbers, req.TrancheIDs, req.CycleCode, req.Predicates...)
	if err != nil {
		return nil, domain.FilterCriteria{}, "", err
	}
	calcs, err := s.calculationsByName(ctx, req.CalculationNames)
	if err != nil {
		return nil, domain.FilterCriteria{}, "", err
	}
	return calcs, filter, grain, nil
}

// calculationsByName keeps the requested order. Unknown or inactive names are not found.
func (s *Service) calculationsByName(ctx context.Context, names []string) ([]domain.Calculation, error) {
	trimmed := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			trimmed = append(trimmed, n)
		}
	}
	specs, err := s.calculations.GetByNames(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.CalculationSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}

	calcs := make([]domain.Calculation, 0, len(trimmed))
	seen := make(map[string]struct{}, len(trimmed))
	for _, name := range trimmed {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		spec, ok := byName[name]
		if !ok {
			return nil, &domain.DefinitionNotFoundError{Kind: "calculation", Key: name}
		}
		calc, err := domain.NewCalculation(spec)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, calc)
	}
	return calcs, nil
}

// templateCalculations resolves a template's calculations in display order with their
// display-name overrides applied.
func (s *Service) templateCalculations(ctx context.Context, template domain.ReportTemplate) ([]domain.Calculation, []domain.CalculationSpec, error) {
	refs := append([]domain.ReportCalculationRef(nil), template.Calculations...)
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].DisplayOrder < refs[j].DisplayOrder })

	ids := make([]int64, len(refs))
	for i, ref := range refs {
		ids[i] = ref.CalculationID
	}
	specs, err := s.loader(ctx).LoadMany(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve calculations for report %d: %w", template.ID, err)
	}

	calcs := make([]domain.Calculation, len(specs))
	for i, spec := range specs {
		calc, err := domain.NewCalculation(spec)
		if err != nil {
			return nil, nil, err
		}
		calcs[i] = calc.WithDisplayName(refs[i].DisplayName)
	}
	return calcs, specs, nil
}

func (s *Service) loader(ctx context.Context) *calcloader.CalcLoader {
	if l := middleware.CalcLoaderFromContext(ctx); l != nil {
		return l
	}
	return calcloader.NewCalcLoader(s.calculations)
}

func (s *Service) ListExecutions(ctx context.Context, reportID int64, limit int) ([]domain.ExecutionLog, error) {
	if _, err := s.reports.GetByID(ctx, reportID); err != nil {
		return nil, err
	}
	return s.executions.ListByReport(ctx, reportID, limit)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	if !errors.Is(err, domain.ErrExecutionInProgress) {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
