package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rpattn/dealreport/internal/domain"
	"github.com/rpattn/dealreport/internal/repository"
)

type Handler struct {
	service  *Service
	validate *validator.Validate
	mux      *http.ServeMux
}

func NewHTTPHandler(service *Service) *Handler {
	h := &Handler{service: service, validate: domain.Validator(), mux: http.NewServeMux()}
	h.Register(h.mux)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Register mounts every reporting route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/reports", h.handleListReports)
	mux.HandleFunc("POST /api/reports", h.handleCreateReport)
	mux.HandleFunc("POST /api/reports/run", h.handleRunAdHoc)
	mux.HandleFunc("POST /api/reports/run/preview", h.handlePreviewAdHoc)
	mux.HandleFunc("GET /api/reports/{id}", h.handleGetReport)
	mux.HandleFunc("PUT /api/reports/{id}", h.handleUpdateReport)
	mux.HandleFunc("DELETE /api/reports/{id}", h.handleDeleteReport)
	mux.HandleFunc("POST /api/reports/{id}/execute", h.handleExecuteReport)
	mux.HandleFunc("POST /api/reports/{id}/preview", h.handlePreviewReport)
	mux.HandleFunc("GET /api/reports/{id}/executions", h.handleListExecutions)

	mux.HandleFunc("GET /api/calculations", h.handleListCalculations)
	mux.HandleFunc("POST /api/calculations", h.handleCreateCalculation)
	mux.HandleFunc("GET /api/calculations/{id}", h.handleGetCalculation)
	mux.HandleFunc("PUT /api/calculations/{id}", h.handleUpdateCalculation)
	mux.HandleFunc("DELETE /api/calculations/{id}", h.handleDeleteCalculation)
	mux.HandleFunc("POST /api/calculations/{id}/preview", h.handlePreviewCalculation)
	mux.HandleFunc("POST /api/calculations/{id}/run", h.handleRunCalculation)

	mux.HandleFunc("GET /api/warehouse/deals", h.handleListDeals)
	mux.HandleFunc("GET /api/warehouse/tranches", h.handleListTranches)
	mux.HandleFunc("GET /api/warehouse/cycles", h.handleListCycles)
}

// CycleRequest is the body of execute, preview and export calls.
type CycleRequest struct {
	CycleCode int `json:"cycle_code" validate:"required,gt=0"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleExecuteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	var payload CycleRequest
	if !h.decode(w, r, &payload, false) {
		return
	}
	execution, err := h.service.ExecuteReport(r.Context(), id, payload.CycleCode)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, execution)
}

func (h *Handler) handlePreviewReport(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	var payload CycleRequest
	if !h.decode(w, r, &payload, false) {
		return
	}
	preview, err := h.service.PreviewReport(r.Context(), id, payload.CycleCode)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	logs, err := h.service.ListExecutions(r.Context(), id, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleRunAdHoc(w http.ResponseWriter, r *http.Request) {
	var payload AdHocRequest
	if !h.decode(w, r, &payload, false) {
		return
	}
	execution, err := h.service.RunAdHoc(r.Context(), payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, execution)
}

func (h *Handler) handlePreviewAdHoc(w http.ResponseWriter, r *http.Request) {
	var payload AdHocRequest
	if !h.decode(w, r, &payload, false) {
		return
	}
	preview, err := h.service.PreviewAdHoc(r.Context(), payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.ListReports(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, reports)
}

func (h *Handler) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var payload ReportInput
	if !h.decode(w, r, &payload, false) {
		return
	}
	report, err := h.service.CreateReport(r.Context(), payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, report)
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	report, err := h.service.GetReport(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleUpdateReport(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	var payload ReportInput
	if !h.decode(w, r, &payload, false) {
		return
	}
	report, err := h.service.UpdateReport(r.Context(), id, payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteReport(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListCalculations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repository.CalculationFilter{}
	if raw := strings.TrimSpace(query.Get("group_level")); raw != "" {
		grain, err := domain.ParseGrain(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.GroupLevel = grain
	}
	if raw := strings.TrimSpace(query.Get("include_inactive")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "include_inactive must be a boolean", http.StatusBadRequest)
			return
		}
		filter.IncludeInactive = include
	}
	calcs, err := h.service.ListCalculations(r.Context(), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, calcs)
}

// Calculation payloads are validated by domain.NewCalculation, which reports
// failures as InvalidCalculationError rather than raw validator output.
func (h *Handler) handleCreateCalculation(w http.ResponseWriter, r *http.Request) {
	var payload domain.CalculationSpec
	if !h.decodeJSON(w, r, &payload, false) {
		return
	}
	created, err := h.service.CreateCalculation(r.Context(), payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetCalculation(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	spec, err := h.service.GetCalculation(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, spec)
}

func (h *Handler) handleUpdateCalculation(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	var payload domain.CalculationSpec
	if !h.decodeJSON(w, r, &payload, false) {
		return
	}
	updated, err := h.service.UpdateCalculation(r.Context(), id, payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteCalculation(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteCalculation(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePreviewCalculation(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	var payload CalculationPreviewRequest
	if !h.decodeJSON(w, r, &payload, true) {
		return
	}
	preview, err := h.service.PreviewCalculation(r.Context(), id, payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleRunCalculation(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r)
	if !ok {
		return
	}
	var payload CalculationPreviewRequest
	if !h.decodeJSON(w, r, &payload, true) {
		return
	}
	execution, err := h.service.RunCalculation(r.Context(), id, payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, execution)
}

func (h *Handler) handleListDeals(w http.ResponseWriter, r *http.Request) {
	cycle, ok := queryInt(w, r, "cycle")
	if !ok {
		return
	}
	deals, err := h.service.ListDeals(r.Context(), cycle)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, deals)
}

func (h *Handler) handleListTranches(w http.ResponseWriter, r *http.Request) {
	cycle, ok := queryInt(w, r, "cycle")
	if !ok {
		return
	}
	var deals []int64
	for _, raw := range r.URL.Query()["deal"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid deal number %q", part), http.StatusBadRequest)
				return
			}
			deals = append(deals, n)
		}
	}
	if len(deals) == 0 {
		http.Error(w, "at least one deal is required", http.StatusBadRequest)
		return
	}
	tranches, err := h.service.ListTranches(r.Context(), deals, cycle)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tranches)
}

func (h *Handler) handleListCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.service.ListCycles(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cycles)
}

// decode reads a JSON body and runs struct validation on it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any, allowEmpty bool) bool {
	return decodeValidated(w, r, h.validate, dest, allowEmpty)
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dest any, allowEmpty bool) bool {
	return decodeJSON(w, r, dest, allowEmpty)
}

func decodeValidated(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dest any, allowEmpty bool) bool {
	if !decodeJSON(w, r, dest, allowEmpty) {
		return false
	}
	if err := validate.Struct(dest); err != nil {
		WriteError(w, err)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any, allowEmpty bool) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// DecodeCycleRequest reads and validates the body shared by execute, preview and export.
func DecodeCycleRequest(w http.ResponseWriter, r *http.Request) (CycleRequest, bool) {
	var payload CycleRequest
	ok := decodeValidated(w, r, domain.Validator(), &payload, false)
	return payload, ok
}

// PathID parses the {id} path segment, answering 400 when it is not a positive integer.
func PathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, fmt.Sprintf("invalid id %q", r.PathValue("id")), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("%s must be an integer", name), http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	var (
		notFound    *domain.DefinitionNotFoundError
		invalidCalc *domain.InvalidCalculationError
		invalidFilt *domain.InvalidFilterError
		compile     *domain.CompilationError
		execution   *domain.ExecutionError
		validation  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalidCalc), errors.As(err, &invalidFilt), errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrExecutionInProgress):
		return http.StatusConflict
	case errors.As(err, &compile):
		return http.StatusInternalServerError
	case errors.As(err, &execution):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), errorResponse{Error: err.Error()})
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
