package export

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rpattn/dealreport/internal/logging"
	"github.com/rpattn/dealreport/internal/reports"
	"github.com/sirupsen/logrus"
)

// ReportRunner executes a stored report for one cycle.
type ReportRunner interface {
	ExecuteReport(ctx context.Context, reportID int64, cycleCode int) (*reports.Execution, error)
}

type Handler struct {
	runner  ReportRunner
	service *Service
	logger  logrus.FieldLogger
}

// NewHTTPHandler serves POST /api/reports/{id}/export?format=xlsx|csv.
func NewHTTPHandler(runner ReportRunner, service *Service) http.Handler {
	return &Handler{runner: runner, service: service, logger: logging.GetLogger().WithField("module", "export")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, ok := reports.PathID(w, r)
	if !ok {
		return
	}
	payload, ok := reports.DecodeCycleRequest(w, r)
	if !ok {
		return
	}

	execution, err := h.runner.ExecuteReport(r.Context(), id, payload.CycleCode)
	if err != nil {
		reports.WriteError(w, err)
		return
	}
	table := Table{
		ReportName: execution.ReportName,
		Grain:      execution.Grain,
		CycleCode:  execution.CycleCode,
		Columns:    execution.Columns,
		Rows:       execution.Rows,
	}

	filename := h.service.FileName(table, format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("X-Row-Count", strconv.Itoa(execution.RowCount))
	written, err := h.service.Write(w, table, format)
	if err != nil {
		// Headers are already sent; the client sees a truncated file.
		logging.LogError(h.logger, "export", "ServeHTTP", "write export", filename, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"report_id":  id,
		"cycle_code": payload.CycleCode,
		"format":     string(format),
		"bytes":      written,
	}).Info("report exported")
}
