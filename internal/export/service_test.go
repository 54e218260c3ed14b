package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/dealreport/internal/domain"
	"github.com/rpattn/dealreport/internal/reports"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func strPtr(s string) *string { return &s }

func sampleTable() Table {
	return Table{
		ReportName: "Monthly Tranche Summary",
		Grain:      domain.GrainTranche,
		CycleCode:  202401,
		Columns:    []string{"deal_number", "tranche_id", "cycle_code", "Ending Balance", "Weighted Avg Rate"},
		Rows: []domain.ReportRow{
			{
				DealNumber: 101,
				TrancheID:  strPtr("A"),
				CycleCode:  202401,
				Values: map[string]decimal.NullDecimal{
					"Ending Balance":    {Decimal: decimal.RequireFromString("100.1234"), Valid: true},
					"Weighted Avg Rate": {Decimal: decimal.RequireFromString("0.02"), Valid: true},
				},
			},
			{
				DealNumber: 102,
				TrancheID:  strPtr("A"),
				CycleCode:  202401,
				Values: map[string]decimal.NullDecimal{
					"Ending Balance":    {Decimal: decimal.Zero, Valid: true},
					"Weighted Avg Rate": {},
				},
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatXLSX {
		t.Fatalf("expected xlsx default, got %s %v", f, err)
	}
	if f, err := ParseFormat(" CSV "); err != nil || f != FormatCSV {
		t.Fatalf("expected csv, got %s %v", f, err)
	}
	if _, err := ParseFormat("pdf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestWriteCSVKeepsExactDecimalsAndBlanks(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewService().Write(&buf, sampleTable(), FormatCSV)
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("expected byte count %d, got %d", buf.Len(), n)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != "deal_number,tranche_id,cycle_code,Ending Balance,Weighted Avg Rate" {
		t.Fatalf("unexpected header %v", records[0])
	}
	if strings.Join(records[1], ",") != "101,A,202401,100.1234,0.02" {
		t.Fatalf("unexpected first row %v", records[1])
	}
	if records[2][4] != "" || records[2][3] != "0" {
		t.Fatalf("expected null rate as blank and zero balance as 0, got %v", records[2])
	}
}

func TestWriteXLSXReadsBack(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC) }
	var buf bytes.Buffer
	if _, err := NewService(WithClock(clock)).Write(&buf, sampleTable(), FormatXLSX); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(dataSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][3] != "Ending Balance" || rows[1][0] != "101" || rows[1][1] != "A" {
		t.Fatalf("unexpected content %v", rows)
	}
	balance, err := f.GetCellValue(dataSheet, "D2")
	if err != nil || balance != "100.1234" {
		t.Fatalf("unexpected balance cell %q %v", balance, err)
	}
	if rate, _ := f.GetCellValue(dataSheet, "E3"); rate != "" {
		t.Fatalf("expected empty cell for null value, got %q", rate)
	}

	generated, err := f.GetCellValue(parametersSheet, "B5")
	if err != nil || generated != "2024-02-01T09:00:00Z" {
		t.Fatalf("unexpected generated timestamp %q %v", generated, err)
	}
}

func TestFileName(t *testing.T) {
	got := NewService().FileName(sampleTable(), FormatCSV)
	if got != "monthly-tranche-summary-202401.csv" {
		t.Fatalf("unexpected file name %q", got)
	}
	if sanitizeFileComponent("  ***  ") != "report" {
		t.Fatalf("expected fallback name")
	}
}

type fakeRunner struct {
	execution *reports.Execution
	err       error
	cycle     int
}

func (f *fakeRunner) ExecuteReport(ctx context.Context, reportID int64, cycleCode int) (*reports.Execution, error) {
	f.cycle = cycleCode
	return f.execution, f.err
}

func TestHandlerStreamsCSV(t *testing.T) {
	table := sampleTable()
	runner := &fakeRunner{execution: &reports.Execution{
		ReportName: table.ReportName,
		Grain:      table.Grain,
		CycleCode:  table.CycleCode,
		Columns:    table.Columns,
		Rows:       table.Rows,
		RowCount:   len(table.Rows),
	}}
	mux := http.NewServeMux()
	mux.Handle("POST /api/reports/{id}/export", NewHTTPHandler(runner, NewService()))

	req := httptest.NewRequest(http.MethodPost, "/api/reports/7/export?format=csv", strings.NewReader(`{"cycle_code": 202401}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if runner.cycle != 202401 {
		t.Fatalf("expected cycle to be forwarded, got %d", runner.cycle)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %s", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "monthly-tranche-summary-202401.csv") {
		t.Fatalf("unexpected disposition %s", rec.Header().Get("Content-Disposition"))
	}
	if !strings.HasPrefix(rec.Body.String(), "deal_number,tranche_id") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestHandlerMapsErrors(t *testing.T) {
	runner := &fakeRunner{err: &domain.DefinitionNotFoundError{Kind: "report", Key: "7"}}
	mux := http.NewServeMux()
	mux.Handle("POST /api/reports/{id}/export", NewHTTPHandler(runner, NewService()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reports/7/export", strings.NewReader(`{"cycle_code": 202401}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reports/7/export?format=pdf", strings.NewReader(`{"cycle_code": 202401}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported format, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reports/7/export", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing cycle, got %d", rec.Code)
	}
}
