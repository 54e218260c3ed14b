package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/dealreport/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Format is a supported download format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat accepts "xlsx" or "csv" in any case. Empty input selects xlsx.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Table is one executed report ready to be written out. Columns lists every result
// column in order: deal_number, tranche_id for tranche reports, cycle_code, then one
// column per calculation.
type Table struct {
	ReportName string
	Grain      domain.Grain
	CycleCode  int
	Columns    []string
	Rows       []domain.ReportRow
}

const (
	dataSheet       = "Report"
	parametersSheet = "Parameters"
)

type Service struct {
	now func() time.Time
}

type Option func(*Service)

// WithClock overrides the timestamp written into the workbook metadata.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(opts ...Option) *Service {
	service := &Service{now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// FileName builds e.g. "monthly-deal-summary-202404.xlsx".
func (s *Service) FileName(table Table, format Format) string {
	return fmt.Sprintf("%s-%d.%s", sanitizeFileComponent(table.ReportName), table.CycleCode, format)
}

// Write streams the table to w and returns the number of bytes written.
func (s *Service) Write(w io.Writer, table Table, format Format) (int64, error) {
	counter := &countingWriter{writer: bufio.NewWriterSize(w, 64<<10)}
	var err error
	switch format {
	case FormatCSV:
		err = s.writeCSV(counter, table)
	case FormatXLSX:
		err = s.writeXLSX(counter, table)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return counter.count, err
	}
	if err := counter.writer.Flush(); err != nil {
		return counter.count, fmt.Errorf("flush export: %w", err)
	}
	return counter.count, nil
}

func (s *Service) writeCSV(w io.Writer, table Table) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(table.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i, value := range rowValues(table, row, true) {
			record[i] = formatValue(value)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func (s *Service) writeXLSX(w io.Writer, table Table) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", dataSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	stream, err := f.NewStreamWriter(dataSheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	header := make([]interface{}, len(table.Columns))
	for i, col := range table.Columns {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: col}
	}
	if err := stream.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := stream.SetRow(cell, rowValues(table, row, false)); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	if _, err := f.NewSheet(parametersSheet); err != nil {
		return fmt.Errorf("create parameters sheet: %w", err)
	}
	metadata := [][]interface{}{
		{"Report", table.ReportName},
		{"Aggregation level", string(table.Grain)},
		{"Cycle", table.CycleCode},
		{"Rows", len(table.Rows)},
		{"Generated at", s.now().UTC().Format(time.RFC3339)},
	}
	for i, pair := range metadata {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(parametersSheet, cell, &pair); err != nil {
			return fmt.Errorf("write parameters: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// rowValues lays a row out in table.Columns order. Missing values stay nil so that
// spreadsheets show an empty cell rather than zero. exact keeps decimals as
// decimal.Decimal; otherwise they become float64 cells.
func rowValues(table Table, row domain.ReportRow, exact bool) []interface{} {
	keys := 2
	if table.Grain == domain.GrainTranche {
		keys = 3
	}
	values := make([]interface{}, len(table.Columns))
	for i, col := range table.Columns {
		if i < keys {
			switch col {
			case "deal_number":
				values[i] = row.DealNumber
			case "tranche_id":
				if row.TrancheID != nil {
					values[i] = *row.TrancheID
				}
			case "cycle_code":
				values[i] = row.CycleCode
			}
			continue
		}
		v, ok := row.Values[col]
		if !ok || !v.Valid {
			continue
		}
		if exact {
			values[i] = v.Decimal
		} else {
			values[i] = v.Decimal.InexactFloat64()
		}
	}
	return values
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	if result == "" {
		return "report"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case decimal.Decimal:
		return v.String()
	case int, int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
