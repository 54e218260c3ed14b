package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpattn/dealreport/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&domain.DefinitionNotFoundError{Kind: "report", Key: "7"}, http.StatusNotFound},
		{fmt.Errorf("resolve: %w", &domain.DefinitionNotFoundError{Kind: "calculation", Key: "1"}), http.StatusNotFound},
		{&domain.InvalidCalculationError{Name: "x", Reason: "bad"}, http.StatusBadRequest},
		{&domain.InvalidFilterError{Reason: "bad"}, http.StatusBadRequest},
		{&domain.CompilationError{Reason: "bug"}, http.StatusInternalServerError},
		{&domain.ExecutionError{Err: errors.New("timeout")}, http.StatusBadGateway},
		{domain.ErrExecutionInProgress, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestExecuteEndpoint(t *testing.T) {
	f := newFixture()
	h := NewHTTPHandler(f.service)

	rec := serve(h, http.MethodPost, "/api/reports/7/execute", `{"cycle_code": 202401}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Columns   []string `json:"columns"`
		CycleCode int      `json:"cycle_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.CycleCode != 202401 || len(body.Columns) != 4 {
		t.Fatalf("unexpected response %+v", body)
	}

	if rec := serve(h, http.MethodPost, "/api/reports/7/execute", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing cycle, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodPost, "/api/reports/abc/execute", `{"cycle_code": 202401}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodPost, "/api/reports/99/execute", `{"cycle_code": 202401}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown report, got %d", rec.Code)
	}
}

func TestExecuteEndpointConflict(t *testing.T) {
	f := newFixture()
	h := NewHTTPHandler(f.service)
	release, _ := f.locker.Acquire(t.Context(), executionLockKey(7, 202401))
	defer func() { _ = release(t.Context()) }()

	rec := serve(h, http.MethodPost, "/api/reports/7/execute", `{"cycle_code": 202401}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already in progress") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestCalculationPreviewEndpointAcceptsEmptyBody(t *testing.T) {
	f := newFixture()
	h := NewHTTPHandler(f.service)

	rec := serve(h, http.MethodPost, "/api/calculations/1/preview", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"sql_query"`) {
		t.Fatalf("expected preview payload, got %s", rec.Body.String())
	}
}

func TestCalculationRunEndpoint(t *testing.T) {
	f := newFixture()
	h := NewHTTPHandler(f.service)

	rec := serve(h, http.MethodPost, "/api/calculations/1/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ReportName string   `json:"report_name"`
		Columns    []string `json:"columns"`
		CycleCode  int      `json:"cycle_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ReportName != "Total Ending Balance" || body.CycleCode != 202404 || len(body.Columns) != 2 {
		t.Fatalf("unexpected response %+v", body)
	}
	if rec := serve(h, http.MethodPost, "/api/calculations/42/run", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown calculation, got %d", rec.Code)
	}
}

func TestUpdateCalculationEndpointProtectsTemplates(t *testing.T) {
	f := newFixture()
	h := NewHTTPHandler(f.service)

	rec := serve(h, http.MethodPut, "/api/calculations/1", `{"name":"Total Ending Balance","aggregation_function":"SUM","source_entity":"TrancheBal","source_field":"tr_end_bal_amt","group_level":"tranche"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Monthly Deal Summary") {
		t.Fatalf("expected dependent report in message, got %s", rec.Body.String())
	}
}

func TestCreateCalculationEndpointRejectsInvalidSpec(t *testing.T) {
	f := newFixture()
	h := NewHTTPHandler(f.service)

	rec := serve(h, http.MethodPost, "/api/calculations", `{"name":"Avg Issuer","aggregation_function":"AVG","source_entity":"Deal","source_field":"issr_cde","group_level":"deal"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "numeric") {
		t.Fatalf("expected numeric field message, got %s", rec.Body.String())
	}
}

func TestAdHocEndpointValidatesPayload(t *testing.T) {
	f := newFixture()
	h := NewHTTPHandler(f.service)

	rec := serve(h, http.MethodPost, "/api/reports/run", `{"calculation_names":[],"deal_numbers":[101],"tranche_ids":["A"],"cycle_code":202401,"aggregation_level":"deal"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty calculation list, got %d", rec.Code)
	}

	rec = serve(h, http.MethodPost, "/api/reports/run/preview", `{"calculation_names":["Weighted Avg Rate"],"deal_numbers":[101],"tranche_ids":["A"],"cycle_code":202401,"aggregation_level":"deal","predicates":[{"entity":"TrancheBal","field":"tr_end_bal_amt","operator":"GT","values":[0]}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "tr_end_bal_amt \\u003e 0::numeric") && !strings.Contains(rec.Body.String(), "tr_end_bal_amt > 0::numeric") {
		t.Fatalf("expected predicate in preview, got %s", rec.Body.String())
	}
}

func TestWarehouseTranchesRequiresDeal(t *testing.T) {
	f := newFixture()
	h := NewHTTPHandler(f.service)
	if rec := serve(h, http.MethodGet, "/api/warehouse/tranches", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/warehouse/tranches?deal=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
