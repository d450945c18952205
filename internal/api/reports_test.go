package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"trustchain.mini/tcm/internal/events"
	"trustchain.mini/tcm/internal/ledger"
	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

type countingStore struct {
	*store.Memory
	globals atomic.Int32
}

func (c *countingStore) Global(ctx context.Context) (types.GlobalState, error) {
	c.globals.Add(1)
	return c.Memory.Global(ctx)
}

func TestHandleHealth(t *testing.T) {
	_, _, mux := setupTest(t)

	w := do(mux, http.MethodGet, "/api/health")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status OK, got %v", w.Code)
	}
}

func TestHandleVersion(t *testing.T) {
	_, _, mux := setupTest(t, WithNodeID("node-1"))

	w := do(mux, http.MethodGet, "/api/version")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %v", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["version"] != types.Version {
		t.Errorf("Expected version %q, got %q", types.Version, body["version"])
	}
	if body["ledger_version"] != "1.0.0" {
		t.Errorf("Expected ledger_version 1.0.0, got %q", body["ledger_version"])
	}
	if body["node_id"] != "node-1" {
		t.Errorf("Expected node_id node-1, got %q", body["node_id"])
	}
}

func TestHandleStats(t *testing.T) {
	_, l, mux := setupTest(t)
	submitReport(t, l, "s1", 100, "first", "", "", "true")
	submitReport(t, l, "s2", 100, "second", "", "ipfs://cid")
	submitReport(t, l, "s3", 100, "third")

	w := do(mux, http.MethodGet, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %v", w.Code)
	}
	var body statsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	want := statsResponse{
		Stats:            types.Stats{TotalReports: 3, Version: "1.0.0", Admin: testAdmin},
		AnonymousReports: 1,
		EvidenceReports:  1,
	}
	if body != want {
		t.Errorf("Expected %+v, got %+v", want, body)
	}
}

// The stats body comes from one read of the aggregate.
func TestHandleStatsReadsStateOnce(t *testing.T) {
	cs := &countingStore{Memory: store.NewMemory()}
	l, err := ledger.New(cs, ledger.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	if _, err := l.Dispatch(context.Background(), types.Call{Action: types.ActionCreate, Caller: testAdmin}); err != nil {
		t.Fatalf("Failed to create instance: %v", err)
	}
	submitReport(t, l, testSubmitter, 100, "one", "", "bafy", "true")
	mux := http.NewServeMux()
	NewService(l, events.NewLog(10), quietLogger()).Register(mux)

	cs.globals.Store(0)
	w := do(mux, http.MethodGet, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %v", w.Code)
	}
	if n := cs.globals.Load(); n != 1 {
		t.Errorf("Expected one aggregate read, got %d", n)
	}
	var body statsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.TotalReports != 1 || body.AnonymousReports != 1 || body.EvidenceReports != 1 {
		t.Errorf("Unexpected stats: %+v", body)
	}
}

func TestHandleReports(t *testing.T) {
	_, l, mux := setupTest(t)
	for i, who := range []string{"s1", "s2", "s3"} {
		submitReport(t, l, who, uint64(100+i), "report "+who)
	}

	decode := func(target string) reportsPage {
		t.Helper()
		w := do(mux, http.MethodGet, target)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status OK, got %v", target, w.Code)
		}
		var page reportsPage
		if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
			t.Fatalf("%s: failed to decode body: %v", target, err)
		}
		return page
	}

	page := decode("/api/reports?limit=2")
	if len(page.Reports) != 2 || page.Reports[0].ID != 1 || page.Reports[1].ID != 2 || page.Next != 2 {
		t.Fatalf("Unexpected first page: %+v", page)
	}
	page = decode("/api/reports?after=2&limit=2")
	if len(page.Reports) != 1 || page.Reports[0].ID != 3 || page.Next != 0 {
		t.Fatalf("Unexpected last page: %+v", page)
	}
	page = decode("/api/reports")
	if len(page.Reports) != 3 || page.Reports[2].Message != "report s3" {
		t.Fatalf("Unexpected default page: %+v", page)
	}
	if w := do(mux, http.MethodGet, "/api/reports?after=3"); !strings.Contains(w.Body.String(), `"reports":[]`) {
		t.Errorf("Expected an empty list, got %s", w.Body.String())
	}

	for _, target := range []string{
		"/api/reports?after=x",
		"/api/reports?after=-1",
		"/api/reports?limit=0",
		"/api/reports?limit=1001",
		"/api/reports?limit=ten",
	} {
		if w := do(mux, http.MethodGet, target); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status Bad Request, got %v", target, w.Code)
		}
	}
}

func TestHandleReport(t *testing.T) {
	_, l, mux := setupTest(t)
	id := submitReport(t, l, testSubmitter, 100, "hello", "REF-1", "", "true")

	w := do(mux, http.MethodGet, "/api/reports/"+id)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %v", w.Code)
	}
	var rec types.ReportRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if rec.Submitter != types.AnonymousSubmitter || rec.Message != "hello" || rec.ReferenceCode != "REF-1" {
		t.Errorf("Unexpected record: %+v", rec)
	}
}

func TestHandleReportErrors(t *testing.T) {
	_, _, mux := setupTest(t)

	tests := []struct {
		target string
		status int
		kind   string
	}{
		{"/api/reports/abc", http.StatusBadRequest, "validation"},
		{"/api/reports/-1", http.StatusBadRequest, "validation"},
		{"/api/reports/42", http.StatusNotFound, "not_found"},
		{"/api/submitters/nobody", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		w := do(mux, http.MethodGet, tt.target)
		if w.Code != tt.status {
			t.Errorf("%s: expected status %d, got %d", tt.target, tt.status, w.Code)
			continue
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("%s: failed to decode body: %v", tt.target, err)
		}
		if body["kind"] != tt.kind {
			t.Errorf("%s: expected kind %q, got %q", tt.target, tt.kind, body["kind"])
		}
	}
}

func TestHandleSubmitter(t *testing.T) {
	_, l, mux := setupTest(t)
	submitReport(t, l, testSubmitter, 100, "one")
	submitReport(t, l, testSubmitter, 200, "two")

	w := do(mux, http.MethodGet, "/api/submitters/"+testSubmitter)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %v", w.Code)
	}
	var st types.SubmitterState
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if st.SubmissionCount != 2 || st.LastSubmissionTime != 200 {
		t.Errorf("Unexpected submitter state: %+v", st)
	}
}

func TestDeletedInstanceIsConflict(t *testing.T) {
	_, l, mux := setupTest(t)
	if _, err := l.Dispatch(context.Background(), types.Call{Action: types.ActionDelete, Caller: testAdmin}); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	for _, target := range []string{"/api/stats", "/api/reports/1", "/api/reports"} {
		if w := do(mux, http.MethodGet, target); w.Code != http.StatusConflict {
			t.Errorf("%s: expected status Conflict, got %v", target, w.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, mux := setupTest(t)

	if w := do(mux, http.MethodPost, "/api/stats"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status Method Not Allowed, got %v", w.Code)
	}
}
