package api

import (
	"fmt"
	"net/http"
	"strconv"

	"trustchain.mini/tcm/internal/ledger"
	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

// maxPageSize caps the limit accepted by the report listing.
const maxPageSize = 1000

// statsResponse is get_stats plus the analytics counters.
type statsResponse struct {
	types.Stats
	AnonymousReports uint64 `json:"anonymous_reports"`
	EvidenceReports  uint64 `json:"evidence_reports"`
}

// @Title: Get Stats
// @Route: GET /api/stats
// @Description: Returns the ledger aggregate and analytics counters
// @Response: {"total_reports": 3, "version": "1.0.0", "admin": "...", "anonymous_reports": 1, "evidence_reports": 2}
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	g, err := s.ledger.ActiveState(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		Stats:            types.Stats{TotalReports: g.TotalReports, Version: g.Version, Admin: g.Admin},
		AnonymousReports: g.AnonymousReports,
		EvidenceReports:  g.EvidenceReports,
	})
}

type reportsPage struct {
	Reports []types.ReportRecord `json:"reports"`
	// Next is the after value for the following page; zero on the last page.
	Next uint64 `json:"next,omitempty"`
}

// @Title: List Reports
// @Route: GET /api/reports
// @Description: Pages through report records in id order. after is the last id already seen (default 0); limit is 1 to 1000 (default 100)
// @Response: {"reports": [{"id": 1, "submitter": "...", "timestamp": 1700000000, "message": "...", "reference_code": "", "evidence_pointer": "", "anonymous": false}], "next": 1}
func (s *Service) HandleReports(w http.ResponseWriter, r *http.Request) {
	const op = "list_reports"
	q := r.URL.Query()

	var after uint64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeLedgerError(w, r, &ledger.Error{Kind: ledger.ErrValidation, Op: op, Msg: fmt.Sprintf("after %q is not a number", raw)})
			return
		}
		after = v
	}
	limit := store.DefaultPageSize
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxPageSize {
			s.writeLedgerError(w, r, &ledger.Error{Kind: ledger.ErrValidation, Op: op, Msg: fmt.Sprintf("limit %q must be between 1 and %d", raw, maxPageSize)})
			return
		}
		limit = v
	}

	recs, err := s.ledger.Reports(r.Context(), after, limit)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	page := reportsPage{Reports: recs}
	if page.Reports == nil {
		page.Reports = []types.ReportRecord{}
	}
	if len(recs) == limit {
		page.Next = recs[len(recs)-1].ID
	}
	s.writeJSON(w, http.StatusOK, page)
}

// @Title: Get Report
// @Route: GET /api/reports/{id}
// @Description: Returns one report record by its numeric id
// @Response: {"id": 1, "submitter": "...", "timestamp": 1700000000, "message": "...", "reference_code": "", "evidence_pointer": "", "anonymous": false}
func (s *Service) HandleReport(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeLedgerError(w, r, &ledger.Error{Kind: ledger.ErrValidation, Op: "get_report", Msg: fmt.Sprintf("report id %q is not a number", raw)})
		return
	}
	rec, err := s.ledger.Report(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// @Title: Get Submitter
// @Route: GET /api/submitters/{address}
// @Description: Returns the rate-limit state and submission count of one submitter
// @Response: {"address": "...", "last_submission_time": 1700000000, "submission_count": 2}
func (s *Service) HandleSubmitter(w http.ResponseWriter, r *http.Request) {
	st, err := s.ledger.Submitter(r.Context(), r.PathValue("address"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}
