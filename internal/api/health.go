package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime"

	"trustchain.mini/tcm/internal/types"
)

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns server health status
// @Response: {"status": "ok"}
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// @Title: Get Version
// @Route: GET /api/version
// @Description: Returns node software version, ledger program version and node ID
// @Response: {"version": "...", "ledger_version": "...", "status": "ok", "node_id": "..."}
func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	response := map[string]string{
		"version":    types.Version,
		"build_time": types.BuildTime,
		"status":     "ok",
		"hostname":   hostname,
		"go_ver":     runtime.Version(),
		"os_arch":    fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if s.nodeID != "" {
		response["node_id"] = s.nodeID
	}
	// The program version is only known once the instance is active.
	if st, err := s.ledger.Stats(r.Context()); err == nil {
		response["ledger_version"] = st.Version
	}

	s.writeJSON(w, http.StatusOK, response)
}
