// Package api serves the read-only HTTP view of the report ledger. Writes go
// through consensus; nothing here mutates ledger state.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"trustchain.mini/tcm/internal/docs"
	"trustchain.mini/tcm/internal/events"
	"trustchain.mini/tcm/internal/ledger"
	"trustchain.mini/tcm/internal/store"
)

// Backuper is the subset of the SQLite store used by the backup endpoints.
type Backuper interface {
	ListBackups() ([]store.BackupFile, error)
	BackupCurrent(maxBackups int) (string, error)
	ExportSnapshot() ([]byte, error)
}

// Service handles API requests
type Service struct {
	ledger     *ledger.Ledger
	recent     *events.Log
	docs       *docs.Service
	backups    Backuper
	maxBackups int
	nodeID     string
	logger     *slog.Logger
}

// Option configures optional parts of the Service.
type Option func(*Service)

// WithDocs enables the /api/docs endpoints.
func WithDocs(d *docs.Service) Option {
	return func(s *Service) { s.docs = d }
}

// WithBackups enables the /api/backups endpoints.
func WithBackups(b Backuper, maxBackups int) Option {
	return func(s *Service) {
		s.backups = b
		s.maxBackups = maxBackups
	}
}

// WithNodeID sets the id reported by /api/version.
func WithNodeID(id string) Option {
	return func(s *Service) { s.nodeID = id }
}

// NewService creates a new API service
func NewService(l *ledger.Ledger, recent *events.Log, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		ledger: l,
		recent: recent,
		logger: logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts every endpoint on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.HandleHealth)
	mux.HandleFunc("GET /api/version", s.HandleVersion)
	mux.HandleFunc("GET /api/stats", s.HandleStats)
	mux.HandleFunc("GET /api/reports", s.HandleReports)
	mux.HandleFunc("GET /api/reports/{id}", s.HandleReport)
	mux.HandleFunc("GET /api/submitters/{address}", s.HandleSubmitter)
	mux.HandleFunc("GET /api/events/recent", s.HandleRecentEvents)
	mux.HandleFunc("GET /api/docs", s.HandleDocsList)
	mux.HandleFunc("GET /api/docs/{name}", s.HandleDoc)
	mux.HandleFunc("GET /api/backups", s.HandleBackupsList)
	mux.HandleFunc("POST /api/backups", s.HandleBackupCreate)
	mux.HandleFunc("GET /api/backups/export", s.HandleExportDownload)
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("write response", "err", err)
	}
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeLedgerError maps a rejected ledger read to a status code and a body
// carrying the error kind.
func (s *Service) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("ledger read failed", "path", r.URL.Path, "err", err)
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  ledger.KindName(err),
	})
}

// StatusFor returns the HTTP status for a ledger error kind.
func StatusFor(err error) int {
	switch ledger.KindOf(err) {
	case ledger.ErrValidation, ledger.ErrUnknownOperation:
		return http.StatusBadRequest
	case ledger.ErrRateLimited:
		return http.StatusTooManyRequests
	case ledger.ErrNotFound:
		return http.StatusNotFound
	case ledger.ErrUnauthorized:
		return http.StatusForbidden
	case ledger.ErrStorage:
		return http.StatusServiceUnavailable
	case ledger.ErrInvalidState, ledger.ErrReplayed:
		return http.StatusConflict
	}
	if errors.Is(err, docs.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
