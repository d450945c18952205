package api

import (
	"fmt"
	"net/http"
	"time"

	"trustchain.mini/tcm/internal/store"
)

// @Title: List Backups
// @Route: GET /api/backups
// @Description: List the ledger database backups on this node, oldest first
// @Response: [{"name": "...", "timestamp": "...", "size": ...}]
func (s *Service) HandleBackupsList(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		s.writeError(w, http.StatusNotFound, "Backups require the sqlite store")
		return
	}
	backups, err := s.backups.ListBackups()
	if err != nil {
		s.logger.Error("list backups", "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read backups")
		return
	}
	if backups == nil {
		backups = []store.BackupFile{}
	}
	s.writeJSON(w, http.StatusOK, backups)
}

// @Title: Create Backup
// @Route: POST /api/backups
// @Description: Copy the current ledger database into the backup directory
// @Response: {"status": "ok", "path": "..."}
func (s *Service) HandleBackupCreate(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		s.writeError(w, http.StatusNotFound, "Backups require the sqlite store")
		return
	}
	path, err := s.backups.BackupCurrent(s.maxBackups)
	if err != nil {
		s.logger.Error("create backup", "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save backup")
		return
	}

	s.logger.Info("created backup", "path", path)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"path":   path,
	})
}

// @Title: Download Snapshot
// @Route: GET /api/backups/export
// @Description: Download a consistent snapshot of the ledger database
// @Response: application/octet-stream file download
func (s *Service) HandleExportDownload(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		s.writeError(w, http.StatusNotFound, "Backups require the sqlite store")
		return
	}
	data, err := s.backups.ExportSnapshot()
	if err != nil {
		s.logger.Error("export snapshot", "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to export snapshot")
		return
	}

	filename := fmt.Sprintf("tcm-ledger-%s.db", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(data)
	s.logger.Info("served snapshot download", "file", filename, "bytes", len(data))
}
