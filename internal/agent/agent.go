// Package agent provides a privileged helper process that runs operator
// commands when the ledger is updated or deleted. The node's lifecycle hook
// POSTs to the agent instead of running system commands itself, so the node
// can run without those privileges.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"trustchain.mini/tcm/internal/types"
)

// Request is the payload the node's lifecycle hook sends.
type Request struct {
	Action  types.Action `json:"action"`
	Version string       `json:"version"`
	Status  types.Status `json:"status"`
	Admin   string       `json:"admin"`
}

// Commands maps a lifecycle action to the shell command run for it.
type Commands map[types.Action]string

const commandTimeout = 5 * time.Minute

// Handler serves POST /action.
func Handler(commands Commands, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /action", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		cmdStr, ok := commands[req.Action]
		if !ok {
			http.Error(w, "unknown action", http.StatusNotImplemented)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
		cmd.Env = append(os.Environ(),
			"TCM_ACTION="+string(req.Action),
			"TCM_VERSION="+req.Version,
			"TCM_STATUS="+string(req.Status),
		)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			logger.Error("action failed", "action", req.Action, "err", err, "stderr", stderr.String())
			http.Error(w, "action failed", http.StatusInternalServerError)
			return
		}
		logger.Info("action executed", "action", req.Action, "version", req.Version)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve starts the agent HTTP server on the given address (e.g., "localhost:9001").
func Serve(ctx context.Context, addr string, commands Commands, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(commands, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
