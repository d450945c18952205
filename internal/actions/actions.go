// Package actions provides the lifecycle hooks the ledger runs after an
// admin update or delete is committed.
//
// With actions disabled the node only logs the change. Enabled nodes back up
// the SQLite store and may run an operator command or notify an agent URL.
// Hook failures are logged by the ledger and never reject the call.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"trustchain.mini/tcm/internal/agent"
	"trustchain.mini/tcm/internal/config"
	"trustchain.mini/tcm/internal/ledger"
	"trustchain.mini/tcm/internal/types"
)

const commandTimeout = 30 * time.Second

// Backuper takes a copy of the current database.
type Backuper interface {
	BackupCurrent(maxBackups int) (string, error)
}

// New builds the hook configured by cfg. backups may be nil when the store
// has no file to copy.
func New(cfg *config.Config, backups Backuper, logger *slog.Logger) ledger.LifecycleHook {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "actions")

	if cfg == nil || !cfg.EnableActions {
		return func(_ context.Context, action types.Action, g types.GlobalState) error {
			logger.Info("lifecycle action committed (actions disabled; not executing)",
				"action", action, "version", g.Version)
			return nil
		}
	}

	var hooks []ledger.LifecycleHook
	if backups != nil {
		hooks = append(hooks, BackupHook(backups, cfg.MaxBackups, logger))
	}
	if cfg.LifecycleCommand != "" {
		hooks = append(hooks, CommandHook(cfg.LifecycleCommand, logger))
	}
	return Chain(hooks...)
}

// Chain runs hooks in order and stops at the first error.
func Chain(hooks ...ledger.LifecycleHook) ledger.LifecycleHook {
	return func(ctx context.Context, action types.Action, g types.GlobalState) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(ctx, action, g); err != nil {
				return err
			}
		}
		return nil
	}
}

// BackupHook copies the database once the instance has changed.
func BackupHook(b Backuper, maxBackups int, logger *slog.Logger) ledger.LifecycleHook {
	return func(_ context.Context, action types.Action, _ types.GlobalState) error {
		path, err := b.BackupCurrent(maxBackups)
		if err != nil {
			return fmt.Errorf("backup after %s: %w", action, err)
		}
		logger.Info("backup taken", "action", action, "path", path)
		return nil
	}
}

// CommandHook runs cmdStr through /bin/sh, or POSTs an agent.Request to it
// when it is an http(s) URL (see cmd/agent). The shell sees TCM_ACTION,
// TCM_VERSION and TCM_STATUS.
func CommandHook(cmdStr string, logger *slog.Logger) ledger.LifecycleHook {
	if strings.HasPrefix(cmdStr, "http://") || strings.HasPrefix(cmdStr, "https://") {
		return func(ctx context.Context, action types.Action, g types.GlobalState) error {
			return postAgent(ctx, cmdStr, agent.Request{Action: action, Version: g.Version, Status: g.Status, Admin: g.Admin}, logger)
		}
	}
	return func(ctx context.Context, action types.Action, g types.GlobalState) error {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		logger.Info("executing lifecycle command", "action", action, "command", cmdStr)
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
		cmd.Env = append(os.Environ(),
			"TCM_ACTION="+string(action),
			"TCM_VERSION="+g.Version,
			"TCM_STATUS="+string(g.Status),
		)
		var out, stderr bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("lifecycle command failed: %v stdout=%s stderr=%s", err, out.String(), stderr.String())
		}
		logger.Debug("lifecycle command output", "stdout", out.String())
		return nil
	}
}

func postAgent(ctx context.Context, url string, p agent.Request, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent POST failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	logger.Info("lifecycle POST to agent succeeded", "action", p.Action)
	return nil
}
