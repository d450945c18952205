package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustchain.mini/tcm/internal/agent"
	"trustchain.mini/tcm/internal/config"
	"trustchain.mini/tcm/internal/types"
)

var (
	quiet  = slog.New(slog.NewTextHandler(io.Discard, nil))
	active = types.GlobalState{Version: "1.0.0", Admin: "ad01", Status: types.StatusActive}
)

type fakeBackuper struct {
	calls int
	max   int
	err   error
}

func (f *fakeBackuper) BackupCurrent(maxBackups int) (string, error) {
	f.calls++
	f.max = maxBackups
	return "backups/ledger-1.db", f.err
}

func TestDisabledHookOnlyLogs(t *testing.T) {
	b := &fakeBackuper{}
	cfg := config.Default()
	cfg.LifecycleCommand = "exit 1"

	hook := New(cfg, b, quiet)
	require.NoError(t, hook(context.Background(), types.ActionDelete, active))
	assert.Zero(t, b.calls)
}

func TestEnabledHookBacksUpThenRunsCommand(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	b := &fakeBackuper{}
	cfg := config.Default()
	cfg.EnableActions = true
	cfg.MaxBackups = 4
	cfg.LifecycleCommand = `printf '%s %s' "$TCM_ACTION" "$TCM_VERSION" > ` + marker

	hook := New(cfg, b, quiet)
	require.NoError(t, hook(context.Background(), types.ActionUpdate, active))

	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 4, b.max)
	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "update 1.0.0", string(data))
}

func TestBackupFailureStopsChain(t *testing.T) {
	b := &fakeBackuper{err: errors.New("disk full")}
	ran := false
	hook := Chain(
		BackupHook(b, 1, quiet),
		func(context.Context, types.Action, types.GlobalState) error { ran = true; return nil },
	)

	err := hook(context.Background(), types.ActionDelete, active)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup after delete")
	assert.False(t, ran)
}

func TestCommandHookFailure(t *testing.T) {
	err := CommandHook("echo nope >&2; exit 3", quiet)(context.Background(), types.ActionDelete, active)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stderr=nope")
}

func TestCommandHookPostsToAgent(t *testing.T) {
	var got agent.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, CommandHook(srv.URL, quiet)(context.Background(), types.ActionUpdate, active))
	assert.Equal(t, agent.Request{Action: types.ActionUpdate, Version: "1.0.0", Status: types.StatusActive, Admin: "ad01"}, got)
}

func TestCommandHookAgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := CommandHook(srv.URL, quiet)(context.Background(), types.ActionDelete, active)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestCommandHookDrivesAgent(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "updated")
	srv := httptest.NewServer(agent.Handler(agent.Commands{
		types.ActionUpdate: "touch " + marker,
	}, quiet))
	defer srv.Close()

	hook := CommandHook(srv.URL+"/action", quiet)
	require.NoError(t, hook(context.Background(), types.ActionUpdate, active))
	_, err := os.Stat(marker)
	assert.NoError(t, err)

	err = hook(context.Background(), types.ActionDelete, active)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 501")
}
