package tendermint

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	abci "github.com/tendermint/tendermint/abci/types"
)

func TestNewABCIServerValidates(t *testing.T) {
	if _, err := NewABCIServer(nil, &Config{SocketAddress: DefaultSocket}, nil); err == nil {
		t.Error("expected an error for a nil application")
	}
	app := abci.NewBaseApplication()
	if _, err := NewABCIServer(app, nil, nil); err == nil {
		t.Error("expected an error for a nil config")
	}
	if _, err := NewABCIServer(app, &Config{}, nil); err == nil {
		t.Error("expected an error for an empty socket address")
	}
}

func TestABCIServerStartStop(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "tcm.sock")
	// A leftover file from a crashed run must not block the listener.
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv, err := NewABCIServer(abci.NewBaseApplication(), &Config{SocketAddress: "unix://" + sock}, logger)
	if err != nil {
		t.Fatalf("NewABCIServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !srv.IsRunning() {
		t.Fatal("server should be running")
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Stop: %v", err)
	}
	if !strings.Contains(buf.String(), "component=abci-server") {
		t.Errorf("expected component-tagged log records, got: %s", buf.String())
	}
}

func TestSlogAdapterWith(t *testing.T) {
	var buf bytes.Buffer
	a := slogAdapter{slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	a.With("module", "abci").Error("conn failed", "err", "eof")

	out := buf.String()
	if !strings.Contains(out, "module=abci") || !strings.Contains(out, "err=eof") || !strings.Contains(out, "level=ERROR") {
		t.Errorf("unexpected record: %s", out)
	}
}
