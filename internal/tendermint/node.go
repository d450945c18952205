// Package tendermint runs the socket-based ABCI server that Tendermint
// connects to, and prepares the Tendermint home directory the node uses.
//
// tcm listens on a Unix socket; Tendermint runs as a separate process and
// drives the ledger over the ABCI protocol.
package tendermint

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	abciserver "github.com/tendermint/tendermint/abci/server"
	abci "github.com/tendermint/tendermint/abci/types"
	tmlog "github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
)

// DefaultSocket is the ABCI address used when none is configured.
const DefaultSocket = "unix://tcm.sock"

// Config holds configuration for the ABCI server and Tendermint connection.
type Config struct {
	// TendermintHome is the directory for Tendermint data and config
	TendermintHome string

	// SocketAddress is the ABCI listen address (e.g., "unix://tcm.sock")
	SocketAddress string
}

// ABCIServer wraps an ABCI server for socket-based Tendermint connection.
type ABCIServer struct {
	server  service.Service
	abciApp abci.Application
	config  *Config
	socket  string
	logger  *slog.Logger
}

// NewABCIServer creates a new socket-based ABCI server. The server is
// created but not started. A nil logger uses slog.Default().
func NewABCIServer(app abci.Application, config *Config, logger *slog.Logger) (*ABCIServer, error) {
	if app == nil {
		return nil, fmt.Errorf("ABCI application cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.SocketAddress == "" {
		return nil, fmt.Errorf("socket address cannot be empty")
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "abci-server")

	server := abciserver.NewSocketServer(config.SocketAddress, app)
	server.SetLogger(slogAdapter{logger})

	return &ABCIServer{
		server:  server,
		abciApp: app,
		config:  config,
		socket:  config.SocketAddress,
		logger:  logger,
	}, nil
}

// Start begins listening for Tendermint connections.
func (s *ABCIServer) Start() error {
	// A stale socket from a crashed run blocks the listener.
	removeSocketFile(s.socket)
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start ABCI server: %w", err)
	}
	s.logger.Info("ABCI server listening", "address", s.socket)
	return nil
}

// Stop shuts down the ABCI server and removes the socket file.
func (s *ABCIServer) Stop() error {
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			return fmt.Errorf("failed to stop ABCI server: %w", err)
		}
	}
	removeSocketFile(s.socket)
	return nil
}

// IsRunning returns true if the ABCI server is currently running.
func (s *ABCIServer) IsRunning() bool {
	return s.server.IsRunning()
}

// SocketPath returns the socket address the server is listening on.
func (s *ABCIServer) SocketPath() string {
	return s.socket
}

func removeSocketFile(addr string) {
	path, ok := strings.CutPrefix(addr, "unix://")
	if !ok {
		return
	}
	if _, err := os.Stat(path); err == nil {
		os.Remove(path)
	}
}

// slogAdapter routes Tendermint's service logging into slog.
type slogAdapter struct {
	l *slog.Logger
}

var _ tmlog.Logger = slogAdapter{}

func (a slogAdapter) Debug(msg string, keyvals ...interface{}) { a.l.Debug(msg, keyvals...) }
func (a slogAdapter) Info(msg string, keyvals ...interface{})  { a.l.Debug(msg, keyvals...) }
func (a slogAdapter) Error(msg string, keyvals ...interface{}) { a.l.Error(msg, keyvals...) }

func (a slogAdapter) With(keyvals ...interface{}) tmlog.Logger {
	return slogAdapter{a.l.With(keyvals...)}
}
