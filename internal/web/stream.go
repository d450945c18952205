package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// handleEventStream upgrades to a websocket and forwards every delivered
// ledger event as one JSON text message. ?backlog=n first replays up to n
// recent events, oldest first.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	backlog := 0
	if raw := r.URL.Query().Get("backlog"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "backlog must be a non-negative integer", http.StatusBadRequest)
			return
		}
		backlog = min(n, maxBacklog)
	}

	// Subscribe before upgrading so nothing published after the backlog
	// snapshot is missed.
	updates, cancel := s.broker.Subscribe(streamBuffer)
	defer cancel()

	conn, err := upgradeStream(w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	s.logger.Info("stream client connected", "remote", r.RemoteAddr)
	defer s.logger.Info("stream client disconnected", "remote", r.RemoteAddr)

	if backlog > 0 && s.recent != nil {
		recent := s.recent.Recent(backlog)
		for i := len(recent) - 1; i >= 0; i-- {
			data, err := json.Marshal(recent[i])
			if err != nil {
				continue
			}
			if err := s.write(conn, websocket.TextMessage, data); err != nil {
				return
			}
		}
	}

	// The client sends nothing; reading only surfaces the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case data, ok := <-updates:
			if !ok {
				return
			}
			if err := s.write(conn, websocket.TextMessage, data); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn streamConn, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}
