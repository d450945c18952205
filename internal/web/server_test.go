package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trustchain.mini/tcm/internal/api"
	"trustchain.mini/tcm/internal/events"
	"trustchain.mini/tcm/internal/ledger"
	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *events.Broker, *events.Log) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := ledger.New(store.NewMemory(), ledger.WithLogger(logger))
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	broker := events.NewBroker()
	recent := events.NewLog(10)
	svc := api.NewService(l, recent, logger)
	return NewServer(cfg, svc, broker, recent, logger), broker, recent
}

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial stream: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	return env
}

func waitForSubscribers(t *testing.T, b *events.Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d subscribers", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventStreamDeliversLiveEvents(t *testing.T) {
	s, broker, _ := newTestServer(t, Config{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, "")
	waitForSubscribers(t, broker, 1)

	env := events.NewEnvelope(7, "ABCD", types.Event{Kind: types.EventReportSubmitted, Line: "REPORT:1:100:IDENTIFIED"})
	if err := broker.Publish(context.Background(), env); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	got := readEnvelope(t, conn)
	if got.ID != env.ID || got.Event.Line != env.Event.Line || got.Height != 7 {
		t.Errorf("Unexpected envelope: %+v", got)
	}
}

func TestEventStreamReplaysBacklogOldestFirst(t *testing.T) {
	s, _, recent := newTestServer(t, Config{})
	for _, line := range []string{"A", "B", "C"} {
		_ = recent.Publish(context.Background(), events.NewEnvelope(1, "", types.Event{Line: line}))
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, "?backlog=2")
	if got := readEnvelope(t, conn).Event.Line; got != "B" {
		t.Errorf("Expected B first, got %q", got)
	}
	if got := readEnvelope(t, conn).Event.Line; got != "C" {
		t.Errorf("Expected C second, got %q", got)
	}
}

func TestEventStreamUnsubscribesOnClose(t *testing.T) {
	s, broker, _ := newTestServer(t, Config{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, "")
	waitForSubscribers(t, broker, 1)
	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber was not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventStreamRejectsBadBacklog(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/events/stream?backlog=x", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status Bad Request, got %v", w.Code)
	}
}

func TestHandlerAppliesRateLimit(t *testing.T) {
	s, _, _ := newTestServer(t, Config{RateLimit: 1, Burst: 1})
	h := s.Handler()

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Header().Get(api.RequestIDHeader) == "" {
			t.Error("Expected a request id header")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected [200 429], got %v", codes)
	}
}
