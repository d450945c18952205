package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"trustchain.mini/tcm/internal/events"
	"trustchain.mini/tcm/internal/ledger"
	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

const (
	testAdmin     = "ad01"
	testSubmitter = "a11ce"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTest creates an active ledger over a memory store and a service
// mounted on a fresh mux.
func setupTest(t *testing.T, opts ...Option) (*Service, *ledger.Ledger, *http.ServeMux) {
	t.Helper()
	l, err := ledger.New(store.NewMemory(), ledger.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	if _, err := l.Dispatch(context.Background(), types.Call{Action: types.ActionCreate, Caller: testAdmin}); err != nil {
		t.Fatalf("Failed to create instance: %v", err)
	}

	svc := NewService(l, events.NewLog(10), quietLogger(), opts...)
	mux := http.NewServeMux()
	svc.Register(mux)
	return svc, l, mux
}

func submitReport(t *testing.T, l *ledger.Ledger, caller string, ts uint64, args ...string) string {
	t.Helper()
	res, err := l.Dispatch(context.Background(), types.Call{
		Action:    types.ActionNoOp,
		Args:      append([]string{types.MethodSubmitReport}, args...),
		Caller:    caller,
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Failed to submit report: %v", err)
	}
	return res.Value
}

func do(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}
