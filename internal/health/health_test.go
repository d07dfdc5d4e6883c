package health

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/simpledaemons/simple-snmpd/internal/metrics"
)

type fakeChecker struct {
	bound  bool
	tables bool
}

func (f fakeChecker) Bound() bool        { return f.bound }
func (f fakeChecker) TablesLoaded() bool { return f.tables }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthzAlwaysReportsOK(t *testing.T) {
	daemon := metrics.NewDaemon(time.Now().Add(-5 * time.Second))
	s := New(":0", fakeChecker{bound: false, tables: false}, daemon, discardLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.http.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body statusBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %q", body.Status)
	}
	if body.UptimeSecs < 5 {
		t.Fatalf("expected uptime >= 5s, got %d", body.UptimeSecs)
	}
}

func TestReadyzReportsUnavailableUntilBoundAndLoaded(t *testing.T) {
	daemon := metrics.NewDaemon(time.Now())
	s := New(":0", fakeChecker{bound: false, tables: true}, daemon, discardLogger())

	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not bound, got %d", rr.Code)
	}
}

func TestReadyzReportsOKWhenBoundAndLoaded(t *testing.T) {
	daemon := metrics.NewDaemon(time.Now())
	daemon.QueueDepth.Set(3)
	s := New(":0", fakeChecker{bound: true, tables: true}, daemon, discardLogger())

	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when bound and loaded, got %d", rr.Code)
	}
	var body statusBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Bound || !body.TablesReady {
		t.Fatalf("expected bound and tables_ready to be true: %+v", body)
	}
	if body.QueueDepth != 3 {
		t.Fatalf("expected queue depth 3, got %d", body.QueueDepth)
	}
}

func TestListenAndServeReturnsNilAfterShutdown(t *testing.T) {
	daemon := metrics.NewDaemon(time.Now())
	s := New("127.0.0.1:0", fakeChecker{bound: true, tables: true}, daemon, discardLogger())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()

	time.Sleep(50 * time.Millisecond)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error after Shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}
