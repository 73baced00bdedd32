package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type recordingCloser struct {
	order  *[]string
	name   string
	closed bool
}

func (c *recordingCloser) Close() error {
	c.closed = true
	*c.order = append(*c.order, c.name)
	return nil
}

func TestShutdown_ClosersRunInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	var order []string
	first := &recordingCloser{order: &order, name: "store"}
	second := &recordingCloser{order: &order, name: "http"}
	sm.RegisterCloser(first)
	sm.RegisterCloser(second)

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !first.closed || !second.closed {
		t.Fatal("closers not invoked")
	}
	if len(order) != 2 || order[0] != "http" || order[1] != "store" {
		t.Errorf("close order = %v", order)
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	var order []string
	c := &recordingCloser{order: &order, name: "once"}
	sm.RegisterCloser(c)

	sm.Shutdown(context.Background())
	sm.Shutdown(context.Background())
	if len(order) != 1 {
		t.Errorf("closer ran %d times", len(order))
	}
}

func TestShutdown_StartCallbackRunsBeforeClosers(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	var order []string
	sm.OnShutdownStart(func() { order = append(order, "callback") })
	sm.RegisterCloser(&recordingCloser{order: &order, name: "closer"})

	sm.Shutdown(context.Background())
	if len(order) != 2 || order[0] != "callback" {
		t.Errorf("order = %v", order)
	}
}

func TestShutdown_DrainsInFlightRequests(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: time.Second})

	if !sm.TrackRequest() {
		t.Fatal("TrackRequest rejected before shutdown")
	}

	var done int32
	go func() {
		time.Sleep(150 * time.Millisecond)
		atomic.StoreInt32(&done, 1)
		sm.UntrackRequest()
	}()

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if atomic.LoadInt32(&done) != 1 {
		t.Error("shutdown returned before the in-flight request finished")
	}
}

func TestShutdown_DrainTimesOut(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 100 * time.Millisecond})
	sm.TrackRequest() // never untracked

	if err := sm.Shutdown(context.Background()); err == nil {
		t.Error("expected drain timeout error")
	}
}

func TestShutdownMiddleware_RejectsDuringShutdown(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	handler := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/summaries", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status before shutdown = %d", rec.Code)
	}

	sm.Shutdown(context.Background())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/summaries", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status during shutdown = %d", rec.Code)
	}
}
