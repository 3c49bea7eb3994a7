package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/status"
)

type fakeSource struct {
	snap status.Snapshot
}

func (f *fakeSource) StatusSnapshot() status.Snapshot { return f.snap }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusEndpointHealthy(t *testing.T) {
	src := &fakeSource{snap: status.Snapshot{
		TakenAt: time.Now(),
		Units: []status.Unit{
			{Name: "api", State: health.StateHealthy, PID: 100, Port: 3001},
			{Name: "dashboard", State: health.StateStarting, PID: 101, Port: 3002},
		},
	}}
	w := get(t, Handler(src), "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	var snap status.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Units) != 2 || snap.Units[0].Name != "api" {
		t.Fatalf("units=%+v", snap.Units)
	}
}

func TestStatusEndpointDegradedStack(t *testing.T) {
	src := &fakeSource{snap: status.Snapshot{
		TakenAt: time.Now(),
		Units: []status.Unit{
			{Name: "api", State: health.StateUnhealthy, Detail: "probe refused"},
		},
	}}
	w := get(t, Handler(src), "/status")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d, want 503", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	w := get(t, Handler(&fakeSource{}), "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("body=%s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	w := get(t, Handler(&fakeSource{}), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("content-type=%s", ct)
	}
}
