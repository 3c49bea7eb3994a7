package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncSpawn("api")
	IncSpawn("api")
	IncSpawnFailure("api")
	IncStop("api")
	IncKillEscalation("api")
	SetUnitState("api", "healthy")
	ObserveProbe("api", 0.05, true)
	ObserveProbe("api", 2.0, false)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"stackd_unit_spawns_total":           false,
		"stackd_unit_spawn_failures_total":   false,
		"stackd_unit_stops_total":            false,
		"stackd_unit_kill_escalations_total": false,
		"stackd_unit_state":                  false,
		"stackd_probe_duration_seconds":      false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestSetUnitStateIsExclusive(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	// The vec may already live in another registry from an earlier test;
	// attach it to this one directly so Gather sees it.
	_ = reg.Register(unitState)
	SetUnitState("worker", "healthy")
	SetUnitState("worker", "unhealthy")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() != "stackd_unit_state" {
			continue
		}
		found = true
		for _, m := range mf.GetMetric() {
			var name, state string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "name":
					name = lp.GetValue()
				case "state":
					state = lp.GetValue()
				}
			}
			if name != "worker" {
				continue
			}
			want := 0.0
			if state == "unhealthy" {
				want = 1.0
			}
			if got := m.GetGauge().GetValue(); got != want {
				t.Fatalf("state %s = %v, want %v", state, got, want)
			}
		}
	}
	if !found {
		t.Fatalf("stackd_unit_state not gathered")
	}
}

func TestHandlerServesText(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Handler serves the default gatherer; just verify the exposition format.
	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code=%d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("content-type=%s", resp.Header.Get("Content-Type"))
	}
	if len(body) == 0 {
		t.Fatalf("empty exposition body")
	}
}
