package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
	"github.com/ericogr/bobshield/pkg/metrics"
	"github.com/ericogr/bobshield/pkg/sensor"
)

func newTestServer(t *testing.T, withReference bool, mode string) (*httptest.Server, *sensor.FakeBeam) {
	t.Helper()
	beam := sensor.NewFakeBeam()
	reg := prometheus.NewRegistry()
	opts := bob.DefaultOptions()
	opts.SettleDelay = bob.NoDelay
	opts.SampleDelay = bob.NoDelay
	opts.Samples = 20
	opts.Metrics = metrics.New(reg)
	if withReference {
		opts.Reference = sensor.NewFakeAnalog(1.65)
	}
	d := bob.New(beam, beam, opts)

	var logs bytes.Buffer
	srv := httptest.NewServer(Handler(NewRouter(d, reg, mode), &logs))
	t.Cleanup(srv.Close)
	return srv, beam
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, false, config.ModeManual)
	resp, body := do(t, "GET", srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func TestCalibrateAndBounds(t *testing.T) {
	srv, _ := newTestServer(t, false, config.ModeManual)

	_, body := do(t, "GET", srv.URL+"/bounds", "")
	if body["calibrated"] != false || body["min_mm"] != float64(bob.DefaultMinBound) {
		t.Fatalf("initial bounds = %v", body)
	}

	resp, body := do(t, "POST", srv.URL+"/calibrate", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("calibrate status = %d %v", resp.StatusCode, body)
	}
	if body["calibrated"] != true {
		t.Fatalf("bounds after calibrate = %v", body)
	}
	if body["min_mm"].(float64) >= body["max_mm"].(float64) {
		t.Fatalf("bounds inverted = %v", body)
	}

	resp, body = do(t, "GET", srv.URL+"/position", "")
	if resp.StatusCode != http.StatusOK || body["calibrated"] != true {
		t.Fatalf("position = %d %v", resp.StatusCode, body)
	}
	p := body["position_percent"].(float64)
	if p < 0 || p > 100 {
		t.Fatalf("position_percent = %v", p)
	}
	if _, ok := body["reference_percent"]; ok {
		t.Fatalf("reference reported without an input: %v", body)
	}
}

func TestActuation(t *testing.T) {
	srv, _ := newTestServer(t, false, config.ModeManual)
	tests := []struct {
		name    string
		body    string
		status  int
		clamped bool
	}{
		{"inside", `{"angle": 12}`, http.StatusOK, false},
		{"clamped", `{"angle": -45}`, http.StatusOK, true},
		{"missing", `{}`, http.StatusBadRequest, false},
		{"malformed", `{angle`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, "PUT", srv.URL+"/actuation", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.status, body)
			}
			if tt.status == http.StatusOK && body["clamped"] != tt.clamped {
				t.Fatalf("clamped = %v, want %v", body["clamped"], tt.clamped)
			}
		})
	}

	_, body := do(t, "GET", srv.URL+"/position", "")
	if body["angle_deg"] != float64(-30) || body["servo_command"] != float64(125) {
		t.Fatalf("position after actuation = %v", body)
	}
}

func TestReference(t *testing.T) {
	srv, _ := newTestServer(t, false, config.ModeManual)
	resp, _ := do(t, "GET", srv.URL+"/reference", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status without reference = %d", resp.StatusCode)
	}

	srv, _ = newTestServer(t, true, config.ModeHold)
	resp, body := do(t, "GET", srv.URL+"/reference", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := body["reference_percent"].(float64); got < 49.99 || got > 50.01 {
		t.Fatalf("reference = %v", got)
	}
	_, body = do(t, "GET", srv.URL+"/position", "")
	if _, ok := body["reference_percent"]; !ok {
		t.Fatalf("position without reference: %v", body)
	}
}

func TestMetricsAndMethods(t *testing.T) {
	srv, _ := newTestServer(t, false, config.ModeManual)
	do(t, "PUT", srv.URL+"/actuation", `{"angle": 90}`)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "bob_actuation_clamped_total 1") {
		t.Fatalf("metrics missing clamp counter:\n%s", buf.String())
	}

	resp2, _ := do(t, "GET", srv.URL+"/calibrate", "")
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /calibrate = %d", resp2.StatusCode)
	}
}

func TestActuationFollowsMode(t *testing.T) {
	tests := []struct {
		name      string
		reference bool
		mode      string
		status    int
	}{
		{"manual with reference", true, config.ModeManual, http.StatusConflict},
		{"manual without reference", false, config.ModeManual, http.StatusOK},
		{"hold with reference", true, config.ModeHold, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.reference, tt.mode)
			resp, body := do(t, "PUT", srv.URL+"/actuation", `{"angle": 10}`)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.status, body)
			}
			_, pos := do(t, "GET", srv.URL+"/position", "")
			if tt.status == http.StatusConflict {
				if pos["angle_deg"] != float64(0) {
					t.Fatalf("angle written despite conflict: %v", pos)
				}
				return
			}
			if body["mode"] != tt.mode || pos["angle_deg"] != float64(10) {
				t.Fatalf("body = %v position = %v", body, pos)
			}
		})
	}
}
