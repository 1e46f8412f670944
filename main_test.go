package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
	"github.com/ericogr/bobshield/pkg/sensor"
)

func simulationConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Sensor.Type = config.TypeSimulation
	cfg.Servo.Type = config.TypeSimulation
	cfg.Reference.Type = config.TypeSimulation
	cfg.Calibration.Samples = 10
	cfg.Calibration.SettleMs = 0
	cfg.Calibration.SampleDelayMs = 0
	return cfg
}

type recordOutput struct {
	samples []bob.Sample
	err     error
	closed  bool
}

func (r *recordOutput) Publish(s bob.Sample) error {
	r.samples = append(r.samples, s)
	return r.err
}

func (r *recordOutput) Close() error {
	r.closed = true
	return nil
}

func TestComputeSampleInterval(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want int
	}{
		{"fallback", config.Config{}, defaultIntervalMs},
		{"control interval", config.Config{IntervalMs: 40, Outputs: []config.OutputConfig{{Type: "console", IntervalMs: 1000}}}, 40},
		{"faster output", config.Config{IntervalMs: 100, Outputs: []config.OutputConfig{{Type: "console", IntervalMs: 1000}, {Type: "mqtt", IntervalMs: 20}}}, 20},
		{"unset output interval", config.Config{IntervalMs: 100, Outputs: []config.OutputConfig{{Type: "console"}}}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeSampleInterval(tt.cfg); got != tt.want {
				t.Fatalf("got %d want %d", got, tt.want)
			}
		})
	}
}

func TestInitOutputsSetsInterval(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "console", IntervalMs: 500}}}
	entries, err := initOutputs(&cfg, 123, nil)
	if err != nil {
		t.Fatalf("initOutputs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries len: %d", len(entries))
	}
	if cfg.Outputs[0].IntervalMs != 123 {
		t.Fatalf("cfg output interval not set, got %d", cfg.Outputs[0].IntervalMs)
	}
	if entries[0].IntervalMs != 123 || entries[1].IntervalMs != 500 {
		t.Fatalf("entry intervals = %d, %d", entries[0].IntervalMs, entries[1].IntervalMs)
	}
}

func TestInitOutputsErrors(t *testing.T) {
	tests := []struct {
		name string
		outs []config.OutputConfig
	}{
		{"unknown", []config.OutputConfig{{Type: "console"}, {Type: "carrier-pigeon"}}},
		{"mqtt without settings", []config.OutputConfig{{Type: "mqtt"}}},
		{"kafka without brokers", []config.OutputConfig{{Type: "kafka", Kafka: &config.KafkaConfig{Topic: "bob"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{Outputs: tt.outs}
			if _, err := initOutputs(&cfg, 100, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOpenShieldSimulation(t *testing.T) {
	sh, err := openShield(simulationConfig())
	if err != nil {
		t.Fatalf("openShield: %v", err)
	}
	defer sh.Close()

	s, err := readSample(context.Background(), sh.driver, true)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Calibrated || s.Command != 95 || s.Reference == nil {
		t.Fatalf("sample = %+v", s)
	}
	if *s.Reference < 49.99 || *s.Reference > 50.01 {
		t.Fatalf("reference = %v, want 50", *s.Reference)
	}
}

func TestStep(t *testing.T) {
	sh, err := openShield(simulationConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Close()

	fast := &recordOutput{}
	slow := &recordOutput{err: errors.New("broker down")}
	entries := []*outputEntry{
		{Type: "fast", Output: fast, IntervalMs: 10},
		{Type: "slow", Output: slow, IntervalMs: 1000},
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		step(sh.driver, config.ModeManual, entries, start.Add(time.Duration(i)*10*time.Millisecond))
	}
	if len(fast.samples) != 5 {
		t.Fatalf("fast output got %d samples, want 5", len(fast.samples))
	}
	if len(slow.samples) != 1 {
		t.Fatalf("slow output got %d samples, want 1", len(slow.samples))
	}
	// half-scale reference levels the beam in manual mode
	if got := fast.samples[4]; got.Angle != 0 || got.Command != 95 || got.Reference == nil {
		t.Fatalf("sample = %+v", got)
	}
}

func TestStepHoldKeepsAngle(t *testing.T) {
	sh, err := openShield(simulationConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Close()
	if err := sh.driver.WriteActuation(-12); err != nil {
		t.Fatal(err)
	}
	out := &recordOutput{}
	step(sh.driver, config.ModeHold, []*outputEntry{{Type: "rec", Output: out, IntervalMs: 10}}, time.Now())
	if len(out.samples) != 1 || out.samples[0].Angle != -12 {
		t.Fatalf("samples = %+v", out.samples)
	}
}

func TestSetupLogger(t *testing.T) {
	defer logrus.SetOutput(logrus.StandardLogger().Out)
	var buf bytes.Buffer
	cfg := config.DefaultConfig()
	cfg.LogFormat = "json"
	cfg.Verbose = true
	if err := setupLogger(cfg, &buf); err != nil {
		t.Fatal(err)
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v", logrus.GetLevel())
	}
	logrus.Debug("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"hello"`)) {
		t.Fatalf("log output = %s", buf.String())
	}

	cfg.LogFormat = "xml"
	if err := setupLogger(cfg, &buf); err == nil {
		t.Fatal("expected error for unknown format")
	}
	cfg.LogFormat = "text"
	cfg.LogLevel = "loud"
	if err := setupLogger(cfg, &buf); err == nil {
		t.Fatal("expected error for unknown level")
	}
	cfg.LogLevel = "info"
	cfg.Verbose = false
	_ = setupLogger(cfg, &buf)
}

func TestScheduleCalibration(t *testing.T) {
	sh, err := openShield(simulationConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Close()

	for _, s := range []string{"@hourly", "0 */5 * * * *", "*/10 * * * *"} {
		if _, err := scheduleCalibration(context.Background(), sh.driver, s); err != nil {
			t.Errorf("schedule %q: %v", s, err)
		}
	}
	if _, err := scheduleCalibration(context.Background(), sh.driver, "every tuesday"); err == nil {
		t.Fatal("expected error for an invalid schedule")
	}
}

type holdServo struct {
	writes   []int
	released bool
}

func (s *holdServo) Write(command int) error {
	s.writes = append(s.writes, command)
	return nil
}

func (s *holdServo) Close() error { return nil }

func (s *holdServo) Release() error {
	s.released = true
	return nil
}

func TestShieldCloseHoldsServo(t *testing.T) {
	servo := &holdServo{}
	sh := &shield{servo: servo, closers: []io.Closer{servo}}
	if err := sh.Close(); err != nil {
		t.Fatal(err)
	}
	if servo.released {
		t.Fatal("Close released the servo")
	}
	if err := sh.Release(); err != nil {
		t.Fatal(err)
	}
	if !servo.released {
		t.Fatal("Release did not reach the servo")
	}

	// servos without a release step are left alone
	sim := &shield{servo: sensor.NewFakeBeam()}
	if err := sim.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestDelay(t *testing.T) {
	if got := delay(0); got != bob.NoDelay {
		t.Fatalf("delay(0) = %v", got)
	}
	if got := delay(1000); got != time.Second {
		t.Fatalf("delay(1000) = %v", got)
	}
}
