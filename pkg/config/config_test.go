package config

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseKeyIntMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]int
		ok   bool
	}{
		{"", map[string]int{}, true},
		{"console=1000,mqtt=5000", map[string]int{"console": 1000, "mqtt": 5000}, true},
		{" Console = 250 , kafka=10", map[string]int{"console": 250, "kafka": 10}, true},
		{"bad", nil, false},
		{"mqtt=fast", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyIntMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyIntMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyIntMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseIntOrHex(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"41", 41, true},
		{"0x29", 0x29, true},
		{"0X40", 0x40, true},
		{"0xZZ", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, err := parseIntOrHex(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseIntOrHex(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("parseIntOrHex(%q) = %d; want %d", tt.in, got, tt.want)
		}
	}
}

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return f.Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Calibration.Samples != 100 || cfg.Calibration.SettleMs != 1000 || cfg.Calibration.SampleDelayMs != 10 {
		t.Fatalf("calibration defaults: %+v", cfg.Calibration)
	}
	if cfg.Calibration.DefaultOffset != 7 || cfg.Calibration.ZeroCompensation != 0 {
		t.Fatalf("offset defaults: %+v", cfg.Calibration)
	}
	if cfg.Sensor.Address != 0x29 || cfg.Servo.Address != 0x40 {
		t.Fatalf("address defaults: sensor=%#x servo=%#x", cfg.Sensor.Address, cfg.Servo.Address)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	js := `{
        "i2c_bus": "2",
        "sensor": {"type": "simulation", "address": 41},
        "servo": {"type": "simulation", "channel": 3, "min_pulse_us": 500, "max_pulse_us": 2500, "frequency_hz": 50},
        "reference": {"type": "none"},
        "calibration": {"at_startup": true, "samples": 20, "settle_ms": 5, "sample_delay_ms": 1, "zero_compensation": 2},
        "outputs": [{"type": "console"}, {"type": "mqtt", "mqtt": {"server": "tcp://broker:1883", "state_topic": "bob/state"}}],
        "interval_ms": 20,
        "mode": "hold"
    }`
	path := filepath.Join(t.TempDir(), "bob.json")
	if err := os.WriteFile(path, []byte(js), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(t,
		"-config", path,
		"-servo-channel", "5",
		"-calibrate=false",
		"-zero-compensation", "-3",
		"-output-intervals", "console=500",
		"-mqtt-command-topic", "bob/angle",
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.I2CBus != "2" || cfg.Sensor.Type != TypeSimulation || cfg.Mode != ModeHold {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Servo.Channel != 5 {
		t.Fatalf("servo channel: got %d want 5", cfg.Servo.Channel)
	}
	if cfg.Calibration.AtStartup {
		t.Fatalf("calibrate flag did not override file")
	}
	if cfg.Calibration.ZeroCompensation != -3 || cfg.Calibration.Samples != 20 {
		t.Fatalf("calibration: %+v", cfg.Calibration)
	}
	if cfg.Outputs[0].IntervalMs != 500 {
		t.Fatalf("console interval: got %d want 500", cfg.Outputs[0].IntervalMs)
	}
	if cfg.Outputs[1].IntervalMs != 20 {
		t.Fatalf("mqtt interval default: got %d want 20", cfg.Outputs[1].IntervalMs)
	}
	if cfg.Outputs[1].MQTT.CommandTopic != "bob/angle" || cfg.Outputs[1].MQTT.StateTopic != "bob/state" {
		t.Fatalf("mqtt config: %+v", cfg.Outputs[1].MQTT)
	}
	if cfg.ReferenceEnabled() {
		t.Fatalf("reference should be disabled")
	}
}

func TestLoadCreatesOutputsFromFlags(t *testing.T) {
	cfg, err := load(t,
		"-outputs", "console",
		"-kafka-brokers", "k1:9092, k2:9092",
		"-kafka-topic", "bob.samples",
		"-serial-port", "/dev/ttyUSB0",
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Outputs) != 3 {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	k := cfg.Outputs[1]
	if k.Type != "kafka" || !reflect.DeepEqual(k.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) || k.Kafka.Topic != "bob.samples" {
		t.Fatalf("kafka output: %+v %+v", k, k.Kafka)
	}
	if s := cfg.Outputs[2]; s.Type != "serial" || s.Serial.Port != "/dev/ttyUSB0" {
		t.Fatalf("serial output: %+v", s)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"sensor type", func(c *Config) { c.Sensor.Type = "hc-sr04" }, false},
		{"servo channel", func(c *Config) { c.Servo.Channel = 16 }, false},
		{"pulse range", func(c *Config) { c.Servo.MaxPulseUs = c.Servo.MinPulseUs }, false},
		{"sample rate", func(c *Config) { c.Reference.SampleRate = 100 }, false},
		{"reference none skips rate", func(c *Config) { c.Reference.Type = ReferenceNone; c.Reference.SampleRate = 100 }, true},
		{"samples", func(c *Config) { c.Calibration.Samples = 0 }, false},
		{"mode", func(c *Config) { c.Mode = "auto" }, false},
		{"mqtt without server", func(c *Config) { c.Outputs = []OutputConfig{{Type: "mqtt"}} }, false},
		{"unknown output", func(c *Config) { c.Outputs = []OutputConfig{{Type: "influx"}} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate() err=%v, want ok=%v", err, tt.ok)
			}
		})
	}
}
