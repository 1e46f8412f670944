package serial

import (
	"bytes"
	"testing"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
)

type bufPort struct {
	bytes.Buffer
	closed bool
}

func (p *bufPort) Close() error {
	p.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	ref := 37.5
	tests := []struct {
		name   string
		sample bob.Sample
		want   string
	}{
		{"with reference", bob.Sample{Percent: 50, Reference: &ref, Angle: -8, Raw: 250}, "pos: 50.00 %, ref: 37.50 %, angle: -8, raw: 250\r\n"},
		{"without reference", bob.Sample{Percent: 12.5, Angle: 30, Raw: 99}, "pos: 12.50 %, angle: 30, raw: 99\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &bufPort{}
			s := &SerialOutput{port: p}
			if err := s.Publish(tt.sample); err != nil {
				t.Fatal(err)
			}
			if got := p.String(); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			if err := s.Close(); err != nil || !p.closed {
				t.Fatalf("close: %v closed=%v", err, p.closed)
			}
		})
	}
}

func TestNewSerialMissingPort(t *testing.T) {
	if _, err := NewSerial(config.SerialConfig{Port: "/dev/bobshield-does-not-exist"}); err == nil {
		t.Fatal("expected error opening a missing port")
	}
}
