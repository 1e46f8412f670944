package sensor

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01
)

// ADS1115 reads one single-ended channel of an ADS1115 converter. On the
// shield it samples the reference potentiometer.
type ADS1115 struct {
	dev        *i2c.Dev
	channel    int
	sampleRate int
	pgaFS      float64
}

func NewADS1115(bus i2c.Bus, addr uint16, channel, sampleRate int) (*ADS1115, error) {
	s := &ADS1115{dev: &i2c.Dev{Addr: addr, Bus: bus}, channel: channel, sampleRate: sampleRate, pgaFS: 4.096}
	if _, _, err := s.configForChannel(channel, sampleRate); err != nil {
		return nil, err
	}
	return s, nil
}

// Close is a no-op; the bus belongs to the caller.
func (s *ADS1115) Close() error { return nil }

// ReadVoltage runs a single-shot conversion and returns the input voltage.
func (s *ADS1115) ReadVoltage() (float64, error) {
	msb, lsb, err := s.configForChannel(s.channel, s.sampleRate)
	if err != nil {
		return 0, err
	}
	// write config
	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, errors.Wrap(err, "write config")
	}
	// wait for conversion (simple sleep)
	delayMs := int(1000.0/float64(s.sampleRate)) + 2
	time.Sleep(time.Duration(delayMs) * time.Millisecond)
	readBuf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, errors.Wrap(err, "read conv")
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	return float64(raw) * s.pgaFS / 32768.0, nil
}

func (s *ADS1115) configForChannel(channel, sampleRate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, errors.Errorf("invalid channel %d", channel)
	}
	// PGA: use ±4.096V -> bits 001
	pga := byte(0x1)
	// data rate bits
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(mux) << 12
	config |= uint16(pga) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	// comparator default: disabled (bits 1:0 = 11)
	config |= 0x3
	return byte(config >> 8), byte(config & 0xFF), nil
}
