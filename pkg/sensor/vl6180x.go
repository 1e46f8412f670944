package sensor

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
)

const (
	vl6180xModelID = 0xB4

	regModelID              = 0x000
	regInterruptClear       = 0x015
	regFreshOutOfReset      = 0x016
	regRangeStart           = 0x018
	regResultRangeStatus    = 0x04d
	regResultInterruptGPIO  = 0x04f
	regResultRangeVal       = 0x062
	rangeStatusDeviceReady  = 0x01
	interruptNewSampleReady = 0x04
	interruptClearAll       = 0x07
)

// ErrNotFound is returned when no VL6180X answers at the configured address.
var ErrNotFound = errors.New("vl6180x: sensor not found")

type regValue struct {
	reg uint16
	val byte
}

// vl6180xSettings is the register set recommended by ST in AN4545, private
// registers first, then the public defaults.
var vl6180xSettings = []regValue{
	{0x0207, 0x01}, {0x0208, 0x01}, {0x0096, 0x00}, {0x0097, 0xfd},
	{0x00e3, 0x00}, {0x00e4, 0x04}, {0x00e5, 0x02}, {0x00e6, 0x01},
	{0x00e7, 0x03}, {0x00f5, 0x02}, {0x00d9, 0x05}, {0x00db, 0xce},
	{0x00dc, 0x03}, {0x00dd, 0xf8}, {0x009f, 0x00}, {0x00a3, 0x3c},
	{0x00b7, 0x00}, {0x00bb, 0x3c}, {0x00b2, 0x09}, {0x00ca, 0x09},
	{0x0198, 0x01}, {0x01b0, 0x17}, {0x01ad, 0x00}, {0x00ff, 0x05},
	{0x0100, 0x05}, {0x0199, 0x05}, {0x01a6, 0x1b}, {0x01ac, 0x3e},
	{0x01a7, 0x1f}, {0x0030, 0x00},

	{0x0011, 0x10}, // GPIO1 new sample ready interrupt
	{0x010a, 0x30}, // range averaging period
	{0x003f, 0x46}, // ALS analogue gain
	{0x0031, 0xFF}, // auto calibration period
	{0x0040, 0x63}, // ALS integration time 100ms
	{0x002e, 0x01}, // range temperature calibration
	{0x001b, 0x09}, // range inter-measurement period
	{0x003e, 0x31}, // ALS inter-measurement period
	{0x0014, 0x24}, // interrupt config: new sample ready
}

// VL6180X is the time-of-flight range sensor mounted at the end of the beam.
type VL6180X struct {
	dev          *i2c.Dev
	pollInterval time.Duration
	timeout      time.Duration
}

// NewVL6180X probes the sensor and loads its settings. A missing sensor
// yields an error wrapping ErrNotFound.
func NewVL6180X(bus i2c.Bus, addr uint16) (*VL6180X, error) {
	s := &VL6180X{
		dev:          &i2c.Dev{Addr: addr, Bus: bus},
		pollInterval: time.Millisecond,
		timeout:      100 * time.Millisecond,
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *VL6180X) begin() error {
	id, err := s.readReg(regModelID)
	if err != nil {
		return errors.Wrapf(ErrNotFound, "read model id: %v", err)
	}
	if id != vl6180xModelID {
		return errors.Wrapf(ErrNotFound, "unexpected model id %#02x", id)
	}
	for _, rv := range vl6180xSettings {
		if err := s.writeReg(rv.reg, rv.val); err != nil {
			return errors.Wrapf(err, "load setting %#04x", rv.reg)
		}
	}
	return errors.Wrap(s.writeReg(regFreshOutOfReset, 0x00), "clear fresh out of reset")
}

// ReadRange runs one single-shot measurement and returns the range in mm.
// The range status register is not interpreted.
func (s *VL6180X) ReadRange() (uint16, error) {
	if err := s.waitFor(regResultRangeStatus, rangeStatusDeviceReady); err != nil {
		return 0, errors.Wrap(err, "wait device ready")
	}
	if err := s.writeReg(regRangeStart, 0x01); err != nil {
		return 0, errors.Wrap(err, "start range")
	}
	if err := s.waitFor(regResultInterruptGPIO, interruptNewSampleReady); err != nil {
		return 0, errors.Wrap(err, "wait sample")
	}
	v, err := s.readReg(regResultRangeVal)
	if err != nil {
		return 0, errors.Wrap(err, "read range")
	}
	if err := s.writeReg(regInterruptClear, interruptClearAll); err != nil {
		return 0, errors.Wrap(err, "clear interrupts")
	}
	return uint16(v), nil
}

// Close is a no-op; the bus belongs to the caller.
func (s *VL6180X) Close() error { return nil }

func (s *VL6180X) waitFor(reg uint16, mask byte) error {
	deadline := time.Now().Add(s.timeout)
	for {
		v, err := s.readReg(reg)
		if err != nil {
			return err
		}
		if v&mask != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("vl6180x: timeout polling register %#04x", reg)
		}
		time.Sleep(s.pollInterval)
	}
}

func (s *VL6180X) readReg(reg uint16) (byte, error) {
	buf := []byte{0}
	if err := s.dev.Tx([]byte{byte(reg >> 8), byte(reg)}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (s *VL6180X) writeReg(reg uint16, val byte) error {
	return s.dev.Tx([]byte{byte(reg >> 8), byte(reg), val}, nil)
}
