package sensor

import (
	"math"
	"math/rand"
	"sync"
)

// FakeBeam simulates the ball on the beam. It is both the range sensor and
// the servo: the last servo command tilts the beam and every read lets the
// ball roll a little further.
type FakeBeam struct {
	mu      sync.Mutex
	near    float64
	far     float64
	pos     float64
	command int
	neutral int
	gain    float64
	noise   float64
	rnd     *rand.Rand
}

func NewFakeBeam() *FakeBeam {
	return &FakeBeam{
		near:    15,
		far:     240,
		pos:     120,
		command: 95,
		neutral: 95,
		gain:    0.5,
		noise:   1.5,
		rnd:     rand.New(rand.NewSource(1)),
	}
}

// Write sets the servo command in native units.
func (f *FakeBeam) Write(command int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.command = command
	return nil
}

func (f *FakeBeam) ReadRange() (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// higher commands tilt the sensor end down
	tilt := float64(f.neutral - f.command)
	f.pos += tilt * f.gain
	if f.pos < f.near {
		f.pos = f.near
	} else if f.pos > f.far {
		f.pos = f.far
	}
	v := f.pos + f.noise*(f.rnd.Float64()*2-1)
	if v < 0 {
		v = 0
	}
	return uint16(math.Round(v)), nil
}

func (f *FakeBeam) Close() error { return nil }

// FakeAnalog is a settable voltage source standing in for the potentiometer.
type FakeAnalog struct {
	mu    sync.Mutex
	volts float64
}

func NewFakeAnalog(volts float64) *FakeAnalog {
	return &FakeAnalog{volts: volts}
}

func (f *FakeAnalog) Set(volts float64) {
	f.mu.Lock()
	f.volts = volts
	f.mu.Unlock()
}

func (f *FakeAnalog) ReadVoltage() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volts, nil
}

func (f *FakeAnalog) Close() error { return nil }
