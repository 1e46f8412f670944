package sensor

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// RangeSensor measures the distance to the ball in millimetres.
type RangeSensor interface {
	ReadRange() (uint16, error)
	Close() error
}

// AnalogInput reads a single analog channel as a voltage.
type AnalogInput interface {
	ReadVoltage() (float64, error)
	Close() error
}

// OpenBus initialises the host drivers and opens the named I2C bus. The
// caller owns the returned bus; devices created on it do not close it.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host init")
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "open i2c")
	}
	return bus, nil
}
