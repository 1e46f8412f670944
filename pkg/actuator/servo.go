package actuator

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
)

// Servo accepts commands in native servo degrees, 0..180. Close must not
// move the servo.
type Servo interface {
	Write(command int) error
	Close() error
}

// Releaser is implemented by servos that can stop holding their position.
type Releaser interface {
	Release() error
}

const (
	MinCommand = 0
	MaxCommand = 180

	pwmResolution = 4096
)

type pwmWriter interface {
	SetPwm(channel int, on, off gpio.Duty) error
}

// PCA9685Servo drives one hobby servo from a PCA9685 PWM channel.
type PCA9685Servo struct {
	pwm      pwmWriter
	channel  int
	minPulse time.Duration
	maxPulse time.Duration
	period   time.Duration
}

func NewPCA9685Servo(bus i2c.Bus, addr uint16, channel int, minPulse, maxPulse time.Duration, freqHz int) (*PCA9685Servo, error) {
	if freqHz <= 0 {
		return nil, errors.Errorf("pca9685: invalid frequency %d Hz", freqHz)
	}
	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		return nil, errors.Wrap(err, "pca9685: init")
	}
	if err := dev.SetPwmFreq(physic.Frequency(freqHz) * physic.Hertz); err != nil {
		return nil, errors.Wrap(err, "pca9685: set frequency")
	}
	return newPCA9685Servo(dev, channel, minPulse, maxPulse, time.Second/time.Duration(freqHz)), nil
}

func newPCA9685Servo(pwm pwmWriter, channel int, minPulse, maxPulse, period time.Duration) *PCA9685Servo {
	return &PCA9685Servo{pwm: pwm, channel: channel, minPulse: minPulse, maxPulse: maxPulse, period: period}
}

// Write moves the servo. Commands outside 0..180 are clamped like the
// Arduino Servo library does.
func (s *PCA9685Servo) Write(command int) error {
	if err := s.pwm.SetPwm(s.channel, 0, s.duty(command)); err != nil {
		return errors.Wrapf(err, "pca9685: write channel %d", s.channel)
	}
	return nil
}

// Close leaves the last pulse running so the servo keeps holding the beam.
// The bus belongs to the caller.
func (s *PCA9685Servo) Close() error { return nil }

// Release stops the pulses; the servo no longer holds its position.
func (s *PCA9685Servo) Release() error {
	return errors.Wrapf(s.pwm.SetPwm(s.channel, 0, 0), "pca9685: release channel %d", s.channel)
}

func (s *PCA9685Servo) duty(command int) gpio.Duty {
	if command < MinCommand {
		command = MinCommand
	} else if command > MaxCommand {
		command = MaxCommand
	}
	pulse := s.minPulse + (s.maxPulse-s.minPulse)*time.Duration(command)/MaxCommand
	counts := math.Round(float64(pulse) * pwmResolution / float64(s.period))
	return gpio.Duty(counts)
}
