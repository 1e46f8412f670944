package bob

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/bobshield/pkg/actuator"
	"github.com/ericogr/bobshield/pkg/metrics"
	"github.com/ericogr/bobshield/pkg/sensor"
)

const (
	DefaultOffset      = 7
	DefaultSamples     = 100
	DefaultSettleDelay = time.Second
	DefaultSampleDelay = 10 * time.Millisecond
)

// ErrNoReference is returned by ReadReference when no input is configured.
var ErrNoReference = errors.New("bob: no reference input configured")

// Options configure a Driver. Zero fields take the value from
// DefaultOptions; use NoDelay to calibrate without waiting.
type Options struct {
	// Reference is the optional potentiometer input.
	Reference sensor.AnalogInput
	// ReferenceVolts is the input voltage read as 100%.
	ReferenceVolts float64

	Samples     int
	SettleDelay time.Duration
	SampleDelay time.Duration

	// ZeroCompensation is added to the mapped servo command.
	ZeroCompensation float64
	// DefaultOffset is subtracted from readings until calibrated. Nil means
	// the shield default of 7 mm.
	DefaultOffset *float64

	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// NoDelay disables a settle or sample delay.
const NoDelay time.Duration = -1

func DefaultOptions() Options {
	offset := float64(DefaultOffset)
	return Options{
		ReferenceVolts: 3.3,
		Samples:        DefaultSamples,
		SettleDelay:    DefaultSettleDelay,
		SampleDelay:    DefaultSampleDelay,
		DefaultOffset:  &offset,
	}
}

// withDefaults fills the zero fields of o from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ReferenceVolts <= 0 {
		o.ReferenceVolts = def.ReferenceVolts
	}
	if o.Samples <= 0 {
		o.Samples = def.Samples
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = def.SettleDelay
	}
	if o.SampleDelay == 0 {
		o.SampleDelay = def.SampleDelay
	}
	if o.DefaultOffset == nil {
		o.DefaultOffset = def.DefaultOffset
	}
	return o
}

// Sample is one snapshot of the shield.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Raw        uint16    `json:"raw_mm"`
	Position   float64   `json:"position_mm"`
	Percent    float64   `json:"position_percent"`
	Reference  *float64  `json:"reference_percent,omitempty"`
	Angle      int       `json:"angle_deg"`
	Command    int       `json:"servo_command"`
	Calibrated bool      `json:"calibrated"`
}

// Driver owns the calibration bounds of one shield together with its sensor
// and servo. All methods are safe for concurrent use; Calibrate holds the
// driver for the whole sweep.
type Driver struct {
	mu      sync.Mutex
	sensor  sensor.RangeSensor
	servo   actuator.Servo
	opts    Options
	offset0 float64
	bounds  Bounds
	angle   int
	command int
	log     logrus.FieldLogger
	sleep   func(context.Context, time.Duration) error
}

// New builds a driver for one shield. Callers normally start from
// DefaultOptions; zero fields of opts are filled from it.
func New(s sensor.RangeSensor, servo actuator.Servo, opts Options) *Driver {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts = opts.withDefaults()
	return &Driver{
		sensor:  s,
		servo:   servo,
		opts:    opts,
		offset0: *opts.DefaultOffset,
		bounds:  DefaultBounds(),
		log:     log.WithField("component", "bob"),
		sleep:   sleepContext,
	}
}

// Bounds returns a copy of the current calibration bounds.
func (d *Driver) Bounds() Bounds {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bounds
}

// Calibrate tilts the beam to both limits and records the lowest and highest
// readings. Bounds only ever widen; on error they are left untouched and the
// beam is levelled.
func (d *Driver) Calibrate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.log.Info("calibration is running")
	b, err := d.calibrate(ctx)
	d.opts.Metrics.Calibrated(b.Min, b.Max, err)
	if err != nil {
		if werr := d.write(0); werr != nil {
			d.log.WithError(werr).Warn("failed to level the beam")
		}
		d.log.WithError(err).Error("calibration failed")
		return err
	}
	d.bounds = b
	d.log.WithFields(logrus.Fields{"min_mm": b.Min, "max_mm": b.Max}).Info("calibration finished")
	return nil
}

func (d *Driver) calibrate(ctx context.Context) (Bounds, error) {
	b := d.bounds

	// ball rolls toward the sensor
	if err := d.write(MinAngle); err != nil {
		return b, err
	}
	err := d.sweep(ctx, func(v float64) {
		if v < b.Min {
			b.Min = v
		}
	})
	if err != nil {
		return b, errors.Wrap(err, "minimum sweep")
	}

	if err := d.write(MaxAngle); err != nil {
		return b, err
	}
	err = d.sweep(ctx, func(v float64) {
		if v > b.Max {
			b.Max = v
		}
	})
	if err != nil {
		return b, errors.Wrap(err, "maximum sweep")
	}

	if err := d.write(0); err != nil {
		return b, err
	}
	b.Calibrated = true
	return b, nil
}

func (d *Driver) sweep(ctx context.Context, track func(float64)) error {
	if err := d.sleep(ctx, d.opts.SettleDelay); err != nil {
		return err
	}
	for i := 0; i < d.opts.Samples; i++ {
		raw, err := d.readRange()
		if err != nil {
			return err
		}
		track(float64(raw))
		if err := d.sleep(ctx, d.opts.SampleDelay); err != nil {
			return err
		}
	}
	return nil
}

// ReadPosition returns the ball distance relative to the learned minimum, or
// to the default offset before calibration.
func (d *Driver) ReadPosition() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.readRange()
	if err != nil {
		return 0, err
	}
	pos := d.offset(float64(raw))
	d.log.WithFields(logrus.Fields{"raw": raw, "position": pos}).Debug("position read")
	return pos, nil
}

// ReadPositionPercent returns the ball position in percent of the
// calibrated range.
func (d *Driver) ReadPositionPercent() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.readRange()
	if err != nil {
		return 0, err
	}
	return d.percent(float64(raw)), nil
}

// Sample reads the sensor once and reports both position forms.
func (d *Driver) Sample() (Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.readRange()
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Timestamp:  time.Now(),
		Raw:        raw,
		Position:   d.offset(float64(raw)),
		Percent:    d.percent(float64(raw)),
		Angle:      d.angle,
		Command:    d.command,
		Calibrated: d.bounds.Calibrated,
	}, nil
}

// WriteActuation tilts the beam. Angles beyond ±30° are clamped.
func (d *Driver) WriteActuation(angle float64) error {
	if math.IsNaN(angle) {
		return errors.New("bob: angle is NaN")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(angle)
}

// ReadReference returns the potentiometer position in percent.
func (d *Driver) ReadReference() (float64, error) {
	if d.opts.Reference == nil {
		return 0, ErrNoReference
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.opts.Reference.ReadVoltage()
	if err != nil {
		return 0, errors.Wrap(err, "read reference")
	}
	p := v / d.opts.ReferenceVolts * 100
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	return p, nil
}

func (d *Driver) write(angle float64) error {
	cmd, clamped := Command(angle, d.opts.ZeroCompensation)
	if clamped {
		d.opts.Metrics.ActuationClamped()
		d.log.WithField("angle", angle).Debug("actuation clamped")
	}
	if err := d.servo.Write(cmd); err != nil {
		return errors.Wrap(err, "write servo")
	}
	d.angle, _ = clampDegrees(angle)
	d.command = cmd
	d.opts.Metrics.ServoCommand(cmd)
	return nil
}

func (d *Driver) readRange() (uint16, error) {
	raw, err := d.sensor.ReadRange()
	if err != nil {
		d.opts.Metrics.SensorError()
		return 0, errors.Wrap(err, "read range")
	}
	return raw, nil
}

func (d *Driver) offset(raw float64) float64 {
	if d.bounds.Calibrated {
		return raw - d.bounds.Min
	}
	return raw - d.offset0
}

func (d *Driver) percent(raw float64) float64 {
	p, clamped := Percent(raw, d.bounds)
	if clamped {
		d.opts.Metrics.PositionClamped()
	}
	d.opts.Metrics.Position(p)
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
