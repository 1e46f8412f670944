package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"

	"github.com/ericogr/bobshield/pkg/actuator"
	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
	"github.com/ericogr/bobshield/pkg/metrics"
	"github.com/ericogr/bobshield/pkg/sensor"
)

const envPrefix = "BOBSHIELD"

var envOptions = []ff.Option{ff.WithEnvVarPrefix(envPrefix)}

func newRootCmd() *ffcli.Command {
	fs := flag.NewFlagSet("bobshield", flag.ExitOnError)
	return &ffcli.Command{
		Name:       "bobshield",
		ShortUsage: "bobshield <subcommand> [flags]",
		ShortHelp:  "Ball-on-beam shield driver.",
		FlagSet:    fs,
		Options:    envOptions,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
}

// newSubcommand registers the shared configuration flags on a fresh flag set.
func newSubcommand(name string) (*flag.FlagSet, *config.Flags) {
	fs := flag.NewFlagSet("bobshield "+name, flag.ExitOnError)
	return fs, config.RegisterFlags(fs)
}

func loadConfig(flags *config.Flags) (config.Config, error) {
	cfg, err := flags.Load()
	if err != nil {
		return cfg, errors.Wrap(err, "config")
	}
	if err := setupLogger(cfg, os.Stderr); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setupLogger(cfg config.Config, w io.Writer) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "failed to parse log level")
	}
	if cfg.Verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(w)
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return nil
}

// shield holds the driver and the hardware it was built from.
type shield struct {
	driver   *bob.Driver
	registry *prometheus.Registry
	servo    actuator.Servo
	closers  []io.Closer
}

// Release stops the servo pulses. Only a long-running command calls it on
// shutdown; one-shot commands leave the beam held at its last angle.
func (s *shield) Release() error {
	if r, ok := s.servo.(actuator.Releaser); ok {
		return r.Release()
	}
	return nil
}

func (s *shield) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openShield opens the bus (when any real device is configured), the sensor,
// the servo and the reference input, and builds the driver. The servo is left
// in the neutral position.
func openShield(cfg config.Config) (*shield, error) {
	s := &shield{registry: prometheus.NewRegistry()}
	log := logrus.WithField("component", "shield")

	var bus i2c.Bus
	if cfg.Sensor.Type != config.TypeSimulation || cfg.Servo.Type != config.TypeSimulation || cfg.Reference.Type == config.ReferenceADS1115 {
		b, err := sensor.OpenBus(cfg.I2CBus)
		if err != nil {
			return nil, errors.Wrapf(err, "open i2c bus %s", cfg.I2CBus)
		}
		s.closers = append(s.closers, b)
		bus = b
	}

	var beam *sensor.FakeBeam
	if cfg.Sensor.Type == config.TypeSimulation || cfg.Servo.Type == config.TypeSimulation {
		beam = sensor.NewFakeBeam()
	}

	var rs sensor.RangeSensor
	switch cfg.Sensor.Type {
	case config.SensorVL6180X:
		v, err := sensor.NewVL6180X(bus, uint16(cfg.Sensor.Address))
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(err, "failed to find sensor")
		}
		rs = v
	default:
		rs = beam
	}
	s.closers = append(s.closers, rs)

	var servo actuator.Servo
	switch cfg.Servo.Type {
	case config.ServoPCA9685:
		p, err := actuator.NewPCA9685Servo(bus, uint16(cfg.Servo.Address), cfg.Servo.Channel,
			time.Duration(cfg.Servo.MinPulseUs)*time.Microsecond,
			time.Duration(cfg.Servo.MaxPulseUs)*time.Microsecond,
			cfg.Servo.FrequencyHz)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(err, "failed to open servo")
		}
		servo = p
	default:
		servo = beam
	}
	s.servo = servo
	s.closers = append(s.closers, servo)

	opts := bob.DefaultOptions()
	switch cfg.Reference.Type {
	case config.ReferenceADS1115:
		a, err := sensor.NewADS1115(bus, uint16(cfg.Reference.Address), cfg.Reference.Channel, cfg.Reference.SampleRate)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(err, "failed to open reference input")
		}
		opts.Reference = a
		s.closers = append(s.closers, a)
	case config.TypeSimulation:
		opts.Reference = sensor.NewFakeAnalog(cfg.Reference.FullScaleVolts / 2)
	}
	if cfg.ReferenceEnabled() {
		opts.ReferenceVolts = cfg.Reference.FullScaleVolts
	}
	opts.Samples = cfg.Calibration.Samples
	opts.SettleDelay = delay(cfg.Calibration.SettleMs)
	opts.SampleDelay = delay(cfg.Calibration.SampleDelayMs)
	opts.ZeroCompensation = cfg.Calibration.ZeroCompensation
	offset := cfg.Calibration.DefaultOffset
	opts.DefaultOffset = &offset
	opts.Logger = logrus.StandardLogger()
	opts.Metrics = metrics.New(s.registry)

	s.driver = bob.New(rs, servo, opts)
	if err := s.driver.WriteActuation(0); err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "failed to level the beam")
	}
	log.WithFields(logrus.Fields{
		"sensor":    cfg.Sensor.Type,
		"servo":     cfg.Servo.Type,
		"reference": cfg.Reference.Type,
	}).Info("shield ready")
	return s, nil
}

// delay converts a configured millisecond delay; 0 means no wait.
func delay(ms int) time.Duration {
	if ms <= 0 {
		return bob.NoDelay
	}
	return time.Duration(ms) * time.Millisecond
}
