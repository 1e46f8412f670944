/*
bobshield drives the ball-on-beam shield: a VL6180X range sensor measuring
the ball, a servo tilting the beam through a PCA9685 and an ADS1115 reading
the reference potentiometer.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/pkg/errors"

	"github.com/ericogr/bobshield/pkg/config"
	"github.com/ericogr/bobshield/pkg/output"
	"github.com/ericogr/bobshield/pkg/output/console"
	"github.com/ericogr/bobshield/pkg/output/kafka"
	"github.com/ericogr/bobshield/pkg/output/mqtt"
	"github.com/ericogr/bobshield/pkg/output/serial"
)

const defaultIntervalMs = 50

func main() {
	var (
		out    = os.Stdout
		errOut = os.Stderr
	)

	rootCmd := newRootCmd()
	rootCmd.Subcommands = []*ffcli.Command{
		newRunCmd(out),
		newCalibrateCmd(out),
		newActuateCmd(out),
		newReadCmd(out),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(errOut, "%s: %v\n", rootCmd.Name, err)
		os.Exit(1)
	}
}

type outputEntry struct {
	Type       string
	Output     output.Output
	IntervalMs int
	next       time.Time
}

type outputFactory func(config.OutputConfig, mqtt.CommandFunc) (output.Output, error)

var outputFactories = map[string]outputFactory{
	output.TypeConsole: func(config.OutputConfig, mqtt.CommandFunc) (output.Output, error) {
		return console.NewConsole(), nil
	},
	output.TypeMQTT: func(o config.OutputConfig, onCommand mqtt.CommandFunc) (output.Output, error) {
		if o.MQTT == nil {
			return nil, errors.New("mqtt output requires mqtt settings")
		}
		return mqtt.NewMQTT(*o.MQTT, onCommand)
	},
	output.TypeKafka: func(o config.OutputConfig, _ mqtt.CommandFunc) (output.Output, error) {
		if o.Kafka == nil {
			return nil, errors.New("kafka output requires kafka settings")
		}
		return kafka.NewKafka(*o.Kafka)
	},
	output.TypeSerial: func(o config.OutputConfig, _ mqtt.CommandFunc) (output.Output, error) {
		if o.Serial == nil {
			return nil, errors.New("serial output requires serial settings")
		}
		return serial.NewSerial(*o.Serial)
	},
}

// initOutputs builds every configured output. Outputs without an interval
// get defaultInterval, written back into cfg. On error the outputs already
// opened are closed.
func initOutputs(cfg *config.Config, defaultInterval int, onCommand mqtt.CommandFunc) ([]*outputEntry, error) {
	entries := make([]*outputEntry, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		o := &cfg.Outputs[i]
		if o.IntervalMs <= 0 {
			o.IntervalMs = defaultInterval
		}
		factory, ok := outputFactories[o.Type]
		if !ok {
			closeOutputs(entries)
			return nil, errors.Errorf("unknown output type %q", o.Type)
		}
		out, err := factory(*o, onCommand)
		if err != nil {
			closeOutputs(entries)
			return nil, errors.Wrapf(err, "%s output", o.Type)
		}
		entries = append(entries, &outputEntry{Type: o.Type, Output: out, IntervalMs: o.IntervalMs})
	}
	return entries, nil
}

func closeOutputs(entries []*outputEntry) {
	for _, e := range entries {
		_ = e.Output.Close()
	}
}

// computeSampleInterval returns the loop period in ms: the control interval,
// shortened when an output wants samples more often.
func computeSampleInterval(cfg config.Config) int {
	interval := cfg.IntervalMs
	if interval <= 0 {
		interval = defaultIntervalMs
	}
	for _, o := range cfg.Outputs {
		if o.IntervalMs > 0 && o.IntervalMs < interval {
			interval = o.IntervalMs
		}
	}
	return interval
}
