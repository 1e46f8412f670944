package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/ericogr/bobshield/pkg/config"
)

type calibrateConfig struct {
	flags *config.Flags
	out   io.Writer
}

func newCalibrateCmd(out io.Writer) *ffcli.Command {
	fs, flags := newSubcommand("calibrate")
	c := &calibrateConfig{flags: flags, out: out}
	return &ffcli.Command{
		Name:       "calibrate",
		ShortUsage: "bobshield calibrate [flags]",
		ShortHelp:  "Sweep the beam to both limits and print the learned bounds.",
		FlagSet:    fs,
		Options:    envOptions,
		Exec:       c.Exec,
	}
}

func (c *calibrateConfig) Exec(ctx context.Context, _ []string) error {
	cfg, err := loadConfig(c.flags)
	if err != nil {
		return err
	}
	sh, err := openShield(cfg)
	if err != nil {
		return err
	}
	defer sh.Close()

	fmt.Fprintln(c.out, "Calibrating, keep the ball on the beam...")
	if err := sh.driver.Calibrate(ctx); err != nil {
		color.New(color.FgRed).Fprintf(c.out, "calibration failed: %v\n", err)
		return err
	}
	b := sh.driver.Bounds()
	bold := color.New(color.Bold)
	bold.Fprint(c.out, "min: ")
	color.New(color.FgGreen).Fprintf(c.out, "%.0f mm\n", b.Min)
	bold.Fprint(c.out, "max: ")
	color.New(color.FgGreen).Fprintf(c.out, "%.0f mm\n", b.Max)
	if b.Max-b.Min < 50 {
		color.New(color.FgYellow).Fprintln(c.out, "warning: the range is very narrow, check the ball and the sensor")
	}
	return nil
}
