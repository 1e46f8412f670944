package main

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/pkg/errors"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
)

type actuateConfig struct {
	flags *config.Flags
	angle float64
	out   io.Writer
}

func newActuateCmd(out io.Writer) *ffcli.Command {
	fs, flags := newSubcommand("actuate")
	c := &actuateConfig{flags: flags, out: out}
	fs.Float64Var(&c.angle, "angle", math.NaN(), "beam angle in degrees, clamped to ±30")
	return &ffcli.Command{
		Name:       "actuate",
		ShortUsage: "bobshield actuate -angle <deg> [flags]",
		ShortHelp:  "Tilt the beam once.",
		FlagSet:    fs,
		Options:    envOptions,
		Exec:       c.Exec,
	}
}

func (c *actuateConfig) Exec(ctx context.Context, _ []string) error {
	if math.IsNaN(c.angle) {
		return errors.New("-angle is required")
	}
	cfg, err := loadConfig(c.flags)
	if err != nil {
		return err
	}
	sh, err := openShield(cfg)
	if err != nil {
		return err
	}
	defer sh.Close()

	if err := sh.driver.WriteActuation(c.angle); err != nil {
		return err
	}
	cmd, clamped := bob.Command(c.angle, cfg.Calibration.ZeroCompensation)
	fmt.Fprintf(c.out, "angle=%g servo=%d clamped=%t\n", c.angle, cmd, clamped)
	return nil
}
