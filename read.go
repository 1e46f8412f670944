package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/pkg/errors"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
)

type readConfig struct {
	flags *config.Flags
	out   io.Writer
}

func newReadCmd(out io.Writer) *ffcli.Command {
	fs, flags := newSubcommand("read")
	c := &readConfig{flags: flags, out: out}
	return &ffcli.Command{
		Name:       "read",
		ShortUsage: "bobshield read [flags]",
		ShortHelp:  "Print one sample as JSON, calibrating first when configured.",
		FlagSet:    fs,
		Options:    envOptions,
		Exec:       c.Exec,
	}
}

func (c *readConfig) Exec(ctx context.Context, _ []string) error {
	cfg, err := loadConfig(c.flags)
	if err != nil {
		return err
	}
	sh, err := openShield(cfg)
	if err != nil {
		return err
	}
	defer sh.Close()

	s, err := readSample(ctx, sh.driver, cfg.Calibration.AtStartup)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func readSample(ctx context.Context, d *bob.Driver, calibrate bool) (bob.Sample, error) {
	if calibrate {
		if err := d.Calibrate(ctx); err != nil {
			return bob.Sample{}, err
		}
	}
	s, err := d.Sample()
	if err != nil {
		return s, err
	}
	if ref, err := d.ReadReference(); err == nil {
		s.Reference = &ref
	} else if !errors.Is(err, bob.ErrNoReference) {
		return s, errors.Wrap(err, "reference")
	}
	return s, nil
}
