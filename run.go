package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/bobshield/pkg/api"
	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
)

type runConfig struct {
	flags *config.Flags
	out   io.Writer
}

func newRunCmd(out io.Writer) *ffcli.Command {
	fs, flags := newSubcommand("run")
	c := &runConfig{flags: flags, out: out}
	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "bobshield run [flags]",
		ShortHelp:  "Calibrate, then drive the beam and publish samples until interrupted.",
		FlagSet:    fs,
		Options:    envOptions,
		Exec:       c.Exec,
	}
}

func (c *runConfig) Exec(ctx context.Context, _ []string) error {
	cfg, err := loadConfig(c.flags)
	if err != nil {
		return err
	}
	log := logrus.WithField("component", "run")

	sh, err := openShield(cfg)
	if err != nil {
		log.WithError(err).Error("failed to open the shield")
		return err
	}
	defer sh.Close()
	d := sh.driver

	if cfg.Calibration.AtStartup {
		if err := d.Calibrate(ctx); err != nil {
			return errors.Wrap(err, "startup calibration")
		}
	}

	if cfg.Calibration.Schedule != "" {
		sched, err := scheduleCalibration(ctx, d, cfg.Calibration.Schedule)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	entries, err := initOutputs(&cfg, cfg.IntervalMs, d.WriteActuation)
	if err != nil {
		return err
	}
	defer closeOutputs(entries)

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Handler(api.NewRouter(d, sh.registry, cfg.Mode), c.out),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.WithField("addr", cfg.HTTP.Addr).Info("http api listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http api stopped")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	interval := time.Duration(computeSampleInterval(cfg)) * time.Millisecond
	log.WithFields(logrus.Fields{"interval": interval, "mode": cfg.Mode, "outputs": len(entries)}).Info("running")
	runLoop(ctx, d, cfg.Mode, entries, interval)

	if err := d.WriteActuation(0); err != nil {
		log.WithError(err).Warn("failed to level the beam")
	}
	if err := sh.Release(); err != nil {
		log.WithError(err).Warn("failed to release the servo")
	}
	log.Info("stopped")
	return nil
}

// scheduleCalibration re-runs the calibration on a cron schedule. Seconds
// are optional and descriptors such as @hourly are accepted.
func scheduleCalibration(ctx context.Context, d *bob.Driver, schedule string) (*cron.Cron, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	_, err := c.AddFunc(schedule, func() {
		if err := d.Calibrate(ctx); err != nil {
			logrus.WithError(err).Warn("scheduled calibration failed")
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "invalid calibration schedule %q", schedule)
	}
	return c, nil
}

func runLoop(ctx context.Context, d *bob.Driver, mode string, entries []*outputEntry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			step(d, mode, entries, now)
		}
	}
}

// step runs one loop iteration: in manual mode the reference sets the beam
// angle, then a sample goes to every output that is due.
func step(d *bob.Driver, mode string, entries []*outputEntry, now time.Time) {
	var ref *float64
	r, err := d.ReadReference()
	switch {
	case err == nil:
		ref = &r
		if mode == config.ModeManual {
			if err := d.WriteActuation(bob.AngleFromPercent(r)); err != nil {
				logrus.WithError(err).Warn("actuation failed")
			}
		}
	case !errors.Is(err, bob.ErrNoReference):
		logrus.WithError(err).Warn("reference read failed")
	}

	due := false
	for _, e := range entries {
		if !now.Before(e.next) {
			due = true
			break
		}
	}
	if !due {
		return
	}

	s, err := d.Sample()
	if err != nil {
		logrus.WithError(err).Warn("sample failed")
		return
	}
	s.Reference = ref
	for _, e := range entries {
		if now.Before(e.next) {
			continue
		}
		e.next = now.Add(time.Duration(e.IntervalMs) * time.Millisecond)
		if err := e.Output.Publish(s); err != nil {
			logrus.WithError(err).WithField("output", e.Type).Warn("publish failed")
		}
	}
}
