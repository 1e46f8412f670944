package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/output"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

func (c *ConsoleOutput) Publish(s bob.Sample) error {
	ref := "-"
	if s.Reference != nil {
		ref = fmt.Sprintf("%.1f", *s.Reference)
	}
	_, err := fmt.Fprintf(c.w, "%s raw=%d position=%.1f percent=%.2f reference=%s angle=%d command=%d calibrated=%t\n",
		s.Timestamp.Format(time.RFC3339), s.Raw, s.Position, s.Percent, ref, s.Angle, s.Command, s.Calibrated)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
