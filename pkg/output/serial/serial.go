package serial

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
	"github.com/ericogr/bobshield/pkg/output"
)

const DefaultBaudRate = 115200

// SerialOutput echoes samples as text lines on a serial port, one line per
// sample, CRLF terminated.
type SerialOutput struct {
	mu   sync.Mutex
	port io.WriteCloser
}

func NewSerial(cfg config.SerialConfig) (output.Output, error) {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Port)
	}
	return &SerialOutput{port: port}, nil
}

func (s *SerialOutput) Publish(sample bob.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.port, formatLine(sample))
	return errors.Wrap(err, "serial write")
}

func (s *SerialOutput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

func formatLine(s bob.Sample) string {
	if s.Reference != nil {
		return fmt.Sprintf("pos: %.2f %%, ref: %.2f %%, angle: %d, raw: %d\r\n", s.Percent, *s.Reference, s.Angle, s.Raw)
	}
	return fmt.Sprintf("pos: %.2f %%, angle: %d, raw: %d\r\n", s.Percent, s.Angle, s.Raw)
}
