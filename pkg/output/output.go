package output

import "github.com/ericogr/bobshield/pkg/bob"

const (
	TypeConsole = "console"
	TypeMQTT    = "mqtt"
	TypeKafka   = "kafka"
	TypeSerial  = "serial"
)

type Output interface {
	Publish(bob.Sample) error
	Close() error
}

// helper constructors are in subpackages
