package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
	"github.com/ericogr/bobshield/pkg/output"
)

const (
	DefaultDeviceID = "bobshield"
	writeTimeout    = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOutput produces one JSON message per sample, keyed by device id so a
// shield's samples stay on one partition.
type KafkaOutput struct {
	w        messageWriter
	deviceID string
}

func NewKafka(cfg config.KafkaConfig) (output.Output, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafka(w, cfg.DeviceID), nil
}

func newKafka(w messageWriter, deviceID string) *KafkaOutput {
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	return &KafkaOutput{w: w, deviceID: deviceID}
}

func (k *KafkaOutput) Publish(s bob.Sample) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(k.deviceID),
		Value: b,
		Time:  s.Timestamp,
	})
	return errors.Wrap(err, "kafka write")
}

func (k *KafkaOutput) Close() error {
	return k.w.Close()
}
