package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/bobshield/pkg/bob"
	"github.com/ericogr/bobshield/pkg/config"
	"github.com/ericogr/bobshield/pkg/output"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "bobshield"
	DefaultStateTopic = "bobshield/state"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyCommandTopic        = "command_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	keyMin                 = "min"
	keyMax                 = "max"
	keyStep                = "step"
	unitPercent            = "%"
	unitDegrees            = "°"
	stateClassMeasurement  = "measurement"
	valueTemplatePosition  = "{{ value_json.position_percent }}"
	valueTemplateAngle     = "{{ value_json.angle_deg }}"
)

// CommandFunc receives beam angles published on the command topic.
type CommandFunc func(angle float64) error

type MQTTOutput struct {
	client       mqtt.Client
	stateTopic   string
	commandTopic string
	onCommand    CommandFunc
	log          logrus.FieldLogger
}

// NewMQTT connects to the broker, publishes the discovery payloads and, when
// both a command topic and onCommand are set, subscribes for beam angles.
func NewMQTT(cfg config.MQTTConfig, onCommand CommandFunc) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "mqtt connect")
	}
	return newMQTT(client, cfg, onCommand)
}

func newMQTT(client mqtt.Client, cfg config.MQTTConfig, onCommand CommandFunc) (*MQTTOutput, error) {
	st := cfg.StateTopic
	if st == "" {
		st = DefaultStateTopic
	}
	m := &MQTTOutput{
		client:       client,
		stateTopic:   st,
		commandTopic: cfg.CommandTopic,
		onCommand:    onCommand,
		log:          logrus.WithFields(logrus.Fields{"output": "mqtt", "server": cfg.Server}),
	}

	// Home Assistant discovery: a sensor for the ball position and, with a
	// command topic, a number entity for the beam angle
	if cfg.DiscoveryTopic != "" {
		name := discoveryName(cfg, "position")
		payload := baseDiscoveryPayload(name, m.stateTopic, discoveryUniqueID(cfg, "position"))
		if err := m.publishJSON(formatDiscoveryTopic(cfg.DiscoveryTopic, "sensor", "position"), true, payload); err != nil {
			m.log.WithError(err).Warn("mqtt discovery publish error")
		}
		if m.commandTopic != "" {
			payload := angleDiscoveryPayload(discoveryName(cfg, "angle"), m.stateTopic, m.commandTopic, discoveryUniqueID(cfg, "angle"))
			if err := m.publishJSON(formatDiscoveryTopic(cfg.DiscoveryTopic, "number", "angle"), true, payload); err != nil {
				m.log.WithError(err).Warn("mqtt discovery publish error")
			}
		}
	}

	if m.commandTopic != "" && m.onCommand != nil {
		token := client.Subscribe(m.commandTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			m.handleCommand(msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			return nil, errors.Wrapf(token.Error(), "mqtt subscribe %s", m.commandTopic)
		}
		m.log.WithField("topic", m.commandTopic).Info("listening for beam angles")
	}

	return m, nil
}

func (m *MQTTOutput) Publish(s bob.Sample) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.PublishRaw(m.stateTopic, b, false)
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		if m.commandTopic != "" && m.onCommand != nil {
			m.client.Unsubscribe(m.commandTopic).Wait()
		}
		m.client.Disconnect(250)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for discovery messages.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return errors.New("mqtt client not connected")
	}
	token := m.client.Publish(topic, 0, retained, payload)
	token.Wait()
	return token.Error()
}

func (m *MQTTOutput) handleCommand(payload []byte) {
	angle, err := parseAngle(payload)
	if err != nil {
		m.log.WithError(err).WithField("payload", string(payload)).Warn("ignoring beam command")
		return
	}
	if err := m.onCommand(angle); err != nil {
		m.log.WithError(err).WithField("angle", angle).Error("beam command failed")
	}
}

// parseAngle accepts either a bare number or {"angle": n}.
func parseAngle(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var body struct {
			Angle *float64 `json:"angle"`
		}
		if err := json.Unmarshal([]byte(s), &body); err != nil {
			return 0, errors.Wrap(err, "parse angle")
		}
		if body.Angle == nil {
			return 0, errors.New("payload has no angle")
		}
		return *body.Angle, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse angle")
	}
	return v, nil
}

// helper: the discovery topic may carry %s placeholders for component and object id
func formatDiscoveryTopic(base, component, object string) string {
	switch strings.Count(base, "%s") {
	case 0:
		return base + "/" + object + "/config"
	case 1:
		return fmt.Sprintf(base, object)
	default:
		return fmt.Sprintf(base, component, object)
	}
}

// helper: build a human-friendly discovery name
func discoveryName(cfg config.MQTTConfig, entity string) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("Ball on beam %s", cfg.ClientID)
	}
	return fmt.Sprintf("%s %s", name, entity)
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, entity string) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		return ""
	}
	return fmt.Sprintf("%s_%s", uid, entity)
}

// helper: base discovery payload for the position sensor
func baseDiscoveryPayload(name, stateTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   unitPercent,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplatePosition,
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

func angleDiscoveryPayload(name, stateTopic, commandTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:              name,
		keyStateTopic:        stateTopic,
		keyCommandTopic:      commandTopic,
		keyUnitOfMeasurement: unitDegrees,
		keyValueTemplate:     valueTemplateAngle,
		keyMin:               bob.MinAngle,
		keyMax:               bob.MaxAngle,
		keyStep:              1,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func (m *MQTTOutput) publishJSON(topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.PublishRaw(topic, b, retained)
}
