package config

import (
	"encoding/json"
	"flag"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	SensorVL6180X    = "vl6180x"
	ServoPCA9685     = "pca9685"
	ReferenceADS1115 = "ads1115"
	ReferenceNone    = "none"
	TypeSimulation   = "simulation"

	ModeManual = "manual"
	ModeHold   = "hold"
)

type MQTTConfig struct {
	Server            string `json:"server"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	ClientID          string `json:"client_id"`
	StateTopic        string `json:"state_topic"`
	CommandTopic      string `json:"command_topic,omitempty"`
	DiscoveryTopic    string `json:"discovery_topic,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty"`
}

type KafkaConfig struct {
	Brokers  []string `json:"brokers"`
	Topic    string   `json:"topic"`
	DeviceID string   `json:"device_id"`
}

type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
}

type OutputConfig struct {
	Type       string        `json:"type"`
	IntervalMs int           `json:"interval_ms,omitempty"`
	MQTT       *MQTTConfig   `json:"mqtt,omitempty"`
	Kafka      *KafkaConfig  `json:"kafka,omitempty"`
	Serial     *SerialConfig `json:"serial,omitempty"`
}

type SensorConfig struct {
	Type    string `json:"type"`
	Address int    `json:"address"`
}

type ServoConfig struct {
	Type        string `json:"type"`
	Address     int    `json:"address"`
	Channel     int    `json:"channel"`
	MinPulseUs  int    `json:"min_pulse_us"`
	MaxPulseUs  int    `json:"max_pulse_us"`
	FrequencyHz int    `json:"frequency_hz"`
}

// ReferenceConfig describes the potentiometer used for manual setpoints.
type ReferenceConfig struct {
	Type           string  `json:"type"`
	Address        int     `json:"address"`
	Channel        int     `json:"channel"`
	SampleRate     int     `json:"sample_rate"`
	FullScaleVolts float64 `json:"full_scale_volts"`
}

type CalibrationConfig struct {
	AtStartup        bool    `json:"at_startup"`
	Schedule         string  `json:"schedule,omitempty"`
	Samples          int     `json:"samples"`
	SettleMs         int     `json:"settle_ms"`
	SampleDelayMs    int     `json:"sample_delay_ms"`
	ZeroCompensation float64 `json:"zero_compensation"`
	DefaultOffset    float64 `json:"default_offset"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type Config struct {
	I2CBus      string            `json:"i2c_bus"`
	Sensor      SensorConfig      `json:"sensor"`
	Servo       ServoConfig       `json:"servo"`
	Reference   ReferenceConfig   `json:"reference"`
	Calibration CalibrationConfig `json:"calibration"`
	Outputs     []OutputConfig    `json:"outputs"`
	IntervalMs  int               `json:"interval_ms"`
	Mode        string            `json:"mode"`
	HTTP        HTTPConfig        `json:"http"`
	LogLevel    string            `json:"log_level"`
	LogFormat   string            `json:"log_format"`
	Verbose     bool              `json:"verbose"`
}

func DefaultConfig() Config {
	return Config{
		I2CBus: "1",
		Sensor: SensorConfig{Type: SensorVL6180X, Address: 0x29},
		Servo: ServoConfig{
			Type:        ServoPCA9685,
			Address:     0x40,
			Channel:     0,
			MinPulseUs:  544,
			MaxPulseUs:  2400,
			FrequencyHz: 50,
		},
		Reference: ReferenceConfig{
			Type:           ReferenceADS1115,
			Address:        0x48,
			Channel:        0,
			SampleRate:     128,
			FullScaleVolts: 3.3,
		},
		Calibration: CalibrationConfig{
			AtStartup:        true,
			Samples:          100,
			SettleMs:         1000,
			SampleDelayMs:    10,
			ZeroCompensation: 0,
			DefaultOffset:    7,
		},
		Outputs:    []OutputConfig{{Type: "console", IntervalMs: 1000}},
		IntervalMs: 50,
		Mode:       ModeManual,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Flags holds command line values. Values left at their sentinel do not
// override the defaults or the JSON file.
type Flags struct {
	fs *flag.FlagSet

	cfgPath          *string
	i2cBus           *string
	sensorType       *string
	sensorAddr       *string
	servoType        *string
	servoAddr        *string
	servoChannel     *int
	referenceType    *string
	referenceAddr    *string
	referenceChannel *int
	referenceRate    *int
	referenceVolts   *float64
	calibrate        *bool
	calSchedule      *string
	calSamples       *int
	settleMs         *int
	sampleDelayMs    *int
	zeroComp         *float64
	defaultOffset    *float64
	outputs          *string
	outputIntervals  *string
	mqttServer       *string
	mqttUser         *string
	mqttPass         *string
	mqttClientID     *string
	mqttTopic        *string
	mqttCommandTopic *string
	kafkaBrokers     *string
	kafkaTopic       *string
	serialPort       *string
	serialBaud       *int
	interval         *int
	mode             *string
	httpAddr         *string
	logLevel         *string
	logFormat        *string
	verbose          *bool
}

// RegisterFlags registers every configuration flag on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		fs:               fs,
		cfgPath:          fs.String("config", "", "Path to JSON config file"),
		i2cBus:           fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)"),
		sensorType:       fs.String("sensor-type", "", "range sensor: vl6180x|simulation"),
		sensorAddr:       fs.String("sensor-address", "", "range sensor I2C address (decimal or 0x hex)"),
		servoType:        fs.String("servo-type", "", "servo driver: pca9685|simulation"),
		servoAddr:        fs.String("servo-address", "", "PCA9685 I2C address (decimal or 0x hex)"),
		servoChannel:     fs.Int("servo-channel", -1, "PCA9685 channel driving the beam servo"),
		referenceType:    fs.String("reference-type", "", "reference input: ads1115|simulation|none"),
		referenceAddr:    fs.String("reference-address", "", "ADS1115 I2C address (decimal or 0x hex)"),
		referenceChannel: fs.Int("reference-channel", -1, "ADS1115 channel wired to the potentiometer"),
		referenceRate:    fs.Int("reference-sample-rate", -1, "ADS1115 sample rate (SPS)"),
		referenceVolts:   fs.Float64("reference-volts", math.NaN(), "potentiometer supply voltage (100%)"),
		calibrate:        fs.Bool("calibrate", false, "calibrate the beam at startup"),
		calSchedule:      fs.String("calibration-schedule", "", "cron schedule for re-calibration"),
		calSamples:       fs.Int("calibration-samples", -1, "samples per calibration pass"),
		settleMs:         fs.Int("settle-ms", -1, "settling delay after tilting the beam"),
		sampleDelayMs:    fs.Int("sample-delay-ms", -1, "delay between calibration samples"),
		zeroComp:         fs.Float64("zero-compensation", math.NaN(), "servo zero compensation (servo units)"),
		defaultOffset:    fs.Float64("default-offset", math.NaN(), "position offset used before calibration (mm)"),
		outputs:          fs.String("outputs", "", "Comma-separated outputs (console,mqtt,kafka,serial)"),
		outputIntervals:  fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000"),
		mqttServer:       fs.String("mqtt-server", "", "MQTT server (tcp://host:port)"),
		mqttUser:         fs.String("mqtt-user", "", "MQTT username"),
		mqttPass:         fs.String("mqtt-pass", "", "MQTT password"),
		mqttClientID:     fs.String("mqtt-client-id", "", "MQTT client id"),
		mqttTopic:        fs.String("mqtt-topic", "", "MQTT state topic"),
		mqttCommandTopic: fs.String("mqtt-command-topic", "", "MQTT topic accepting beam angles"),
		kafkaBrokers:     fs.String("kafka-brokers", "", "Comma-separated Kafka brokers"),
		kafkaTopic:       fs.String("kafka-topic", "", "Kafka topic for samples"),
		serialPort:       fs.String("serial-port", "", "serial port for the diagnostic line log"),
		serialBaud:       fs.Int("serial-baud", -1, "serial baud rate"),
		interval:         fs.Int("interval-ms", -1, "Sample interval in ms"),
		mode:             fs.String("mode", "", "run mode: manual|hold"),
		httpAddr:         fs.String("http-addr", "", "HTTP API listen address, empty disables"),
		logLevel:         fs.String("log-level", "", "log level: debug|info|warn|error"),
		logFormat:        fs.String("log-format", "", "log format: text|json"),
		verbose:          fs.Bool("v", false, "echo readings and calibration details (debug logging)"),
	}
}

// Load builds the configuration from defaults, the JSON file (optional) and
// the parsed flags. Flags override values present in the JSON file.
func (f *Flags) Load() (Config, error) {
	cfg := DefaultConfig()

	if *f.cfgPath != "" {
		b, err := os.ReadFile(*f.cfgPath)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrap(err, "parse config")
		}
	}

	set := map[string]bool{}
	f.fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if *f.i2cBus != "" {
		cfg.I2CBus = *f.i2cBus
	}
	if *f.sensorType != "" {
		cfg.Sensor.Type = strings.ToLower(*f.sensorType)
	}
	if *f.sensorAddr != "" {
		v, err := parseIntOrHex(*f.sensorAddr)
		if err != nil {
			return cfg, errors.Wrap(err, "sensor-address")
		}
		cfg.Sensor.Address = v
	}
	if *f.servoType != "" {
		cfg.Servo.Type = strings.ToLower(*f.servoType)
	}
	if *f.servoAddr != "" {
		v, err := parseIntOrHex(*f.servoAddr)
		if err != nil {
			return cfg, errors.Wrap(err, "servo-address")
		}
		cfg.Servo.Address = v
	}
	if *f.servoChannel != -1 {
		cfg.Servo.Channel = *f.servoChannel
	}
	if *f.referenceType != "" {
		cfg.Reference.Type = strings.ToLower(*f.referenceType)
	}
	if *f.referenceAddr != "" {
		v, err := parseIntOrHex(*f.referenceAddr)
		if err != nil {
			return cfg, errors.Wrap(err, "reference-address")
		}
		cfg.Reference.Address = v
	}
	if *f.referenceChannel != -1 {
		cfg.Reference.Channel = *f.referenceChannel
	}
	if *f.referenceRate != -1 {
		cfg.Reference.SampleRate = *f.referenceRate
	}
	if !math.IsNaN(*f.referenceVolts) {
		cfg.Reference.FullScaleVolts = *f.referenceVolts
	}
	if set["calibrate"] {
		cfg.Calibration.AtStartup = *f.calibrate
	}
	if *f.calSchedule != "" {
		cfg.Calibration.Schedule = *f.calSchedule
	}
	if *f.calSamples != -1 {
		cfg.Calibration.Samples = *f.calSamples
	}
	if *f.settleMs != -1 {
		cfg.Calibration.SettleMs = *f.settleMs
	}
	if *f.sampleDelayMs != -1 {
		cfg.Calibration.SampleDelayMs = *f.sampleDelayMs
	}
	if !math.IsNaN(*f.zeroComp) {
		cfg.Calibration.ZeroCompensation = *f.zeroComp
	}
	if !math.IsNaN(*f.defaultOffset) {
		cfg.Calibration.DefaultOffset = *f.defaultOffset
	}
	if *f.interval != -1 {
		cfg.IntervalMs = *f.interval
	}
	if *f.outputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*f.outputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}
	if *f.outputIntervals != "" {
		intervals, err := parseKeyIntMap(*f.outputIntervals)
		if err != nil {
			return cfg, errors.Wrap(err, "output-intervals")
		}
		for i := range cfg.Outputs {
			if v, ok := intervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	f.applyMQTT(&cfg)
	f.applyKafka(&cfg)
	f.applySerial(&cfg)
	if *f.mode != "" {
		cfg.Mode = strings.ToLower(*f.mode)
	}
	if *f.httpAddr != "" {
		cfg.HTTP.Addr = *f.httpAddr
	}
	if *f.logLevel != "" {
		cfg.LogLevel = *f.logLevel
	}
	if *f.logFormat != "" {
		cfg.LogFormat = *f.logFormat
	}
	if set["v"] {
		cfg.Verbose = *f.verbose
	}

	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	return cfg, cfg.Validate()
}

// applyMQTT maps mqtt flags into every mqtt output, creating one if missing.
func (f *Flags) applyMQTT(cfg *Config) {
	if *f.mqttServer == "" && *f.mqttUser == "" && *f.mqttPass == "" && *f.mqttClientID == "" && *f.mqttTopic == "" && *f.mqttCommandTopic == "" {
		return
	}
	apply := func(m *MQTTConfig) {
		if *f.mqttServer != "" {
			m.Server = *f.mqttServer
		}
		if *f.mqttUser != "" {
			m.Username = *f.mqttUser
		}
		if *f.mqttPass != "" {
			m.Password = *f.mqttPass
		}
		if *f.mqttClientID != "" {
			m.ClientID = *f.mqttClientID
		}
		if *f.mqttTopic != "" {
			m.StateTopic = *f.mqttTopic
		}
		if *f.mqttCommandTopic != "" {
			m.CommandTopic = *f.mqttCommandTopic
		}
	}
	applied := false
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == "mqtt" {
			if cfg.Outputs[i].MQTT == nil {
				cfg.Outputs[i].MQTT = &MQTTConfig{}
			}
			apply(cfg.Outputs[i].MQTT)
			applied = true
		}
	}
	if !applied {
		out := OutputConfig{Type: "mqtt", MQTT: &MQTTConfig{}}
		apply(out.MQTT)
		cfg.Outputs = append(cfg.Outputs, out)
	}
}

func (f *Flags) applyKafka(cfg *Config) {
	if *f.kafkaBrokers == "" && *f.kafkaTopic == "" {
		return
	}
	apply := func(k *KafkaConfig) {
		if *f.kafkaBrokers != "" {
			k.Brokers = parseCSV(*f.kafkaBrokers)
		}
		if *f.kafkaTopic != "" {
			k.Topic = *f.kafkaTopic
		}
	}
	applied := false
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == "kafka" {
			if cfg.Outputs[i].Kafka == nil {
				cfg.Outputs[i].Kafka = &KafkaConfig{}
			}
			apply(cfg.Outputs[i].Kafka)
			applied = true
		}
	}
	if !applied {
		out := OutputConfig{Type: "kafka", Kafka: &KafkaConfig{}}
		apply(out.Kafka)
		cfg.Outputs = append(cfg.Outputs, out)
	}
}

func (f *Flags) applySerial(cfg *Config) {
	if *f.serialPort == "" && *f.serialBaud == -1 {
		return
	}
	apply := func(s *SerialConfig) {
		if *f.serialPort != "" {
			s.Port = *f.serialPort
		}
		if *f.serialBaud != -1 {
			s.BaudRate = *f.serialBaud
		}
	}
	applied := false
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == "serial" {
			if cfg.Outputs[i].Serial == nil {
				cfg.Outputs[i].Serial = &SerialConfig{}
			}
			apply(cfg.Outputs[i].Serial)
			applied = true
		}
	}
	if !applied {
		out := OutputConfig{Type: "serial", Serial: &SerialConfig{}}
		apply(out.Serial)
		cfg.Outputs = append(cfg.Outputs, out)
	}
}

var validSampleRates = map[int]bool{8: true, 16: true, 32: true, 64: true, 128: true, 250: true, 475: true, 860: true}

// Validate reports the first unsupported configuration value.
func (c Config) Validate() error {
	switch c.Sensor.Type {
	case SensorVL6180X, TypeSimulation:
	default:
		return errors.Errorf("unsupported sensor type %q", c.Sensor.Type)
	}
	switch c.Servo.Type {
	case ServoPCA9685, TypeSimulation:
	default:
		return errors.Errorf("unsupported servo type %q", c.Servo.Type)
	}
	if c.Servo.Channel < 0 || c.Servo.Channel > 15 {
		return errors.Errorf("servo channel %d out of range 0..15", c.Servo.Channel)
	}
	if c.Servo.MinPulseUs <= 0 || c.Servo.MaxPulseUs <= c.Servo.MinPulseUs {
		return errors.Errorf("invalid servo pulse range %d..%d us", c.Servo.MinPulseUs, c.Servo.MaxPulseUs)
	}
	if c.Servo.FrequencyHz <= 0 {
		return errors.New("servo frequency must be > 0")
	}
	switch c.Reference.Type {
	case ReferenceADS1115:
		if c.Reference.Channel < 0 || c.Reference.Channel > 3 {
			return errors.Errorf("reference channel %d out of range 0..3", c.Reference.Channel)
		}
		if !validSampleRates[c.Reference.SampleRate] {
			return errors.Errorf("sample rate %d is not supported by the ADS1115", c.Reference.SampleRate)
		}
	case TypeSimulation, ReferenceNone, "":
	default:
		return errors.Errorf("unsupported reference type %q", c.Reference.Type)
	}
	if c.Reference.Type != ReferenceNone && c.Reference.Type != "" && c.Reference.FullScaleVolts <= 0 {
		return errors.New("reference-volts must be > 0")
	}
	if c.Calibration.Samples <= 0 {
		return errors.New("calibration-samples must be > 0")
	}
	if c.Calibration.SettleMs < 0 || c.Calibration.SampleDelayMs < 0 {
		return errors.New("calibration delays must be >= 0")
	}
	if c.IntervalMs <= 0 {
		return errors.New("interval-ms must be > 0")
	}
	switch c.Mode {
	case ModeManual, ModeHold:
	default:
		return errors.Errorf("unsupported mode %q", c.Mode)
	}
	for _, o := range c.Outputs {
		switch o.Type {
		case "console":
		case "mqtt":
			if o.MQTT == nil || o.MQTT.Server == "" {
				return errors.New("mqtt output requires a server")
			}
		case "kafka":
			if o.Kafka == nil || len(o.Kafka.Brokers) == 0 || o.Kafka.Topic == "" {
				return errors.New("kafka output requires brokers and a topic")
			}
		case "serial":
			if o.Serial == nil || o.Serial.Port == "" {
				return errors.New("serial output requires a port")
			}
		default:
			return errors.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

// ReferenceEnabled reports whether a reference input should be opened.
func (c Config) ReferenceEnabled() bool {
	return c.Reference.Type != ReferenceNone && c.Reference.Type != ""
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Errorf("invalid entry %q, want key=value", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value for %q", strings.TrimSpace(kv[0]))
		}
		out[strings.ToLower(strings.TrimSpace(kv[0]))] = v
	}
	return out, nil
}
