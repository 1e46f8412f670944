package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects driver counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	actuationClamped prometheus.Counter
	positionClamped  prometheus.Counter
	sensorErrors     prometheus.Counter
	calibrations     *prometheus.CounterVec
	boundMin         prometheus.Gauge
	boundMax         prometheus.Gauge
	position         prometheus.Gauge
	servoCommand     prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		actuationClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bob_actuation_clamped_total",
			Help: "Beam angle requests clamped to the safety range.",
		}),
		positionClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bob_position_clamped_total",
			Help: "Range readings clamped to the calibration bounds.",
		}),
		sensorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bob_sensor_errors_total",
			Help: "Failed range sensor reads.",
		}),
		calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bob_calibrations_total",
			Help: "Calibration runs by result.",
		}, []string{"result"}),
		boundMin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bob_calibration_min_mm",
			Help: "Learned minimum range.",
		}),
		boundMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bob_calibration_max_mm",
			Help: "Learned maximum range.",
		}),
		position: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bob_position_percent",
			Help: "Last ball position in percent of the calibrated range.",
		}),
		servoCommand: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bob_servo_command",
			Help: "Last command written to the servo, native units.",
		}),
	}

	reg.MustRegister(
		m.actuationClamped,
		m.positionClamped,
		m.sensorErrors,
		m.calibrations,
		m.boundMin,
		m.boundMax,
		m.position,
		m.servoCommand,
	)

	return m
}

func (m *Metrics) ActuationClamped() {
	if m == nil {
		return
	}
	m.actuationClamped.Inc()
}

func (m *Metrics) PositionClamped() {
	if m == nil {
		return
	}
	m.positionClamped.Inc()
}

func (m *Metrics) SensorError() {
	if m == nil {
		return
	}
	m.sensorErrors.Inc()
}

// Calibrated records a calibration run; bounds are only updated on success.
func (m *Metrics) Calibrated(min, max float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.calibrations.WithLabelValues("error").Inc()
		return
	}
	m.calibrations.WithLabelValues("ok").Inc()
	m.boundMin.Set(min)
	m.boundMax.Set(max)
}

func (m *Metrics) Position(percent float64) {
	if m == nil {
		return
	}
	m.position.Set(percent)
}

func (m *Metrics) ServoCommand(command int) {
	if m == nil {
		return
	}
	m.servoCommand.Set(float64(command))
}
