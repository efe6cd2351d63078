package metrics

import (
	"strconv"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"
	"github.com/berfenger/heatpump2mqtt/pkg/r290_modbus"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "heatpump"

type Metrics struct {
	blockReads      *prometheus.CounterVec
	blockDuration   *prometheus.HistogramVec
	decodeFailures  *prometheus.CounterVec
	registerValue   *prometheus.GaugeVec
	modbusDuration  *prometheus.HistogramVec
	modbusErrors    *prometheus.CounterVec
	curveOffset     *prometheus.GaugeVec
	curveFlowTarget *prometheus.GaugeVec
	curveWrites     *prometheus.CounterVec
	cop             *prometheus.GaugeVec
	copEnergy       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		blockReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_blocks_total",
			Help:      "Block reads by cadence, slave and result.",
		}, []string{"cadence", "slave", "result"}),
		blockDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_block_duration_seconds",
			Help:      "Histogram of block read durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cadence"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Registers skipped because they could not be decoded.",
		}, []string{"slave", "register"}),
		registerValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "register_value",
			Help:      "Last decoded value of each register.",
		}, []string{"slave", "register", "unit"}),
		modbusDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "modbus_request_duration_seconds",
			Help:      "Histogram of modbus request durations, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		modbusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modbus_errors_total",
			Help:      "Modbus request errors by operation and class.",
		}, []string{"op", "class"}),
		curveOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curve_pv_offset_celsius",
			Help:      "Current PV offset of each curve.",
		}, []string{"curve"}),
		curveFlowTarget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curve_flow_target_celsius",
			Help:      "Commanded flow temperature of each curve.",
		}, []string{"curve"}),
		curveWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "curve_writes_total",
			Help:      "Setpoint writes by curve and result.",
		}, []string{"curve", "result"}),
		cop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cop",
			Help:      "Coefficient of performance by accumulator and period.",
		}, []string{"name", "period"}),
		copEnergy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cop_energy_kwh",
			Help:      "Accumulated energy by accumulator, period and kind.",
		}, []string{"name", "period", "kind"}),
	}

	reg.MustRegister(
		m.blockReads,
		m.blockDuration,
		m.decodeFailures,
		m.registerValue,
		m.modbusDuration,
		m.modbusErrors,
		m.curveOffset,
		m.curveFlowTarget,
		m.curveWrites,
		m.cop,
		m.copEnergy,
	)

	return m
}

func (m *Metrics) BlockRead(slaveId uint8, cadence domain.Cadence, address uint16, count uint16, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = domain.ErrorClass(err)
	}
	m.blockReads.WithLabelValues(string(cadence), slaveLabel(slaveId), result).Inc()
	m.blockDuration.WithLabelValues(string(cadence)).Observe(duration.Seconds())
}

func (m *Metrics) DecodeFailed(slaveId uint8, registerId string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(slaveLabel(slaveId), registerId).Inc()
}

func (m *Metrics) ReadingStored(reading domain.Reading) {
	if m == nil {
		return
	}
	m.registerValue.WithLabelValues(slaveLabel(reading.SlaveId), reading.RegisterId, reading.Unit).Set(reading.Value)
}

// ModbusInstrument times every transport call.
func (m *Metrics) ModbusInstrument() *r290_modbus.ModbusInstrument {
	if m == nil {
		return nil
	}
	return &r290_modbus.ModbusInstrument{
		RecordTime: func(fnName string, duration time.Duration, err error) {
			m.modbusDuration.WithLabelValues(fnName).Observe(duration.Seconds())
			if err != nil {
				m.modbusErrors.WithLabelValues(fnName, domain.ErrorClass(err)).Inc()
			}
		},
	}
}

func (m *Metrics) CurveEvaluated(prefix string, offset float64, commanded float64) {
	if m == nil {
		return
	}
	m.curveOffset.WithLabelValues(prefix).Set(offset)
	m.curveFlowTarget.WithLabelValues(prefix).Set(commanded)
}

func (m *Metrics) CurveWrite(prefix string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = domain.ErrorClass(err)
	}
	m.curveWrites.WithLabelValues(prefix, result).Inc()
}

func (m *Metrics) COPUpdated(name string, buckets []domain.EnergyBucket) {
	if m == nil {
		return
	}
	for _, b := range buckets {
		period := string(b.Period)
		if value, ok := b.COP(); ok {
			m.cop.WithLabelValues(name, period).Set(value)
		} else {
			m.cop.DeleteLabelValues(name, period)
		}
		m.copEnergy.WithLabelValues(name, period, "heat").Set(b.HeatEnergy)
		m.copEnergy.WithLabelValues(name, period, "electrical").Set(b.ElectricalEnergy)
	}
}

func slaveLabel(slaveId uint8) string {
	return strconv.Itoa(int(slaveId))
}

// ensure interface compliance
var _ port.PollObserver = (*Metrics)(nil)
var _ port.CurveObserver = (*Metrics)(nil)
var _ port.COPObserver = (*Metrics)(nil)
