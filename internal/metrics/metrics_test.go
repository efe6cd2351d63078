package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollMetrics(t *testing.T) {

	m := NewMetrics(prometheus.NewRegistry())

	m.BlockRead(1, domain.CadenceFast, 0x0100, 11, 20*time.Millisecond, nil)
	m.BlockRead(1, domain.CadenceFast, 0x0110, 4, time.Second, domain.ErrTransportTimeout)
	m.DecodeFailed(1, "outdoor_temperature")
	m.ReadingStored(domain.Reading{SlaveId: 1, RegisterId: "flow_temperature", Value: 35.2, Unit: "°C"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockReads.WithLabelValues("fast", "1", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockReads.WithLabelValues("fast", "1", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeFailures.WithLabelValues("1", "outdoor_temperature")))
	assert.Equal(t, 35.2, testutil.ToFloat64(m.registerValue.WithLabelValues("1", "flow_temperature", "°C")))
}

func TestModbusInstrument(t *testing.T) {

	m := NewMetrics(prometheus.NewRegistry())
	instrument := m.ModbusInstrument()
	require.NotNil(t, instrument)

	instrument.RecordTime("ReadRegisters", time.Millisecond, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modbusErrors.WithLabelValues("ReadRegisters", "other")))
}

func TestCOPMetrics(t *testing.T) {

	m := NewMetrics(prometheus.NewRegistry())
	m.COPUpdated("heatpump", []domain.EnergyBucket{
		{Period: domain.PeriodToday, HeatEnergy: 10, ElectricalEnergy: 4},
		{Period: domain.PeriodYesterday},
	})

	assert.Equal(t, 2.5, testutil.ToFloat64(m.cop.WithLabelValues("heatpump", "today")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cop), "absent COP is not exported")
}

func TestNilMetrics(t *testing.T) {

	var m *Metrics
	assert.NotPanics(t, func() {
		m.BlockRead(1, domain.CadenceLong, 0, 1, 0, nil)
		m.CurveEvaluated("heating", 1, 36)
		m.COPUpdated("x", nil)
	})
	assert.Nil(t, m.ModbusInstrument())
}
