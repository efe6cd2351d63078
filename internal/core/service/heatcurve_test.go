package service

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/pkg/r290_modbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outdoorCurve() domain.CurveConfig {
	curve := heatingCurve()
	curve.OutdoorRegister = r290_modbus.REG_OUTDOOR_TEMPERATURE
	curve.OutdoorMin = -15
	curve.OutdoorMax = 20
	return curve
}

func TestFlowTemperature(t *testing.T) {

	curve := outdoorCurve()

	assert.Equal(t, 50.0, FlowTemperature(curve, -20))
	assert.Equal(t, 50.0, FlowTemperature(curve, -15))
	assert.Equal(t, 25.0, FlowTemperature(curve, 20))
	assert.Equal(t, 25.0, FlowTemperature(curve, 25))
	assert.InDelta(t, 37.5, FlowTemperature(curve, 2.5), 1e-9)
}

func TestBaseSetpointFixed(t *testing.T) {

	h := NewHeatCurve()
	base, err := h.BaseSetpoint(heatingCurve(), nil, t0)
	require.NoError(t, err)
	assert.Equal(t, 35.0, base)
}

func TestBaseSetpointMissingOutdoor(t *testing.T) {

	h := NewHeatCurve()
	_, err := h.BaseSetpoint(outdoorCurve(), nil, t0)
	assert.ErrorIs(t, err, domain.ErrMissingInput)

	_, err = h.BaseSetpoint(outdoorCurve(), f(2.5), t0)
	require.NoError(t, err)

	base, err := h.BaseSetpoint(outdoorCurve(), nil, t0.Add(time.Minute))
	require.NoError(t, err, "last value is kept while the sensor is missing")
	assert.InDelta(t, 37.5, base, 1e-9)
}

func TestBaseSetpointInertia(t *testing.T) {

	curve := outdoorCurve()
	curve.InertiaHours = 1

	h := NewHeatCurve()
	base, err := h.BaseSetpoint(curve, f(20), t0)
	require.NoError(t, err)
	assert.Equal(t, 25.0, base, "first value seeds the average")

	// one time constant later the average covers 1-1/e of the step
	base, err = h.BaseSetpoint(curve, f(-15), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 25+25*(1-math.Exp(-1)), base, 1e-9)

	h.Reset()
	base, err = h.BaseSetpoint(curve, f(-15), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 50.0, base)
}

func TestCommandedWithinFlowBounds(t *testing.T) {

	specs, err := r290_modbus.Catalog(r290_modbus.MODEL_R290)
	require.NoError(t, err)
	target := r290_modbus.CatalogIndex(specs)[r290_modbus.REG_HEATING_SETPOINT]

	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		curve := heatingCurve()
		curve.TFlowMin = 20 + rnd.Float64()*20
		curve.TFlowMax = curve.TFlowMin + rnd.Float64()*20
		wp := NewWritePath(1, target)

		base := rnd.Float64()*100 - 20
		offset := rnd.Float64()*20 - 10
		commanded := wp.Commanded(curve, base, offset)

		require.GreaterOrEqual(t, commanded, curve.TFlowMin-1e-9)
		require.LessOrEqual(t, commanded, curve.TFlowMax+1e-9)
	}
}
