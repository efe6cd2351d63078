package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSingleWord(t *testing.T) {

	assert := assert.New(t)

	signed := RegisterSpec{Id: "t", Words: 1, Scale: 0.1, Signed: true}
	v, err := signed.Decode([]uint16{0xFFDD}) // -35
	assert.NoError(err)
	assert.InDelta(-3.5, v, 1e-9)

	unsigned := RegisterSpec{Id: "u", Words: 1, Scale: 0.1}
	v, err = unsigned.Decode([]uint16{0xFFDD})
	assert.NoError(err)
	assert.InDelta(6550.1, v, 1e-9)
}

func TestDecodeDoubleWord(t *testing.T) {

	assert := assert.New(t)

	spec := RegisterSpec{Id: "e", Words: 2, Scale: 0.01}
	v, err := spec.Decode([]uint16{0x0001, 0x0002})
	assert.NoError(err)
	assert.InDelta(float64(65538)*0.01, v, 1e-9)

	signed := RegisterSpec{Id: "s", Words: 2, Scale: 1, Signed: true}
	v, err = signed.Decode([]uint16{0xFFFF, 0xFFFE})
	assert.NoError(err)
	assert.Equal(-2.0, v)
}

func TestDecodeErrors(t *testing.T) {
	_, err := RegisterSpec{Id: "z", Words: 1, Scale: 0}.Decode([]uint16{1})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = RegisterSpec{Id: "w", Words: 2, Scale: 1}.Decode([]uint16{1})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = RegisterSpec{Id: "x", Words: 3, Scale: 1}.Decode([]uint16{1, 2, 3})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestEncode(t *testing.T) {

	require := require.New(t)

	spec := RegisterSpec{Id: "sp", Words: 1, Scale: 1, Signed: true}
	raw, err := spec.Encode(34.6)
	require.NoError(err)
	require.Equal(uint16(35), raw)

	raw, err = spec.Encode(-5)
	require.NoError(err)
	require.Equal(uint16(0xFFFB), raw)

	tenths := RegisterSpec{Id: "sp", Words: 1, Scale: 0.1}
	raw, err = tenths.Encode(42.36)
	require.NoError(err)
	require.Equal(uint16(424), raw)

	_, err = tenths.Encode(-1)
	require.ErrorIs(err, ErrDecode)

	_, err = RegisterSpec{Id: "wide", Words: 2, Scale: 1}.Encode(1)
	require.ErrorIs(err, ErrDecode)
}

func TestParseSourceRef(t *testing.T) {

	require := require.New(t)

	ref, err := ParseSourceRef("heat_energy_total", 1)
	require.NoError(err)
	require.Equal(SourceRef{Kind: SOURCE_KIND_REGISTER, SlaveId: 1, Id: "heat_energy_total"}, ref)

	same, err := ParseSourceRef("1/heat_energy_total", 3)
	require.NoError(err)
	require.Equal(ref, same)

	sensor, err := ParseSourceRef("sensor:pv_power", 1)
	require.NoError(err)
	require.Equal(SOURCE_KIND_SENSOR, sensor.Kind)
	require.Equal("sensor:pv_power", sensor.String())

	empty, err := ParseSourceRef("", 1)
	require.NoError(err)
	require.True(empty.IsZero())

	_, err = ParseSourceRef("x/heat", 1)
	require.ErrorIs(err, ErrConfiguration)
}

func TestCOPSourcesMustDiffer(t *testing.T) {
	heat, _ := ParseSourceRef("heat_energy_total", 1)
	alias, _ := ParseSourceRef("1/heat_energy_total", 1)

	err := COPSourceConfig{Name: "main", HeatSource: heat, ElectricalSource: alias}.Validate()
	assert.ErrorIs(t, err, ErrConfiguration)

	elec, _ := ParseSourceRef("electrical_energy_total", 1)
	assert.NoError(t, COPSourceConfig{Name: "main", HeatSource: heat, ElectricalSource: elec}.Validate())
}

func TestCurveValidate(t *testing.T) {
	base := CurveConfig{Prefix: CURVE_HEATING, TFlowMin: 25, TFlowMax: 50, PVGridOffset: 3, PVBatteryOffset: -2,
		PVBatteryThresholdPct: 20, PVCooldownMinutes: 15}
	assert.NoError(t, base.Validate())

	bad := base
	bad.TFlowMin = 60
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)

	bad = base
	bad.PVGridOffset = 12
	assert.ErrorIs(t, bad.Validate(), ErrConfiguration)

	updated, err := base.ApplyParameter(CURVE_PARAM_PV_COOLDOWN, 30)
	assert.NoError(t, err)
	assert.Equal(t, 30.0, updated.PVCooldownMinutes)
	assert.Equal(t, 15.0, base.PVCooldownMinutes, "original untouched")

	_, err = base.ApplyParameter("nope", 1)
	assert.ErrorIs(t, err, ErrConfiguration)
}
