package actorutil

import (
	"testing"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var prefixes = []string{domain.CURVE_HEATING, domain.CURVE_FLOOR_HEATING}

func TestSwitchCommand(t *testing.T) {

	req, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "floor_heating_pv_optimization",
		Command:  "switch",
		Payload:  "OFF",
	}, prefixes)
	require.NoError(t, err)
	require.NotNil(t, req)

	sw, ok := req.(domain.CurveSetPVOptimizationRequest)
	require.True(t, ok)
	assert.Equal(t, domain.CURVE_FLOOR_HEATING, sw.CurvePrefix())
	assert.False(t, sw.Enable)

	_, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "heating_pv_optimization",
		Command:  "switch",
		Payload:  "maybe",
	}, prefixes)
	assert.Error(t, err)
}

func TestNumberCommand(t *testing.T) {

	req, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "heating_pv_grid_threshold",
		Command:  "number",
		Payload:  "2.5",
	}, prefixes)
	require.NoError(t, err)

	param, ok := req.(domain.CurveSetParameterRequest)
	require.True(t, ok)
	assert.Equal(t, domain.CURVE_HEATING, param.CurvePrefix())
	assert.Equal(t, domain.CURVE_PARAM_PV_GRID_THRESHOLD, param.Param)
	assert.Equal(t, 2.5, param.Value)
}

func TestUnknownCommand(t *testing.T) {

	req, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "cooling_pv_cooldown",
		Command:  "number",
		Payload:  "10",
	}, prefixes)
	assert.NoError(t, err)
	assert.Nil(t, req, "curve not configured")

	req, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "heating_colour",
		Command:  "number",
		Payload:  "10",
	}, prefixes)
	assert.NoError(t, err)
	assert.Nil(t, req)
}

func TestExternalOffsetCommands(t *testing.T) {

	req, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.CurveExternalSwitchId(domain.CURVE_HEATING),
		Command:  mqtt.COMMAND_SWITCH,
		Payload:  "ON",
	}, prefixes)
	require.NoError(t, err)

	sw, ok := req.(domain.CurveSetExternalOffsetRequest)
	require.True(t, ok, "external switch is not the PV switch")
	assert.Equal(t, domain.CURVE_HEATING, sw.CurvePrefix())
	assert.True(t, sw.Enable)

	req, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "floor_heating_external_offset_hold",
		Command:  mqtt.COMMAND_NUMBER,
		Payload:  "12",
	}, prefixes)
	require.NoError(t, err)

	param, ok := req.(domain.CurveSetParameterRequest)
	require.True(t, ok)
	assert.Equal(t, domain.CURVE_FLOOR_HEATING, param.CurvePrefix())
	assert.Equal(t, domain.CURVE_PARAM_EXTERNAL_HOLD, param.Param)
	assert.Equal(t, 12.0, param.Value)
}

func TestButtonCommand(t *testing.T) {

	req, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.BUTTON_ID_MODBUS_RECONNECT,
		Command:  mqtt.COMMAND_BUTTON,
		Payload:  "PRESS",
	}, prefixes)
	require.NoError(t, err)
	assert.IsType(t, domain.ModbusReconnectRequest{}, req)

	req, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "restart",
		Command:  mqtt.COMMAND_BUTTON,
		Payload:  "PRESS",
	}, prefixes)
	assert.NoError(t, err)
	assert.Nil(t, req)
}
