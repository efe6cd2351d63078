package actor

import (
	"testing"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/store"
	"github.com/berfenger/heatpump2mqtt/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHADiscoveryEntities(t *testing.T) {

	cfg := util.LoadTestConfig()
	plan, err := BuildBridgePlan(cfg, store.NewValueStore(), store.NewValueStore())
	require.NoError(t, err)

	discoveryCfg := HADiscoveryConfig{
		BaseTopic: cfg.MQTT.BaseTopic,
		Model:     cfg.Modbus.Model,
		Slaves:    plan.Slaves,
		Registers: plan.Polled(),
		COPs:      []string{"heatpump"},
	}
	for _, c := range plan.Curves {
		discoveryCfg.Curves = append(discoveryCfg.Curves, c.Curve)
	}
	act := NewHADiscoveryActor(discoveryCfg, nil, nil, zap.NewNop())

	entities := act.entities()
	sensors := entities.Sensors

	ids := map[string]domain.GenericSensor{}
	for _, s := range sensors {
		ids[s.Id] = s
	}
	require.Contains(t, ids, domain.ReadingSensorId(1, "flow_temperature"), "polled registers are announced")

	// the heat pump is announced behind the bridge device
	heatPump := domain.HeatPumpDevice(cfg.MQTT.BaseTopic, cfg.Modbus.Model, 1)
	var via string
	for _, s := range sensors {
		if s.Device.Id == heatPump.Id && s.Device.ViaDevice != "" {
			via = s.Device.ViaDevice
			break
		}
	}
	assert.Equal(t, domain.BridgeDevice(cfg.MQTT.BaseTopic).Id, via)

	assert.Contains(t, ids, domain.CurveOffsetSensorId(domain.CURVE_HEATING))
	assert.Contains(t, ids, domain.CurveFlowTargetSensorId(domain.CURVE_HEATING))
	for _, period := range domain.Periods {
		assert.Contains(t, ids, domain.COPSensorId("heatpump", period))
	}

	assert.Contains(t, ids, domain.CurveExternalOffsetSensorId(domain.CURVE_HEATING))

	require.Len(t, entities.Switches, 2)
	assert.Equal(t, domain.CurvePVSwitchId(domain.CURVE_HEATING), entities.Switches[0].Id)
	assert.Equal(t, domain.CurveExternalSwitchId(domain.CURVE_HEATING), entities.Switches[1].Id)
	assert.Len(t, entities.InputNumbers, len(domain.CurveParams))

	// the reconnect button belongs to the bridge device
	require.Len(t, entities.Buttons, 1)
	assert.Equal(t, domain.BUTTON_ID_MODBUS_RECONNECT, entities.Buttons[0].Id)
	assert.Equal(t, domain.BridgeDevice(cfg.MQTT.BaseTopic).Id, entities.Buttons[0].Device.Id)
}
