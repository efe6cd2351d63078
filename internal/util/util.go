package util

import (
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/config"
	"github.com/berfenger/heatpump2mqtt/internal/core/domain"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Modbus: config.ModbusConfig{
			Host:       "-.-.-.-",
			Port:       502,
			Mode:       config.MODBUS_MODE_TEST,
			Model:      "r290",
			Slaves:     []uint{1},
			Timeout:    time.Second,
			Retries:    0,
			BlockSize:  49,
			BlockPause: 0,
		},
		Poller: config.PollerConfig{
			FastInterval: time.Second,
			LongInterval: 10 * time.Second,
		},
		Curves: map[string]config.CurveConfig{
			domain.CURVE_HEATING: {
				Enabled:               true,
				Slave:                 1,
				TargetRegister:        "heating_setpoint",
				TFlowMin:              25,
				TFlowMax:              50,
				PVOptimization:        true,
				PVGridOffset:          3,
				PVGridThresholdKW:     2,
				PVBatteryOffset:       -2,
				PVBatteryThresholdPct: 20,
				PVCooldownMinutes:     15,
				BaseSetpoint:          35,
				TOutMin:               -15,
				TOutMax:               20,
			},
		},
		COP: map[string]config.COPConfig{
			"heatpump": {
				Enabled:          true,
				Slave:            1,
				HeatSource:       "heat_energy_total",
				ElectricalSource: "electrical_energy_total",
				Trigger:          config.COP_TRIGGER_EVENT,
				PollInterval:     time.Minute,
			},
		},
		Sensors: config.SensorsConfig{
			PVPower:        "sensor:pv_power",
			BatterySoC:     "sensor:battery_soc",
			StaleAfter:     10 * time.Minute,
			PVPowerAverage: 0,
			External: map[string]config.ExternalSensorConfig{
				"pv_power":    {Topic: "home/pv/power", Unit: "W"},
				"battery_soc": {Topic: "home/battery/soc", Unit: "%"},
			},
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "heatpump",
			HADiscoveryTopic: "homeassistant",
		},
		Timezone: "UTC",
		Port:     8080,
	}
}
