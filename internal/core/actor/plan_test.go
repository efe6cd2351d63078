package actor

import (
	"testing"

	"github.com/berfenger/heatpump2mqtt/internal/config"
	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/store"
	"github.com/berfenger/heatpump2mqtt/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBridgePlan(t *testing.T) {

	plan, err := BuildBridgePlan(util.LoadTestConfig(), store.NewValueStore(), store.NewValueStore())
	require.NoError(t, err)

	assert.Empty(t, plan.Skipped)
	assert.Equal(t, []uint8{1}, plan.Slaves)
	assert.NotEmpty(t, plan.Fast)
	assert.NotEmpty(t, plan.Long)
	assert.Len(t, plan.Polled(), len(plan.Fast)+len(plan.Long))

	require.Len(t, plan.Curves, 1)
	curve := plan.Curves[0]
	assert.Equal(t, []string{domain.CURVE_HEATING}, plan.Prefixes())
	assert.Equal(t, uint8(1), curve.SlaveId)
	assert.Equal(t, uint16(0x0301), curve.Target.Address)
	assert.Equal(t, domain.SOURCE_KIND_SENSOR, curve.PVPower.Kind)
	assert.Equal(t, "pv_power", curve.PVPower.Id)

	require.Len(t, plan.COPs, 1)
	assert.Equal(t, "heatpump", plan.COPs[0].Sources.Name)
	assert.Equal(t, config.COP_TRIGGER_EVENT, plan.COPs[0].Trigger)
}

func TestBuildBridgePlanSkipsBadCurves(t *testing.T) {

	cases := map[string]string{
		"unknown":   "no_such_register",
		"read-only": "flow_temperature",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := util.LoadTestConfig()
			c := cfg.Curves[domain.CURVE_HEATING]
			c.TargetRegister = target
			cfg.Curves[domain.CURVE_HEATING] = c

			plan, err := BuildBridgePlan(cfg, store.NewValueStore(), store.NewValueStore())
			require.NoError(t, err)

			assert.Empty(t, plan.Curves)
			require.Len(t, plan.Skipped, 1)
			assert.ErrorIs(t, plan.Skipped[0], domain.ErrConfiguration)
			// the rest of the bridge still runs
			assert.Len(t, plan.COPs, 1)
		})
	}
}

func TestBuildBridgePlanSkipsUnknownCOPSource(t *testing.T) {

	cfg := util.LoadTestConfig()
	c := cfg.COP["heatpump"]
	c.HeatSource = "no_such_meter"
	cfg.COP["heatpump"] = c

	plan, err := BuildBridgePlan(cfg, store.NewValueStore(), store.NewValueStore())
	require.NoError(t, err)

	assert.Empty(t, plan.COPs)
	require.Len(t, plan.Skipped, 1)
	assert.ErrorIs(t, plan.Skipped[0], domain.ErrConfiguration)
	assert.Len(t, plan.Curves, 1)
}

func TestBuildBridgePlanDisabledComponents(t *testing.T) {

	cfg := util.LoadTestConfig()
	c := cfg.Curves[domain.CURVE_HEATING]
	c.Enabled = false
	cfg.Curves[domain.CURVE_HEATING] = c

	plan, err := BuildBridgePlan(cfg, store.NewValueStore(), store.NewValueStore())
	require.NoError(t, err)
	assert.Empty(t, plan.Curves)
	assert.Empty(t, plan.Skipped)
}

func TestBuildBridgePlanUnknownModel(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.Modbus.Model = "r32"

	_, err := BuildBridgePlan(cfg, store.NewValueStore(), store.NewValueStore())
	assert.Error(t, err)
}

func TestBuildBridgePlanRejectsSharedTarget(t *testing.T) {

	cfg := util.LoadTestConfig()
	floor := cfg.Curves[domain.CURVE_HEATING]
	cfg.Curves[domain.CURVE_FLOOR_HEATING] = floor

	plan, err := BuildBridgePlan(cfg, store.NewValueStore(), store.NewValueStore())
	require.NoError(t, err)

	// curves are planned in name order, the first one keeps the register
	assert.Equal(t, []string{domain.CURVE_FLOOR_HEATING}, plan.Prefixes())
	require.Len(t, plan.Skipped, 1)
	assert.ErrorIs(t, plan.Skipped[0], domain.ErrConfiguration)
	assert.Contains(t, plan.Skipped[0].Error(), domain.CURVE_HEATING)

	// the same register on another slave is a different target
	cfg.Modbus.Slaves = []uint{1, 2}
	floor.Slave = 2
	cfg.Curves[domain.CURVE_FLOOR_HEATING] = floor
	plan, err = BuildBridgePlan(cfg, store.NewValueStore(), store.NewValueStore())
	require.NoError(t, err)
	assert.Len(t, plan.Curves, 2)
	assert.Empty(t, plan.Skipped)
}

func TestBuildBridgePlanCOPDefaults(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.COP["split"] = config.COPConfig{
		Enabled:          true,
		HeatSource:       "heat_energy_total",
		ElectricalSource: "electrical_energy_total",
	}
	cfg.COP["buffer"] = config.COPConfig{
		Enabled:          true,
		HeatSource:       "heat_energy_total",
		ElectricalSource: "electrical_energy_total",
		Trigger:          config.COP_TRIGGER_POLL,
	}

	plan, err := BuildBridgePlan(cfg, store.NewValueStore(), store.NewValueStore())
	require.NoError(t, err)
	assert.Empty(t, plan.Skipped)
	require.Len(t, plan.COPs, 3)

	byName := map[string]COPActorConfig{}
	for _, c := range plan.COPs {
		byName[c.Sources.Name] = c
	}
	assert.Equal(t, config.COP_TRIGGER_EVENT, byName["split"].Trigger)
	assert.Equal(t, config.COP_TRIGGER_POLL, byName["buffer"].Trigger)
	assert.Equal(t, config.DEFAULT_COP_POLL_INTERVAL, byName["buffer"].PollInterval)
}

func TestBuildBridgePlanSkipsCurveWithoutRegisterStep(t *testing.T) {

	cfg := util.LoadTestConfig()
	c := cfg.Curves[domain.CURVE_HEATING]
	c.TFlowMin = 35.2
	c.TFlowMax = 35.6
	c.BaseSetpoint = 35.4
	cfg.Curves[domain.CURVE_HEATING] = c

	plan, err := BuildBridgePlan(cfg, store.NewValueStore(), store.NewValueStore())
	require.NoError(t, err)
	assert.Empty(t, plan.Curves)
	require.Len(t, plan.Skipped, 1)
	assert.ErrorIs(t, plan.Skipped[0], domain.ErrConfiguration)
}
