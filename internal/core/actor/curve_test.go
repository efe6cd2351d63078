package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/config"
	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/util"
	"github.com/berfenger/heatpump2mqtt/pkg/r290_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCurveObserver struct {
	mu     sync.Mutex
	writes []error
}

func (o *recordingCurveObserver) CurveEvaluated(string, float64, float64) {}

func (o *recordingCurveObserver) CurveWrite(prefix string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = append(o.writes, err)
}

func (o *recordingCurveObserver) Writes() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.writes...)
}

func spawnHeatingCurve(t *testing.T, rig *testRig, observer *recordingCurveObserver) *actor.PID {
	return spawnCurve(t, rig, util.LoadTestConfig(), observer)
}

func spawnCurve(t *testing.T, rig *testRig, cfg config.Config, observer *recordingCurveObserver) *actor.PID {
	plan, err := BuildBridgePlan(cfg, rig.registers, rig.sensors)
	require.NoError(t, err)
	require.Len(t, plan.Curves, 1)
	curveCfg := plan.Curves[0]

	pid := rig.spawn(t, func() actor.Actor {
		return NewCurveActor(curveCfg, rig.modbus, rig.es, observer, rig.logger)
	})
	// subscribed once started
	rig.health(t, pid)
	return pid
}

func (rig *testRig) externalSensor(name string, value float64, unit string) {
	reading := domain.Reading{RegisterId: name, Value: value, Unit: unit, ObservedAt: time.Now()}
	rig.sensors.Put(reading)
	rig.es.Publish(domain.ExternalSensorEvent{Reading: reading})
}

func (rig *testRig) curveState(t *testing.T, pid *actor.PID) domain.GetCurveStateResponse {
	res, err := rig.as.Root.RequestFuture(pid, domain.GetCurveStateRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	return res.(domain.GetCurveStateResponse)
}

func writesOf(rig *testRig, address uint16) []r290_modbus.WriteCall {
	var out []r290_modbus.WriteCall
	for _, w := range rig.transport.Writes() {
		if w.Address == address {
			out = append(out, w)
		}
	}
	return out
}

func TestCurveActorAppliesPVOffset(t *testing.T) {

	rig := newTestRig(t)
	observer := &recordingCurveObserver{}
	pid := spawnHeatingCurve(t, rig, observer)

	// 2.5 kW surplus over the 2 kW threshold, +3 on the 35 °C base
	rig.externalSensor("pv_power", 2500, "W")

	require.Eventually(t, func() bool { return len(writesOf(rig, 0x0301)) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, uint16(38), writesOf(rig, 0x0301)[0].Value)

	require.Eventually(t, func() bool { return len(observer.Writes()) == 1 }, time.Second, 20*time.Millisecond)
	assert.NoError(t, observer.Writes()[0])

	st := rig.curveState(t, pid)
	assert.Equal(t, 3.0, st.State.CurrentOffset)
	require.NotNil(t, st.LastWritten)
	assert.Equal(t, 38.0, *st.LastWritten)
	require.NotNil(t, st.BaseSetpoint)
	assert.Equal(t, 35.0, *st.BaseSetpoint)

	// same inputs, same raw value: nothing is written
	rig.externalSensor("pv_power", 2600, "W")
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, writesOf(rig, 0x0301), 1)
}

func TestCurveActorDisableRestoresBase(t *testing.T) {

	rig := newTestRig(t)
	pid := spawnHeatingCurve(t, rig, &recordingCurveObserver{})

	rig.externalSensor("pv_power", 3000, "W")
	require.Eventually(t, func() bool { return len(writesOf(rig, 0x0301)) == 1 }, 2*time.Second, 20*time.Millisecond)

	res, err := rig.as.Root.RequestFuture(pid, domain.CurveSetPVOptimizationRequest{
		CurveRequestMixIn: domain.CurveRequestMixIn{Prefix: domain.CURVE_HEATING},
		Enable:            false,
	}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.False(t, res.(domain.CurveConfigUpdateResponse).Config.PVOptimizationEnabled)

	// disabling bypasses the cooldown
	require.Eventually(t, func() bool { return len(writesOf(rig, 0x0301)) == 2 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, uint16(35), writesOf(rig, 0x0301)[1].Value)

	st := rig.curveState(t, pid)
	assert.Zero(t, st.State.CurrentOffset)
	assert.True(t, st.State.LastChangeAt.IsZero())
}

func TestCurveActorCooldownHoldsOffset(t *testing.T) {

	rig := newTestRig(t)
	pid := spawnHeatingCurve(t, rig, &recordingCurveObserver{})

	rig.externalSensor("pv_power", 3000, "W")
	require.Eventually(t, func() bool { return len(writesOf(rig, 0x0301)) == 1 }, 2*time.Second, 20*time.Millisecond)

	// surplus gone, but the 15 minute cooldown keeps the offset
	rig.externalSensor("pv_power", 100, "W")
	time.Sleep(200 * time.Millisecond)

	assert.Len(t, writesOf(rig, 0x0301), 1)
	assert.Equal(t, 3.0, rig.curveState(t, pid).State.CurrentOffset)
}

func TestCurveActorRejectsInvalidParameter(t *testing.T) {

	rig := newTestRig(t)
	pid := spawnHeatingCurve(t, rig, &recordingCurveObserver{})

	res, err := rig.as.Root.RequestFuture(pid, domain.CurveSetParameterRequest{
		CurveRequestMixIn: domain.CurveRequestMixIn{Prefix: domain.CURVE_HEATING},
		Param:             domain.CURVE_PARAM_PV_GRID_OFFSET,
		Value:             25,
	}, 2*time.Second).Result()
	require.NoError(t, err)

	resp := res.(domain.CurveConfigUpdateResponse)
	assert.ErrorIs(t, resp.ResponseError, domain.ErrConfiguration)
	assert.Equal(t, 3.0, rig.curveState(t, pid).Config.PVGridOffset)

	res, err = rig.as.Root.RequestFuture(pid, domain.CurveSetParameterRequest{
		CurveRequestMixIn: domain.CurveRequestMixIn{Prefix: domain.CURVE_HEATING},
		Param:             domain.CURVE_PARAM_BASE_SETPOINT,
		Value:             40,
	}, 2*time.Second).Result()
	require.NoError(t, err)
	require.NoError(t, res.(domain.CurveConfigUpdateResponse).ResponseError)

	// no pv input: the rejected command wrote the 35 °C base, the accepted one moves it
	require.Eventually(t, func() bool { return len(writesOf(rig, 0x0301)) == 2 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, uint16(35), writesOf(rig, 0x0301)[0].Value)
	assert.Equal(t, uint16(40), writesOf(rig, 0x0301)[1].Value)
}

func TestCurveActorPublishesControls(t *testing.T) {

	rig := newTestRig(t)
	switches := recordEvents[domain.SwitchSensorUpdateEvent](t, rig.es)
	inputs := recordEvents[domain.InputNumberSensorUpdateEvent](t, rig.es)

	pid := spawnHeatingCurve(t, rig, &recordingCurveObserver{})
	assert.Equal(t, "idle", rig.health(t, pid).State)

	require.Len(t, switches.Events(), 2)
	assert.Equal(t, domain.CurvePVSwitchId(domain.CURVE_HEATING), switches.Events()[0].Id)
	assert.True(t, switches.Events()[0].Value)
	assert.Equal(t, domain.CurveExternalSwitchId(domain.CURVE_HEATING), switches.Events()[1].Id)
	assert.False(t, switches.Events()[1].Value)
	assert.Len(t, inputs.Events(), len(domain.CurveParams))
}

func TestCurveActorExternalOffsetAfterHold(t *testing.T) {

	rig := newTestRig(t)
	cfg := util.LoadTestConfig()
	heating := cfg.Curves[domain.CURVE_HEATING]
	heating.ExternalOffset = 2
	// 300ms
	heating.ExternalHoldMinutes = 0.005
	cfg.Curves[domain.CURVE_HEATING] = heating
	pid := spawnCurve(t, rig, cfg, &recordingCurveObserver{})

	// first evaluation writes the plain base
	rig.es.Publish(domain.ReadingsUpdatedEvent{SlaveId: 1, Cadence: domain.CadenceFast})
	require.Eventually(t, func() bool { return len(writesOf(rig, 0x0301)) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, uint16(35), writesOf(rig, 0x0301)[0].Value)

	res, err := rig.as.Root.RequestFuture(pid, domain.CurveSetExternalOffsetRequest{
		CurveRequestMixIn: domain.CurveRequestMixIn{Prefix: domain.CURVE_HEATING},
		Enable:            true,
	}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.CurveConfigUpdateResponse).Config.ExternalOffsetEnabled)

	st := rig.curveState(t, pid)
	assert.Zero(t, st.External.Active, "held back")
	require.NotNil(t, st.External.Pending)
	assert.Equal(t, 2.0, *st.External.Pending)
	assert.Len(t, writesOf(rig, 0x0301), 1)

	// the hold timer re-evaluates without any new input
	require.Eventually(t, func() bool { return len(writesOf(rig, 0x0301)) == 2 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, uint16(37), writesOf(rig, 0x0301)[1].Value)

	st = rig.curveState(t, pid)
	assert.Equal(t, 2.0, st.External.Active)
	assert.Nil(t, st.External.Pending)
}
