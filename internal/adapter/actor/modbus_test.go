package actor

import (
	"testing"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/service"
	"github.com/berfenger/heatpump2mqtt/internal/core/store"
	"github.com/berfenger/heatpump2mqtt/internal/util/actorutil"
	"github.com/berfenger/heatpump2mqtt/pkg/r290_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func spawnTestModbusActor(t *testing.T, transport *r290_modbus.TestTransport) (*actor.ActorSystem, *actor.PID, *store.ValueStore) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)

	values := store.NewValueStore()
	poller := &service.BatchPoller{
		Transport: transport,
		Store:     values,
		Config:    service.PollerConfig{BlockSize: 49},
		Logger:    logger,
	}

	props := actor.PropsFromProducer(func() actor.Actor { return NewModbusActor(transport, poller, 5*time.Second, logger) })
	pid := as.Root.Spawn(props)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return as, pid, values
}

func catalog(t *testing.T) []domain.RegisterSpec {
	specs, err := r290_modbus.Catalog(r290_modbus.MODEL_R290)
	require.NoError(t, err)
	return specs
}

func TestPollModbusActor(t *testing.T) {

	transport := r290_modbus.CreateTestTransport()
	as, pid, values := spawnTestModbusActor(t, transport)

	msg := domain.PollRequest{
		SlaveId:   1,
		Cadence:   domain.CadenceFast,
		Registers: r290_modbus.ByCadence(catalog(t), domain.CadenceFast, nil),
	}
	result, err := as.Root.RequestFuture(pid, msg, 10*time.Second).Result()
	require.NoError(t, err)

	resp := result.(domain.PollResponse)
	require.NoError(t, resp.ResponseError)
	assert.Equal(t, 2, resp.BlocksTotal)
	assert.Zero(t, resp.BlocksFailed)
	assert.NotEmpty(t, resp.Readings)

	outdoor, ok := values.Get(1, r290_modbus.REG_OUTDOOR_TEMPERATURE)
	require.True(t, ok)
	assert.Equal(t, -3.5, outdoor.Value)
}

func TestPollFailureModbusActor(t *testing.T) {

	transport := r290_modbus.CreateTestTransport()
	transport.Fail(0x0100, domain.ErrTransportTimeout)
	transport.Fail(0x0110, domain.ErrTransportTimeout)
	as, pid, _ := spawnTestModbusActor(t, transport)

	msg := domain.PollRequest{
		SlaveId:   1,
		Cadence:   domain.CadenceFast,
		Registers: r290_modbus.ByCadence(catalog(t), domain.CadenceFast, nil),
	}
	result, err := as.Root.RequestFuture(pid, msg, 10*time.Second).Result()
	require.NoError(t, err)

	resp := result.(domain.PollResponse)
	assert.ErrorIs(t, resp.ResponseError, service.ErrPollFailed)
	assert.Equal(t, resp.BlocksTotal, resp.BlocksFailed)

	// health reports the last failure class
	result, err = as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, "timeout", result.(domain.ActorHealthResponse).State)
}

func TestWriteRegisterModbusActor(t *testing.T) {

	transport := r290_modbus.CreateTestTransport()
	as, pid, _ := spawnTestModbusActor(t, transport)

	target := r290_modbus.CatalogIndex(catalog(t))[r290_modbus.REG_HEATING_SETPOINT]
	write := domain.RegisterWrite{SlaveId: 1, Register: target, Raw: 38, Value: 38}

	result, err := as.Root.RequestFuture(pid, domain.WriteRegisterRequest{Write: write}, 5*time.Second).Result()
	require.NoError(t, err)

	resp := result.(domain.WriteRegisterResponse)
	require.NoError(t, resp.ResponseError)
	assert.Equal(t, write, resp.Write)

	writes := transport.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, uint16(0x0301), writes[0].Address)
	assert.Equal(t, uint16(38), writes[0].Value)
}

func TestRequestsAreSerializedModbusActor(t *testing.T) {

	transport := r290_modbus.CreateTestTransport()
	as, pid, _ := spawnTestModbusActor(t, transport)

	specs := catalog(t)
	poll := as.Root.RequestFuture(pid, domain.PollRequest{
		SlaveId:   1,
		Cadence:   domain.CadenceLong,
		Registers: r290_modbus.ByCadence(specs, domain.CadenceLong, nil),
	}, 5*time.Second)
	health := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second)

	_, err := poll.Result()
	require.NoError(t, err)
	_, err = health.Result()
	require.NoError(t, err, "stashed requests are answered after the transaction")
}

func TestReconnectModbusActor(t *testing.T) {

	transport := r290_modbus.CreateTestTransport()
	as, pid, _ := spawnTestModbusActor(t, transport)

	result, err := as.Root.RequestFuture(pid, domain.ModbusReconnectRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	require.NoError(t, result.(domain.ModbusReconnectResponse).ResponseError)
	// opened once on start and once more on reconnect
	assert.Equal(t, 2, transport.Opens())

	transport.FailOpen(domain.ErrTransportTimeout)
	result, err = as.Root.RequestFuture(pid, domain.ModbusReconnectRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, result.(domain.ModbusReconnectResponse).ResponseError, domain.ErrTransportTimeout)

	result, err = as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, "timeout", result.(domain.ActorHealthResponse).State)
}

func TestPollTimeoutDerivedFromBlocks(t *testing.T) {

	poller := &service.BatchPoller{
		Config: service.PollerConfig{BlockSize: 49, AttemptTimeout: time.Second, Retries: 2},
	}
	fast := r290_modbus.ByCadence(catalog(t), domain.CadenceFast, nil)

	derived := NewModbusActor(r290_modbus.CreateTestTransport(), poller, 0, zap.NewNop())
	// two blocks, three attempts each
	assert.Equal(t, 6*time.Second+service.POLL_TIMEOUT_MARGIN, derived.pollTimeoutFor(fast))

	fixed := NewModbusActor(r290_modbus.CreateTestTransport(), poller, 5*time.Second, zap.NewNop())
	assert.Equal(t, 5*time.Second, fixed.pollTimeoutFor(fast))
}
