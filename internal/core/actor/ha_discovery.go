package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type HADiscoveryConfig struct {
	BaseTopic string
	Model     string
	Slaves    []uint8
	Registers []domain.RegisterSpec
	Curves    []domain.CurveConfig
	COPs      []string
}

// HADiscoveryActor announces every entity of the bridge once the modbus and
// MQTT actors are up, then stays idle.
type HADiscoveryActor struct {
	config             HADiscoveryConfig
	behavior           actor.Behavior
	stash              *actorutil.Stash
	modbusActor        *actor.PID
	mqttActor          *actor.PID
	modbusActorHealthy bool
	mqttActorHealthy   bool
	healthyRecv        int

	logger *zap.Logger
}

func NewHADiscoveryActor(config HADiscoveryConfig, modbusActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		modbusActor: modbusActor,
		mqttActor:   mqttActor,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// Check Modbus and MQTT actor healthy
		state.healthyRecv = 0
		state.modbusActorHealthy = false
		state.mqttActorHealthy = false
		// Modbus Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MODBUS,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_MODBUS:
				state.modbusActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if !state.modbusActorHealthy || !state.mqttActorHealthy {
				panic(errors.New("MQTT Actor or Modbus Actor are not healthy"))
			}
			entities := state.entities()
			state.logger.Info("hadiscovery: publishing entities", zap.Int("sensors", len(entities.Sensors)),
				zap.Int("switches", len(entities.Switches)), zap.Int("input_numbers", len(entities.InputNumbers)),
				zap.Int("buttons", len(entities.Buttons)))
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.PublishDiscoveryRequest{
				Entities: entities,
			}, 10*time.Second), func(err error) any {
				return domain.PublishDiscoveryResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
			state.behavior.Become(state.WaitingPublishReceive)
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingPublishReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PublishDiscoveryResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Debug("hadiscovery@publish: PublishDiscoveryResponse")
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@publish: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   "done",
		})
	}
}

func (state *HADiscoveryActor) entities() domain.HAEntities {
	var sensors []domain.GenericSensor
	var switches []domain.GenericSwitch
	var inputNumbers []domain.GenericInputNumber

	bridgeDevice := domain.BridgeDevice(state.config.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	for _, slave := range state.config.Slaves {
		device := domain.HeatPumpDevice(state.config.BaseTopic, state.config.Model, slave)
		device.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, domain.RegisterSensors(device, slave, state.config.Registers)...)
	}

	for _, curve := range state.config.Curves {
		device := domain.CurveDevice(state.config.BaseTopic, curve)
		device.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, domain.CurveSensors(device, curve.Prefix)...)
		switches = append(switches, domain.CurveSwitches(device, curve.Prefix)...)
		inputNumbers = append(inputNumbers, domain.CurveInputNumbers(device, curve)...)
	}

	for _, name := range state.config.COPs {
		device := domain.COPDevice(state.config.BaseTopic, name)
		device.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, domain.COPSensors(device, name)...)
	}

	return domain.HAEntities{
		Sensors:      sensors,
		Switches:     switches,
		InputNumbers: inputNumbers,
		Buttons:      domain.BridgeButtons(bridgeDevice),
	}
}
