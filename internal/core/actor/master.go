package actor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	adactor "github.com/berfenger/heatpump2mqtt/internal/adapter/actor"
	"github.com/berfenger/heatpump2mqtt/internal/config"
	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"
	"github.com/berfenger/heatpump2mqtt/internal/core/service"
	"github.com/berfenger/heatpump2mqtt/internal/core/store"
	"github.com/berfenger/heatpump2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const (
	// local midnight, seconds first
	COP_ROLLOVER_CRON = "0 0 0 * * *"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type ModbusActorProvider func() *adactor.ModbusActor

type BlobStoreProvider func(name string) port.BlobStore

type BridgeObserver interface {
	port.CurveObserver
	port.COPObserver
}

// MasterDependencies are shared with the adapters built outside the actor
// system: the stores are filled by the modbus and MQTT actors.
type MasterDependencies struct {
	Registers *store.ValueStore
	Sensors   *store.ValueStore
	Blobs     BlobStoreProvider
	Observer  BridgeObserver
}

type MasterOfPuppetsActor struct {
	config   config.Config
	deps     MasterDependencies
	behavior actor.Behavior
	stash    *actorutil.Stash

	currentHealthCheck  healthCheckResult
	eventStream         *eventstream.EventStream
	plan                *BridgePlan
	modbusActor         *actor.PID
	mqttActor           *actor.PID
	pollerActors        map[domain.Cadence]*actor.PID
	curveActors         map[string]*actor.PID
	copActors           map[string]*actor.PID
	modbusActorProvider ModbusActorProvider
	mqttActorProvider   MQTTActorProvider
	rollover            quartz.Scheduler
	rolloverCancel      context.CancelFunc
	logger              *zap.Logger
}

type healthCheckResult struct {
	expected       int
	checksReceived int
	healthy        map[string]bool
	respondTo      *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, deps MasterDependencies, modbusActorProvider ModbusActorProvider, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:              config,
		deps:                deps,
		behavior:            actor.NewBehavior(),
		stash:               &actorutil.Stash{},
		logger:              actorutil.ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:         &eventstream.EventStream{},
		pollerActors:        map[domain.Cadence]*actor.PID{},
		curveActors:         map[string]*actor.PID{},
		copActors:           map[string]*actor.PID{},
		modbusActorProvider: modbusActorProvider,
		mqttActorProvider:   mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		plan, err := BuildBridgePlan(state.config, state.deps.Registers, state.deps.Sensors)
		if err != nil {
			panic(err)
		}
		for _, skipped := range plan.Skipped {
			state.logger.Error("master@starting component disabled", zap.String("class", domain.ErrorClass(skipped)), zap.Error(skipped))
		}
		state.plan = plan

		// start Modbus child
		modbusActorPID, err := state.startModbusActor(ctx)
		if err != nil {
			panic(err)
		}
		state.modbusActor = modbusActorPID

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start pollers
		for _, cadence := range []domain.Cadence{domain.CadenceFast, domain.CadenceLong} {
			pid, err := state.startPollerActor(ctx, cadence)
			if err != nil {
				panic(err)
			}
			state.pollerActors[cadence] = pid
		}

		// start curves
		for _, curveCfg := range plan.Curves {
			pid, err := state.startCurveActor(ctx, curveCfg)
			if err != nil {
				panic(err)
			}
			state.curveActors[curveCfg.Curve.Prefix] = pid
		}

		// start COP accumulators
		for _, copCfg := range plan.COPs {
			pid, err := state.startCOPActor(ctx, copCfg)
			if err != nil {
				panic(err)
			}
			state.copActors[copCfg.Sources.Name] = pid
		}
		if len(state.copActors) > 0 {
			if err := state.startRolloverScheduler(ctx); err != nil {
				panic(err)
			}
		}

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		state.logger.Info("master@starting bridge started", zap.Int("slaves", len(plan.Slaves)),
			zap.Strings("curves", plan.Prefixes()), zap.Int("cop", len(plan.COPs)))

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		children := state.children()
		state.currentHealthCheck.reset(len(children))
		state.currentHealthCheck.respondTo = actorutil.ForRequest(msg).ReplyTo(ctx)
		for id, pid := range children {
			id := id
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.GetBridgeComponentsRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetBridgeComponentsResponse{
			Curves: refs(state.curveActors),
			COPs:   refs(state.copActors),
		})
	case adactor.ParsedCommand:
		// redirect parsedCommand to the curve or bridge component it addresses
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command == nil {
			return
		}
		cmd, err := actorutil.ParsedMQTTCommandToCommand(*msg.Command, state.plan.Prefixes())
		if err != nil {
			state.logger.Warn("master@default invalid command", zap.String("device", msg.Command.DeviceId), zap.Error(err))
			return
		}
		switch cmd := cmd.(type) {
		case domain.CurveRequest:
			if pid, ok := state.curveActors[cmd.CurvePrefix()]; ok {
				ctx.Send(pid, cmd)
			}
		case domain.ModbusReconnectRequest:
			state.logger.Info("master@default modbus reconnect requested")
			ctx.Send(state.modbusActor, cmd)
		}
	case domain.ModbusReconnectRequest:
		ctx.Forward(state.modbusActor)
	case domain.CurveRequest:
		// commands from other callers are routed the same way
		if pid, ok := state.curveActors[msg.CurvePrefix()]; ok {
			ctx.Forward(pid)
		} else {
			actorutil.ForRequest(msg).Respond(ctx, domain.CurveConfigUpdateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: fmt.Errorf("%w: curve %s is not active", domain.ErrConfiguration, msg.CurvePrefix()),
				},
			})
		}
	case *actor.Terminated:
		// if some actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_MODBUS) {
			state.logger.Error("master@default modbus error")
			panic(errors.New("modbus terminated"))
		}
	case *actor.Stopping:
		state.stopRolloverScheduler()
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.SetReceiveTimeout(0)
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy), zap.String("state", msg.State))
		state.currentHealthCheck.checksReceived++
		state.currentHealthCheck.healthy[msg.Id] = msg.Healthy
		if state.currentHealthCheck.allReceived() {
			ctx.SetReceiveTimeout(0)
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	case *actor.Stopping:
		state.stopRolloverScheduler()
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{
		domain.ACTOR_ID_MODBUS: state.modbusActor,
		domain.ACTOR_ID_MQTT:   state.mqttActor,
	}
	for cadence, pid := range state.pollerActors {
		children[domain.PollerActorId(cadence)] = pid
	}
	for prefix, pid := range state.curveActors {
		children[domain.CurveActorId(prefix)] = pid
	}
	for name, pid := range state.copActors {
		children[domain.COPActorId(name)] = pid
	}
	return children
}

func (state *MasterOfPuppetsActor) startModbusActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	modbusProps := actor.PropsFromProducer(func() actor.Actor {
		return state.modbusActorProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(modbusProps, domain.ACTOR_ID_MODBUS)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startPollerActor(ctx actor.Context, cadence domain.Cadence) (*actor.PID, error) {

	pollerCfg := PollerActorConfig{
		Cadence: cadence,
		Slaves:  state.plan.Slaves,
	}
	switch cadence {
	case domain.CadenceFast:
		pollerCfg.Interval = state.config.Poller.FastInterval
		pollerCfg.InitialDelay = FAST_POLL_INITIAL_DELAY
		pollerCfg.Registers = state.plan.Fast
	default:
		pollerCfg.Interval = state.config.Poller.LongInterval
		pollerCfg.InitialDelay = LONG_POLL_INITIAL_DELAY
		pollerCfg.Registers = state.plan.Long
	}
	// queued behind the other cadence at worst
	pollerCfg.RequestTimeout = 2 * ModbusPollerConfig(state.config.Modbus).PollTimeout(pollerCfg.Registers)

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(pollerCfg, state.modbusActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(state.restartSupervisor()))
	return ctx.SpawnNamed(pollerProps, domain.PollerActorId(cadence))
}

func (state *MasterOfPuppetsActor) startCurveActor(ctx actor.Context, curveCfg CurveActorConfig) (*actor.PID, error) {

	curveProps := actor.PropsFromProducer(func() actor.Actor {
		return NewCurveActor(curveCfg, state.modbusActor, state.eventStream, state.deps.Observer, state.logger)
	}, actor.WithSupervisor(state.restartSupervisor()))
	return ctx.SpawnNamed(curveProps, domain.CurveActorId(curveCfg.Curve.Prefix))
}

func (state *MasterOfPuppetsActor) startCOPActor(ctx actor.Context, copCfg COPActorConfig) (*actor.PID, error) {

	var blob port.BlobStore
	if state.deps.Blobs != nil {
		blob = state.deps.Blobs(copCfg.Sources.Name)
	}

	copProps := actor.PropsFromProducer(func() actor.Actor {
		accumulator := service.NewAccumulator(copCfg.Sources, blob, state.plan.Location, state.logger)
		return NewCOPActor(copCfg, accumulator, state.eventStream, state.deps.Observer, state.logger)
	}, actor.WithSupervisor(state.restartSupervisor()))
	return ctx.SpawnNamed(copProps, domain.COPActorId(copCfg.Sources.Name))
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	discoveryCfg := HADiscoveryConfig{
		BaseTopic: state.config.MQTT.BaseTopic,
		Model:     state.config.Modbus.Model,
		Slaves:    state.plan.Slaves,
		Registers: state.plan.Polled(),
		COPs:      slices.Sorted(maps.Keys(state.copActors)),
	}
	for _, c := range state.plan.Curves {
		discoveryCfg.Curves = append(discoveryCfg.Curves, c.Curve)
	}

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(discoveryCfg, state.modbusActor, state.mqttActor, state.logger)
	}, actor.WithSupervisor(state.restartSupervisor()))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

// startRolloverScheduler closes the COP day at local midnight even when no
// meter update arrives around it.
func (state *MasterOfPuppetsActor) startRolloverScheduler(ctx actor.Context) error {
	trigger, err := quartz.NewCronTriggerWithLoc(COP_ROLLOVER_CRON, state.plan.Location)
	if err != nil {
		return err
	}

	root := ctx.ActorSystem().Root
	cops := slices.Collect(maps.Values(state.copActors))
	rolloverJob := job.NewFunctionJob(func(_ context.Context) (int, error) {
		for _, pid := range cops {
			root.Send(pid, domain.COPRolloverRequest{})
		}
		return len(cops), nil
	})

	schedCtx, cancel := context.WithCancel(context.Background())
	sched := quartz.NewStdScheduler()
	sched.Start(schedCtx)
	if err := sched.ScheduleJob(quartz.NewJobDetail(rolloverJob, quartz.NewJobKey("cop_rollover")), trigger); err != nil {
		sched.Stop()
		cancel()
		return err
	}
	state.rollover = sched
	state.rolloverCancel = cancel
	return nil
}

func (state *MasterOfPuppetsActor) stopRolloverScheduler() {
	if state.rollover == nil {
		return
	}
	state.rollover.Stop()
	state.rolloverCancel()
	state.rollover = nil
}

func (state *MasterOfPuppetsActor) restartSupervisor() actor.SupervisorStrategy {
	decider := func(reason interface{}) actor.Directive {
		state.logger.Error("handling failure for child", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	return actor.NewOneForOneStrategy(1, 10*time.Second, decider)
}

func refs(pids map[string]*actor.PID) map[string]*domain.ActorRef {
	out := make(map[string]*domain.ActorRef, len(pids))
	for k, pid := range pids {
		out[k] = actorutil.RefOf(pid)
	}
	return out
}

func (state *healthCheckResult) reset(expected int) {
	state.expected = expected
	state.checksReceived = 0
	state.healthy = map[string]bool{}
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.expected
}

func (state *healthCheckResult) unhealthy() []string {
	var ids []string
	for id, ok := range state.healthy {
		if !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	unhealthy := state.unhealthy()
	healthy := state.allReceived() && len(unhealthy) == 0
	status := "ok"
	if !state.allReceived() {
		status = fmt.Sprintf("%d/%d children answered", state.checksReceived, state.expected)
	} else if len(unhealthy) > 0 {
		status = "unhealthy: " + strings.Join(unhealthy, ",")
	}
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: healthy,
		State:   status,
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
