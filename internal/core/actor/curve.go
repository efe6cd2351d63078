package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"
	"github.com/berfenger/heatpump2mqtt/internal/core/service"
	"github.com/berfenger/heatpump2mqtt/internal/core/store"
	"github.com/berfenger/heatpump2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

type CurveActorConfig struct {
	Curve        domain.CurveConfig
	SlaveId      uint8
	Target       domain.RegisterSpec
	PVPower      domain.SourceRef
	BatterySoC   domain.SourceRef
	Outdoor      domain.SourceRef
	Sources      store.Sources
	PVAverage    time.Duration
	WriteTimeout time.Duration
}

// CurveActor owns the runtime state of one heating curve: the offset engine,
// the base setpoint smoothing and the write path to its target register.
type CurveActor struct {
	actorutil.ActorWithStates
	stash       *actorutil.Stash
	modbusActor *actor.PID
	eventStream *eventstream.EventStream
	eventSub    *eventstream.Subscription
	config      CurveActorConfig
	observer    port.CurveObserver

	engine    port.OffsetDecider
	external  *service.ExternalOffsetHold
	heatCurve *service.HeatCurve
	writePath *service.WritePath
	averager  *service.PowerAverager

	scheduler *scheduler.TimerScheduler
	// re-evaluates once a pending external offset is due
	holdTimer scheduler.CancelFunc

	baseSetpoint *float64
	commanded    *float64
	// an input changed while a write was in flight
	dirty bool

	logger *zap.Logger
	now    func() time.Time
}

type curveInputMessage struct {
	event any
}

type curveEvaluate struct {
}

func NewCurveActor(config CurveActorConfig, modbusActor *actor.PID, eventStream *eventstream.EventStream, observer port.CurveObserver, logger *zap.Logger) *CurveActor {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if observer == nil {
		observer = noopObserver{}
	}
	act := &CurveActor{
		ActorWithStates: actorutil.NewActorWithStates(),
		config:          config,
		modbusActor:     modbusActor,
		eventStream:     eventStream,
		observer:        observer,
		stash:           &actorutil.Stash{},
		engine:          service.NewOffsetEngine(),
		external:        service.NewExternalOffsetHold(),
		heatCurve:       service.NewHeatCurve(),
		writePath:       service.NewWritePath(config.SlaveId, config.Target),
		averager:        service.NewPowerAverager(config.PVAverage),
		logger:          actorutil.ActorLogger(domain.CurveActorId(config.Curve.Prefix), logger),
		now:             time.Now,
	}
	act.Become(CurveStartingState{
		actor: act,
	})
	return act
}

func (state *CurveActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type CurveStartingState struct {
	actorutil.ActorState
	actor *CurveActor
}

func (state CurveStartingState) Name() string {
	return "starting"
}

func (state CurveStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("curve@starting started", zap.String("curve", state.actor.config.Curve.Prefix),
			zap.String("target", state.actor.config.Target.Id))
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.subscribe(ctx)
		state.actor.Become(CurveIdleState{
			actor: state.actor,
		}.OnEnter(ctx))
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("curve@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type CurveIdleState struct {
	actorutil.ActorState
	actor *CurveActor
}

func (state CurveIdleState) Name() string {
	return "idle"
}

func (state CurveIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("curve@idle: ActorHealthRequest")
		actorutil.ForRequest(msg).Respond(ctx, state.actor.health())
	case domain.GetCurveStateRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.actor.curveState())
	case curveInputMessage:
		if state.actor.relevant(msg.event) {
			state.actor.evaluate(ctx)
		}
	case curveEvaluate:
		state.actor.evaluate(ctx)
	case domain.CurveRequest:
		state.actor.handleCommand(ctx, msg)
		state.actor.evaluate(ctx)
	case domain.WriteRegisterResponse:
		// late answer of a write that already timed out
		state.actor.logger.Debug("curve@idle: late WriteRegisterResponse", zap.Error(msg.GetResponseError()))
	case *actor.Stopping:
		state.actor.stopHoldTimer()
		state.actor.unsubscribe()
	default:
		state.actor.logger.Debug("curve@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state CurveIdleState) OnEnter(ctx actor.Context) CurveIdleState {
	state.actor.publishControls()
	return state
}

// Awaiting write state

type CurveAwaitWriteState struct {
	actorutil.ActorState
	actor *CurveActor
	write domain.RegisterWrite
}

func (state CurveAwaitWriteState) Name() string {
	return "writing"
}

func (state CurveAwaitWriteState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.actor.health())
	case domain.GetCurveStateRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.actor.curveState())
	case curveInputMessage:
		if state.actor.relevant(msg.event) {
			state.actor.dirty = true
		}
	case curveEvaluate:
		state.actor.dirty = true
	case domain.WriteRegisterResponse:
		if msg.HasResponseError() {
			// nothing is acknowledged, the next evaluation retries the write
			state.actor.logger.Error("curve@writing: write failed", zap.String("register", state.write.Register.Id),
				zap.Float64("value", state.write.Value), zap.String("class", domain.ErrorClass(msg.GetResponseError())),
				zap.Error(msg.GetResponseError()))
		} else {
			state.actor.logger.Info("curve@writing: setpoint written", zap.String("register", state.write.Register.Id),
				zap.Float64("value", state.write.Value))
			state.actor.writePath.Acknowledge(state.write)
		}
		state.actor.observer.CurveWrite(state.actor.config.Curve.Prefix, msg.GetResponseError())

		state.actor.UnbecomeStacked()
		if state.actor.dirty {
			state.actor.dirty = false
			ctx.Send(ctx.Self(), curveEvaluate{})
		}
		state.actor.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.actor.stopHoldTimer()
		state.actor.unsubscribe()
	default:
		state.actor.logger.Debug("curve@writing: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CurveAwaitWriteState) OnEnterAction(ctx actor.Context) CurveAwaitWriteState {
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.modbusActor, domain.WriteRegisterRequest{
		Write: state.write,
	}, state.actor.config.WriteTimeout), func(err error) any {
		return domain.WriteRegisterResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			Write: state.write,
		}
	})
	return state
}

// Operations

func (state *CurveActor) subscribe(ctx actor.Context) {
	if state.eventStream == nil || state.eventSub != nil {
		return
	}
	state.eventSub = state.eventStream.Subscribe(func(evt any) {
		switch evt.(type) {
		case domain.ReadingsUpdatedEvent, domain.ExternalSensorEvent:
			ctx.Send(ctx.Self(), curveInputMessage{event: evt})
		}
	})
}

func (state *CurveActor) unsubscribe() {
	if state.eventSub != nil {
		state.eventStream.Unsubscribe(state.eventSub)
		state.eventSub = nil
	}
}

// relevant reports whether an input event should trigger an evaluation: a
// poll of the curve's slave, or a change of one of its sources.
func (state *CurveActor) relevant(evt any) bool {
	switch ev := evt.(type) {
	case domain.ReadingsUpdatedEvent:
		// any poll of the curve's slave re-evaluates
		if ev.SlaveId == state.config.SlaveId {
			return true
		}
		for _, r := range ev.Readings {
			if state.matches(r, false) {
				return true
			}
		}
	case domain.ExternalSensorEvent:
		return state.matches(ev.Reading, true)
	}
	return false
}

func (state *CurveActor) matches(r domain.Reading, external bool) bool {
	return store.Matches(state.config.PVPower, r, external) ||
		store.Matches(state.config.BatterySoC, r, external) ||
		store.Matches(state.config.Outdoor, r, external)
}

func (state *CurveActor) evaluate(ctx actor.Context) {
	now := state.now()
	curve := state.config.Curve

	pv := state.pvPowerKW(now)
	soc := state.optionalValue(state.config.BatterySoC, now)
	pvOffset := state.engine.Evaluate(curve, pv, soc, now)
	state.publishFloat(domain.CurveOffsetSensorId(curve.Prefix), pvOffset, 1)

	external, remaining := state.external.Evaluate(curve, now)
	state.publishFloat(domain.CurveExternalOffsetSensorId(curve.Prefix), external, 1)
	state.scheduleHold(ctx, remaining)
	offset := pvOffset + external

	var tOut *float64
	if curve.OutdoorRegister != "" {
		tOut = state.optionalValue(state.config.Outdoor, now)
	}
	base, err := state.heatCurve.BaseSetpoint(curve, tOut, now)
	if err != nil {
		state.logger.Warn("curve: no base setpoint", zap.String("curve", curve.Prefix), zap.Error(err))
		return
	}
	state.baseSetpoint = &base

	commanded := state.writePath.Commanded(curve, base, offset)
	state.commanded = &commanded
	state.publishFloat(domain.CurveFlowTargetSensorId(curve.Prefix), commanded, 1)
	state.observer.CurveEvaluated(curve.Prefix, offset, commanded)

	write, err := state.writePath.Apply(curve, base, offset)
	if err != nil {
		state.logger.Error("curve: cannot encode setpoint", zap.String("curve", curve.Prefix), zap.Float64("value", commanded), zap.Error(err))
		state.observer.CurveWrite(curve.Prefix, err)
		return
	}
	if write == nil {
		state.logger.Debug("curve: setpoint unchanged", zap.String("curve", curve.Prefix), zap.Float64("value", commanded))
		return
	}
	state.logger.Debug("curve: writing setpoint", zap.String("curve", curve.Prefix), zap.Float64("base", base),
		zap.Float64("offset", offset), zap.Float64("value", write.Value))
	state.BecomeStacked(CurveAwaitWriteState{
		actor: state,
		write: *write,
	}.OnEnterAction(ctx))
}

func (state *CurveActor) scheduleHold(ctx actor.Context, remaining time.Duration) {
	state.stopHoldTimer()
	if remaining <= 0 || state.scheduler == nil {
		return
	}
	state.logger.Debug("curve: external offset pending", zap.String("curve", state.config.Curve.Prefix), zap.Duration("remaining", remaining))
	state.holdTimer = state.scheduler.RequestOnce(remaining, ctx.Self(), curveEvaluate{})
}

func (state *CurveActor) stopHoldTimer() {
	if state.holdTimer != nil {
		state.holdTimer()
		state.holdTimer = nil
	}
}

func (state *CurveActor) pvPowerKW(now time.Time) *float64 {
	r, err := state.config.Sources.Lookup(state.config.PVPower, now)
	if err != nil {
		state.logger.Debug("curve: pv power unavailable", zap.Error(err))
		return nil
	}
	kw, ok := service.NormalizePowerKW(r.Value, r.Unit)
	if !ok {
		state.logger.Warn("curve: pv power has an unusable unit", zap.String("source", state.config.PVPower.String()), zap.String("unit", r.Unit))
		return nil
	}
	avg := state.averager.Add(r.ObservedAt, kw)
	return &avg
}

func (state *CurveActor) optionalValue(ref domain.SourceRef, now time.Time) *float64 {
	if ref.IsZero() {
		return nil
	}
	r, err := state.config.Sources.Optional(ref, now)
	if err != nil {
		state.logger.Debug("curve: input unavailable", zap.String("source", ref.String()), zap.Error(err))
		return nil
	}
	return &r.Value
}

func (state *CurveActor) handleCommand(ctx actor.Context, req domain.CurveRequest) {
	curve := state.config.Curve
	switch cmd := req.(type) {
	case domain.CurveSetPVOptimizationRequest:
		state.logger.Sugar().Infof("curve@%s: cmd pv optimization %t", state.StateName(), cmd.Enable)
		curve.PVOptimizationEnabled = cmd.Enable
		state.config.Curve = curve
		state.publishSwitch()
		actorutil.ForRequest(cmd).Respond(ctx, domain.CurveConfigUpdateResponse{Config: curve})
	case domain.CurveSetExternalOffsetRequest:
		state.logger.Sugar().Infof("curve@%s: cmd external offset %t", state.StateName(), cmd.Enable)
		curve.ExternalOffsetEnabled = cmd.Enable
		state.config.Curve = curve
		state.publishSwitch()
		actorutil.ForRequest(cmd).Respond(ctx, domain.CurveConfigUpdateResponse{Config: curve})
	case domain.CurveSetParameterRequest:
		updated, err := curve.ApplyParameter(cmd.Param, cmd.Value)
		if err != nil {
			state.logger.Warn("curve: rejected parameter", zap.String("param", cmd.Param), zap.Float64("value", cmd.Value), zap.Error(err))
			// restore the previous value on the entity
			state.publishParam(cmd.Param)
			actorutil.ForRequest(cmd).Respond(ctx, domain.CurveConfigUpdateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
				Config: curve,
			})
			return
		}
		state.logger.Sugar().Infof("curve@%s: cmd set %s = %.2f", state.StateName(), cmd.Param, cmd.Value)
		state.config.Curve = updated
		state.publishParam(cmd.Param)
		actorutil.ForRequest(cmd).Respond(ctx, domain.CurveConfigUpdateResponse{Config: updated})
	}
}

func (state *CurveActor) publishControls() {
	state.publishSwitch()
	for _, param := range domain.CurveParams {
		state.publishParam(param)
	}
}

func (state *CurveActor) publishSwitch() {
	curve := state.config.Curve
	state.eventStream.Publish(domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.CurvePVSwitchId(curve.Prefix),
		},
		Value: curve.PVOptimizationEnabled,
	})
	state.eventStream.Publish(domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.CurveExternalSwitchId(curve.Prefix),
		},
		Value: curve.ExternalOffsetEnabled,
	})
}

func (state *CurveActor) publishParam(param string) {
	state.eventStream.Publish(domain.InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.CurveParamId(state.config.Curve.Prefix, param),
		},
		Value:    state.config.Curve.ParameterValue(param),
		Decimals: 1,
	})
}

func (state *CurveActor) publishFloat(id string, value float64, decimals uint) {
	state.eventStream.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: id,
		},
		Value:    value,
		Decimals: decimals,
	})
}

func (state *CurveActor) curveState() domain.GetCurveStateResponse {
	return domain.GetCurveStateResponse{
		Config:       state.config.Curve,
		State:        state.engine.State(),
		External:     state.external.State(),
		BaseSetpoint: state.baseSetpoint,
		Commanded:    state.commanded,
		LastWritten:  state.writePath.LastWritten(),
	}
}

func (state *CurveActor) health() domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.CurveActorId(state.config.Curve.Prefix),
		Healthy: true,
		State:   state.StateName(),
	}
}

type noopObserver struct {
}

func (noopObserver) CurveEvaluated(string, float64, float64) {}

func (noopObserver) CurveWrite(string, error) {}

func (noopObserver) COPUpdated(string, []domain.EnergyBucket) {}
