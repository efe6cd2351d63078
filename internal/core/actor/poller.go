package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	FAST_POLL_INITIAL_DELAY = 500 * time.Millisecond
	LONG_POLL_INITIAL_DELAY = 3 * time.Second
)

type PollerActorConfig struct {
	Cadence        domain.Cadence
	Interval       time.Duration
	InitialDelay   time.Duration
	Slaves         []uint8
	Registers      []domain.RegisterSpec
	RequestTimeout time.Duration
}

// PollerActor drives one cadence. A tick asks the modbus actor to poll every
// slave and the next tick is only scheduled when all of them answered, so
// ticks of the same cadence never overlap.
type PollerActor struct {
	behavior    actor.Behavior
	stash       *actorutil.Stash
	scheduler   *scheduler.TimerScheduler
	modbusActor *actor.PID
	eventStream *eventstream.EventStream
	config      PollerActorConfig
	specs       map[string]domain.RegisterSpec

	pending       int
	tickStartedAt time.Time
	tickError     error
	lastError     error

	logger *zap.Logger
	now    func() time.Time
}

type pollTick struct {
}

func NewPollerActor(config PollerActorConfig, modbusActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * time.Minute
	}
	specs := make(map[string]domain.RegisterSpec, len(config.Registers))
	for _, s := range config.Registers {
		specs[s.Id] = s
	}
	act := &PollerActor{
		config:      config,
		specs:       specs,
		modbusActor: modbusActor,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.PollerActorId(config.Cadence), logger),
		now:         time.Now,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@starting started", zap.String("cadence", string(state.config.Cadence)),
			zap.Int("registers", len(state.config.Registers)), zap.Duration("interval", state.config.Interval))

		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.config.InitialDelay, ctx.Self(), pollTick{})

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("poller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default: ActorHealthRequest")
		actorutil.ForRequest(msg).Respond(ctx, state.health("idle"))
	case pollTick:
		if len(state.config.Registers) == 0 || len(state.config.Slaves) == 0 {
			state.logger.Debug("poller@default tick: nothing to poll")
			state.scheduler.RequestOnce(state.config.Interval, ctx.Self(), pollTick{})
			return
		}
		state.logger.Debug("poller@default tick", zap.String("cadence", string(state.config.Cadence)))
		state.tickStartedAt = state.now()
		state.tickError = nil
		state.pending = len(state.config.Slaves)
		for _, slave := range state.config.Slaves {
			slave := slave
			req := domain.PollRequest{
				SlaveId:   slave,
				Cadence:   state.config.Cadence,
				Registers: state.config.Registers,
			}
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, req, state.config.RequestTimeout), func(err error) any {
				return domain.PollResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					SlaveId: slave,
					Cadence: state.config.Cadence,
				}
			})
		}
		state.behavior.BecomeStacked(state.WaitingPollReceive)
	default:
		state.logger.Debug("poller@default: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PollerActor) WaitingPollReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.health("polling"))
	case domain.PollResponse:
		state.pending--
		if msg.HasResponseError() {
			state.logger.Warn("poller@waiting PollResponse error", zap.Uint8("slave", msg.SlaveId),
				zap.String("cadence", string(msg.Cadence)), zap.String("class", domain.ErrorClass(msg.GetResponseError())),
				zap.Error(msg.GetResponseError()))
			state.tickError = msg.GetResponseError()
		} else {
			state.logger.Debug("poller@waiting PollResponse", zap.Uint8("slave", msg.SlaveId), zap.Int("readings", len(msg.Readings)))
		}
		// partial results are still fresh values
		if len(msg.Readings) > 0 {
			state.publish(msg)
		}
		if state.pending > 0 {
			return
		}

		state.lastError = state.tickError
		state.scheduleNext(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("poller@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) publish(msg domain.PollResponse) {
	state.eventStream.Publish(domain.ReadingsUpdatedEvent{
		SlaveId:  msg.SlaveId,
		Cadence:  msg.Cadence,
		Readings: msg.Readings,
	})
	for _, ev := range domain.ReadingsToUpdateEvents(msg.Readings, state.specs) {
		state.eventStream.Publish(ev)
	}
}

// scheduleNext keeps the interval measured from the start of the last tick.
func (state *PollerActor) scheduleNext(ctx actor.Context) {
	elapsed := state.now().Sub(state.tickStartedAt)
	next := state.config.Interval - elapsed
	if next < 0 {
		state.logger.Warn("poller: tick overran interval", zap.String("cadence", string(state.config.Cadence)),
			zap.Duration("elapsed", elapsed), zap.Duration("interval", state.config.Interval))
		next = 0
	}
	state.scheduler.RequestOnce(next, ctx.Self(), pollTick{})
}

func (state *PollerActor) health(status string) domain.ActorHealthResponse {
	if state.lastError != nil {
		status = "failing"
	}
	return domain.ActorHealthResponse{
		Id:      domain.PollerActorId(state.config.Cadence),
		Healthy: true,
		State:   status,
	}
}
