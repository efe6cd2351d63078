package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/config"
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

type COPActorConfig struct {
	Sources      domain.COPSourceConfig
	Trigger      string
	PollInterval time.Duration
	Lookup       store.Sources
}

// COPActor feeds one accumulator from the meter totals and publishes the
// ratio of every period after each update.
type COPActor struct {
	behavior    actor.Behavior
	stash       *actorutil.Stash
	scheduler   *scheduler.TimerScheduler
	eventStream *eventstream.EventStream
	eventSub    *eventstream.Subscription
	config      COPActorConfig
	accumulator *service.Accumulator
	observer    port.COPObserver
	lastError   error

	logger *zap.Logger
	now    func() time.Time
}

type copTick struct {
}

type copInputMessage struct {
	event any
}

func NewCOPActor(config COPActorConfig, accumulator *service.Accumulator, eventStream *eventstream.EventStream, observer port.COPObserver, logger *zap.Logger) *COPActor {
	if observer == nil {
		observer = noopObserver{}
	}
	act := &COPActor{
		config:      config,
		accumulator: accumulator,
		eventStream: eventStream,
		observer:    observer,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.COPActorId(config.Sources.Name), logger),
		now:         time.Now,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *COPActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *COPActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("cop@starting started", zap.String("cop", state.config.Sources.Name), zap.String("trigger", state.config.Trigger))

		if err := state.accumulator.Load(); err != nil {
			// keep counting from an empty state rather than not at all
			state.logger.Error("cop@starting could not load persisted state", zap.String("cop", state.config.Sources.Name), zap.Error(err))
			state.lastError = err
		}
		state.accumulator.Rollover(state.now())
		state.publish()

		state.scheduler = scheduler.NewTimerScheduler(ctx)
		switch state.config.Trigger {
		case config.COP_TRIGGER_POLL:
			state.scheduler.RequestOnce(state.config.PollInterval, ctx.Self(), copTick{})
		default:
			state.subscribe(ctx)
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("cop@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *COPActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("cop@default: ActorHealthRequest")
		status := "idle"
		if state.lastError != nil {
			status = domain.ErrorClass(state.lastError)
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.COPActorId(state.config.Sources.Name),
			Healthy: true,
			State:   status,
		})
	case domain.GetCOPRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetCOPResponse{
			Name:    state.accumulator.Name(),
			Buckets: state.accumulator.Buckets(),
		})
	case domain.COPRolloverRequest:
		if state.accumulator.Rollover(state.now()) {
			state.logger.Info("cop: day rolled over", zap.String("cop", state.config.Sources.Name))
			state.persist()
			state.publish()
		}
	case copTick:
		state.ingest()
		state.scheduler.RequestOnce(state.config.PollInterval, ctx.Self(), copTick{})
	case copInputMessage:
		if state.relevant(msg.event) {
			state.ingest()
		}
	case *actor.Stopping:
		if state.eventSub != nil {
			state.eventStream.Unsubscribe(state.eventSub)
			state.eventSub = nil
		}
		state.persist()
	default:
		state.logger.Debug("cop@default: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *COPActor) subscribe(ctx actor.Context) {
	if state.eventStream == nil || state.eventSub != nil {
		return
	}
	state.eventSub = state.eventStream.Subscribe(func(evt any) {
		switch evt.(type) {
		case domain.ReadingsUpdatedEvent, domain.ExternalSensorEvent:
			ctx.Send(ctx.Self(), copInputMessage{event: evt})
		}
	})
}

func (state *COPActor) relevant(evt any) bool {
	heat, electrical := state.config.Sources.HeatSource, state.config.Sources.ElectricalSource
	switch ev := evt.(type) {
	case domain.ReadingsUpdatedEvent:
		for _, r := range ev.Readings {
			if store.Matches(heat, r, false) || store.Matches(electrical, r, false) {
				return true
			}
		}
	case domain.ExternalSensorEvent:
		return store.Matches(heat, ev.Reading, true) || store.Matches(electrical, ev.Reading, true)
	}
	return false
}

func (state *COPActor) ingest() {
	now := state.now()
	heat, err := state.config.Lookup.Lookup(state.config.Sources.HeatSource, now)
	if err != nil {
		state.logger.Debug("cop: heat total unavailable", zap.String("cop", state.config.Sources.Name), zap.Error(err))
		return
	}
	electrical, err := state.config.Lookup.Lookup(state.config.Sources.ElectricalSource, now)
	if err != nil {
		state.logger.Debug("cop: electrical total unavailable", zap.String("cop", state.config.Sources.Name), zap.Error(err))
		return
	}
	if err := state.accumulator.Ingest(heat.Value, electrical.Value, now); err != nil {
		state.logger.Warn("cop: sample rejected", zap.String("cop", state.config.Sources.Name), zap.Error(err))
		return
	}
	state.persist()
	state.publish()
}

func (state *COPActor) persist() {
	if !state.accumulator.Dirty() {
		return
	}
	if err := state.accumulator.Persist(); err != nil {
		// the state stays dirty and is written with the next update
		state.logger.Warn("cop: could not persist state", zap.String("cop", state.config.Sources.Name), zap.Error(err))
		state.lastError = err
		return
	}
	state.lastError = nil
}

func (state *COPActor) publish() {
	buckets := state.accumulator.Buckets()
	for _, b := range buckets {
		id := domain.COPSensorId(state.config.Sources.Name, b.Period)
		if cop, ok := b.COP(); ok {
			state.eventStream.Publish(domain.FloatSensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
					Id: id,
				},
				Value:    cop,
				Decimals: 2,
			})
		} else {
			state.eventStream.Publish(domain.AbsentSensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
					Id: id,
				},
			})
		}
	}
	state.observer.COPUpdated(state.config.Sources.Name, buckets)
}
