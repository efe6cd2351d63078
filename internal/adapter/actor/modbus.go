package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"
	"github.com/berfenger/heatpump2mqtt/internal/core/service"
	"github.com/berfenger/heatpump2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	DEFAULT_WRITE_TIMEOUT = 10 * time.Second
)

// ModbusActor serializes every access to the register transport. Requests
// received while a transaction is in flight are stashed. A zero pollTimeout
// derives the timeout of each poll from its block count.
type ModbusActor struct {
	behavior     actor.Behavior
	stash        *actorutil.Stash
	transport    port.RegisterTransport
	poller       *service.BatchPoller
	pollTimeout  time.Duration
	writeTimeout time.Duration
	lastError    error
	logger       *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewModbusActor(transport port.RegisterTransport, poller *service.BatchPoller, pollTimeout time.Duration, logger *zap.Logger) *ModbusActor {
	act := &ModbusActor{
		transport:    transport,
		poller:       poller,
		pollTimeout:  pollTimeout,
		writeTimeout: DEFAULT_WRITE_TIMEOUT,
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		logger:       actorutil.ActorLogger(domain.ACTOR_ID_MODBUS, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ModbusActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ModbusActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("modbus@starting started")
		if err := state.transport.Open(); err != nil {
			// the transport reconnects on the next request
			state.logger.Warn("modbus@starting could not open transport", zap.Error(err))
			state.lastError = err
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.transport.Close()
	default:
		state.logger.Debug("modbus@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ModbusActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("modbus@default ActorHealthRequest")
		status := "idle"
		if state.lastError != nil {
			status = domain.ErrorClass(state.lastError)
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MODBUS,
			Healthy: true,
			State:   status,
		})
	case domain.PollRequest:
		state.logger.Debug("modbus@default PollRequest", zap.String("cadence", string(msg.Cadence)), zap.Uint8("slave", msg.SlaveId))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		timeout := state.pollTimeoutFor(msg.Registers)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.PollResponse {
			resp := state.poll(msg, timeout)
			return &resp
		}), mapTaskResult[domain.PollResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.PollResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					SlaveId: msg.SlaveId,
					Cadence: msg.Cadence,
				},
				replyTo: sender,
			}
		}).WithTimeout(timeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingModbus)
	case domain.WriteRegisterRequest:
		state.logger.Debug("modbus@default WriteRegisterRequest", zap.String("register", msg.Write.Register.Id), zap.Uint16("raw", msg.Write.Raw))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.WriteRegisterResponse {
			resp := state.write(msg.Write)
			return &resp
		}), mapTaskResult[domain.WriteRegisterResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.WriteRegisterResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					Write: msg.Write,
				},
				replyTo: sender,
			}
		}).WithTimeout(state.writeTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingModbus)
	case domain.ModbusReconnectRequest:
		state.logger.Info("modbus@default ModbusReconnectRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.ModbusReconnectResponse {
			resp := state.reconnect()
			return &resp
		}), mapTaskResult[domain.ModbusReconnectResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ModbusReconnectResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(state.writeTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingModbus)
	case *actor.Stopping:
		state.transport.Close()
	default:
		state.logger.Debug("modbus@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ModbusActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("modbus@WaitingModbus backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if resp, ok := msg.message.(domain.ActorResponse); ok {
			state.lastError = resp.GetResponseError()
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.transport.Close()
	default:
		state.logger.Debug("modbus@WaitingModbus stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ModbusActor) pollTimeoutFor(wanted []domain.RegisterSpec) time.Duration {
	if state.pollTimeout > 0 {
		return state.pollTimeout
	}
	return state.poller.Config.PollTimeout(wanted)
}

func (state *ModbusActor) poll(req domain.PollRequest, timeout time.Duration) domain.PollResponse {
	// leave room for the task timeout to report instead of the context
	ctx, cancel := context.WithTimeout(context.Background(), timeout-timeout/10)
	defer cancel()

	result, err := state.poller.Poll(ctx, req.SlaveId, req.Registers, req.Cadence)
	if err != nil {
		state.logger.Warn("modbus: poll failed", zap.String("cadence", string(req.Cadence)), zap.Uint8("slave", req.SlaveId),
			zap.Int("failed", result.BlocksFailed), zap.Int("total", result.BlocksTotal), zap.Error(err))
	}
	return domain.PollResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: err,
		},
		SlaveId:      req.SlaveId,
		Cadence:      req.Cadence,
		Readings:     result.Readings,
		BlocksTotal:  result.BlocksTotal,
		BlocksFailed: result.BlocksFailed,
	}
}

func (state *ModbusActor) reconnect() domain.ModbusReconnectResponse {
	if err := state.transport.Close(); err != nil {
		state.logger.Warn("modbus: close before reconnect failed", zap.Error(err))
	}
	err := state.transport.Open()
	if err != nil {
		state.logger.Error("modbus: reconnect failed", zap.String("class", domain.ErrorClass(err)), zap.Error(err))
	} else {
		state.logger.Info("modbus: reconnected")
	}
	return domain.ModbusReconnectResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: err,
		},
	}
}

func (state *ModbusActor) write(w domain.RegisterWrite) domain.WriteRegisterResponse {
	err := state.transport.WriteRegister(w.SlaveId, w.Register.Address, w.Raw)
	if err != nil {
		state.logger.Error("modbus: write failed", zap.String("register", w.Register.Id), zap.Uint8("slave", w.SlaveId),
			zap.String("class", domain.ErrorClass(err)), zap.Error(err))
	} else {
		state.logger.Info("modbus: register written", zap.String("register", w.Register.Id), zap.Uint8("slave", w.SlaveId),
			zap.Float64("value", w.Value), zap.Uint16("raw", w.Raw))
	}
	return domain.WriteRegisterResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: err,
		},
		Write: w,
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
