package actorutil

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps a switch or number command onto the curve it
// belongs to, and a button press onto the bridge. Commands for unknown entities
// return nil, nil.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand, prefixes []string) (domain.ActorRequest, error) {
	if cmd.Command == mqtt.COMMAND_BUTTON {
		if cmd.DeviceId == domain.BUTTON_ID_MODBUS_RECONNECT {
			return domain.ModbusReconnectRequest{}, nil
		}
		return nil, nil
	}
	for _, prefix := range prefixes {
		switch cmd.Command {
		case mqtt.COMMAND_SWITCH:
			var enable bool
			switch cmd.DeviceId {
			case domain.CurvePVSwitchId(prefix), domain.CurveExternalSwitchId(prefix):
				payload := strings.ToLower(cmd.Payload)
				if payload != mqtt.MQTT_PAYLOAD_ON && payload != mqtt.MQTT_PAYLOAD_OFF {
					return nil, fmt.Errorf("invalid switch payload %q", cmd.Payload)
				}
				enable = payload == mqtt.MQTT_PAYLOAD_ON
			default:
				continue
			}
			mixIn := domain.CurveRequestMixIn{Prefix: prefix}
			if cmd.DeviceId == domain.CurveExternalSwitchId(prefix) {
				return domain.CurveSetExternalOffsetRequest{CurveRequestMixIn: mixIn, Enable: enable}, nil
			}
			return domain.CurveSetPVOptimizationRequest{CurveRequestMixIn: mixIn, Enable: enable}, nil
		case mqtt.COMMAND_NUMBER:
			param, ok := strings.CutPrefix(cmd.DeviceId, prefix+"_")
			if !ok || !isCurveParam(param) {
				continue
			}
			value, err := strconv.ParseFloat(cmd.Payload, 64)
			if err != nil {
				return nil, err
			}
			return domain.CurveSetParameterRequest{
				CurveRequestMixIn: domain.CurveRequestMixIn{Prefix: prefix},
				Param:             param,
				Value:             value,
			}, nil
		}
	}
	return nil, nil
}

func isCurveParam(param string) bool {
	for _, p := range domain.CurveParams {
		if p == param {
			return true
		}
	}
	return false
}
