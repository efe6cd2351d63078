package domain

import (
	"fmt"

	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MODBUS       = "modbus"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_CURVE        = "curve"
	ACTOR_ID_COP          = "cop"
)

func PollerActorId(cadence Cadence) string {
	return fmt.Sprintf("%s_%s", ACTOR_ID_POLLER, cadence)
}

func CurveActorId(prefix string) string {
	return fmt.Sprintf("%s_%s", ACTOR_ID_CURVE, prefix)
}

func COPActorId(name string) string {
	return fmt.Sprintf("%s_%s", ACTOR_ID_COP, name)
}

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

// Modbus

type PollRequest struct {
	ActorRequestMixIn
	SlaveId   uint8
	Cadence   Cadence
	Registers []RegisterSpec
}

type PollResponse struct {
	ActorResponseMixIn
	SlaveId      uint8
	Cadence      Cadence
	Readings     []Reading
	BlocksTotal  int
	BlocksFailed int
}

type WriteRegisterRequest struct {
	ActorRequestMixIn
	Write RegisterWrite
}

type WriteRegisterResponse struct {
	ActorResponseMixIn
	Write RegisterWrite
}

// ModbusReconnectRequest drops the transport connection and opens it again.
type ModbusReconnectRequest struct {
	ActorRequestMixIn
}

type ModbusReconnectResponse struct {
	ActorResponseMixIn
}

// MQTT

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Entities HAEntities
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// Curves

type GetCurveStateRequest struct {
	ActorRequestMixIn
}

type GetCurveStateResponse struct {
	ActorResponseMixIn
	Config       CurveConfig
	State        CurveRuntimeState
	External     ExternalOffsetState
	BaseSetpoint *float64
	Commanded    *float64
	LastWritten  *float64
}

// COP

type GetCOPRequest struct {
	ActorRequestMixIn
}

type GetCOPResponse struct {
	ActorResponseMixIn
	Name    string
	Buckets []EnergyBucket
}

type COPRolloverRequest struct {
	ActorRequestMixIn
}

// Bridge

type GetBridgeComponentsRequest struct {
	ActorRequestMixIn
}

// GetBridgeComponentsResponse lists the running curve and COP actors by prefix
// and accumulator name.
type GetBridgeComponentsResponse struct {
	ActorResponseMixIn
	Curves map[string]*ActorRef
	COPs   map[string]*ActorRef
}

// Health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
