package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

// AbsentSensorUpdateEvent publishes an unknown state (e.g. COP without consumption).
type AbsentSensorUpdateEvent struct {
	SensorUpdateEventMixIn
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type InputNumberSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

// Value Store events

// ReadingsUpdatedEvent is published after a poll tick stored new readings.
type ReadingsUpdatedEvent struct {
	SlaveId  uint8
	Cadence  Cadence
	Readings []Reading
}

// ExternalSensorEvent is published when an external feed delivers a value.
type ExternalSensorEvent struct {
	Reading Reading
}

func ReadingSensorId(slaveId uint8, registerId string) string {
	return fmt.Sprintf("s%d_%s", slaveId, registerId)
}

func ReadingsToUpdateEvents(readings []Reading, specs map[string]RegisterSpec) []SensorUpdateEvent {
	var events []SensorUpdateEvent
	for _, r := range readings {
		var decimals uint = 2
		if spec, ok := specs[r.RegisterId]; ok {
			decimals = spec.Precision
		}
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ReadingSensorId(r.SlaveId, r.RegisterId),
			},
			Value:    r.Value,
			Decimals: decimals,
		})
	}
	return events
}
