package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
)

const (
	HA_COMPONENT_SWITCH = "switch"
	HA_COMPONENT_NUMBER = "number"
	HA_COMPONENT_BUTTON = "button"

	haPayloadPress = "PRESS"
)

// DiscoveryMessage is one retained Home Assistant config message.
type DiscoveryMessage struct {
	Topic   string
	Payload []byte
}

// haEntity is the union of the discovery keys used by the bridge. Keys that do
// not apply to a component are left empty and omitted.
type haEntity struct {
	Device       haDevice `json:"device"`
	Name         string   `json:"name"`
	UniqueId     string   `json:"unique_id"`
	Platform     string   `json:"platform"`
	Availability string   `json:"availability_topic"`
	Icon         string   `json:"icon,omitempty"`
	Category     string   `json:"entity_category,omitempty"`
	Enabled      *bool    `json:"enabled_by_default,omitempty"`

	StateTopic   string `json:"state_topic,omitempty"`
	CommandTopic string `json:"command_topic,omitempty"`
	PayloadOn    string `json:"payload_on,omitempty"`
	PayloadOff   string `json:"payload_off,omitempty"`
	PayloadPress string `json:"payload_press,omitempty"`

	StateClass  string `json:"state_class,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
	Unit        string `json:"unit_of_measurement,omitempty"`
	Precision   *uint  `json:"suggested_display_precision,omitempty"`

	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Step    float64  `json:"step,omitempty"`
	Mode    string   `json:"mode,omitempty"`
	Initial *float64 `json:"initial,omitempty"`
}

type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name,omitempty"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// DiscoveryMessages renders the config message of every entity, in the order
// sensors, switches, numbers, buttons.
func (c *MQTTClient) DiscoveryMessages(entities domain.HAEntities) ([]DiscoveryMessage, error) {
	messages := make([]DiscoveryMessage, 0, len(entities.Sensors)+len(entities.Switches)+
		len(entities.InputNumbers)+len(entities.Buttons))
	add := func(component string, device domain.Device, id string, e haEntity) error {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("discovery %s/%s: %w", component, id, err)
		}
		messages = append(messages, DiscoveryMessage{
			Topic:   c.HADiscoveryConfigTopic(component, device.Id, id),
			Payload: payload,
		})
		return nil
	}
	for _, s := range entities.Sensors {
		if err := add(s.SensorType, s.Device, s.Id, c.sensorEntity(s)); err != nil {
			return nil, err
		}
	}
	for _, s := range entities.Switches {
		if err := add(HA_COMPONENT_SWITCH, s.Device, s.Id, c.switchEntity(s)); err != nil {
			return nil, err
		}
	}
	for _, n := range entities.InputNumbers {
		if err := add(HA_COMPONENT_NUMBER, n.Device, n.Id, c.numberEntity(n)); err != nil {
			return nil, err
		}
	}
	for _, b := range entities.Buttons {
		if err := add(HA_COMPONENT_BUTTON, b.Device, b.Id, c.buttonEntity(b)); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (c *MQTTClient) baseEntity(device domain.Device, name, uniqueId, icon string) haEntity {
	return haEntity{
		Device: haDevice{
			Identifiers:  []string{device.Id},
			Name:         device.Name,
			Model:        device.Model,
			Manufacturer: device.Manufacturer,
			Version:      device.Version,
			ViaDevice:    device.ViaDevice,
		},
		Name:         name,
		UniqueId:     uniqueId,
		Platform:     "mqtt",
		Availability: c.BridgeStateTopic(),
		Icon:         icon,
	}
}

func (c *MQTTClient) sensorEntity(s domain.GenericSensor) haEntity {
	e := c.baseEntity(s.Device, s.Name, s.UniqueId, s.Icon)
	e.Category = s.EntityCategory
	e.Enabled = s.EnabledByDefault
	e.StateClass = s.StateClass
	e.DeviceClass = s.DeviceClass
	e.Unit = s.UnitOfMeasurement
	e.Precision = s.Precision
	switch {
	case s.Id == domain.SENSOR_ID_BRIDGE_STATE:
		// the bridge connectivity sensor reads the availability topic itself
		e.StateTopic = c.BridgeStateTopic()
		e.PayloadOn, e.PayloadOff = MQTT_PAYLOAD_ONLINE, MQTT_PAYLOAD_OFFLINE
	case s.SensorType == domain.SENSOR_TYPE_BINARY:
		e.StateTopic = c.BinarySensorStateTopic(s.Id)
		e.PayloadOn, e.PayloadOff = MQTT_PAYLOAD_ON, MQTT_PAYLOAD_OFF
	default:
		e.StateTopic = c.SensorStateTopic(s.Id)
	}
	return e
}

func (c *MQTTClient) switchEntity(s domain.GenericSwitch) haEntity {
	e := c.baseEntity(s.Device, s.Name, s.UniqueId, s.Icon)
	e.Category = domain.ENTITY_CLASS_CONFIG
	e.StateTopic = c.SwitchStateTopic(s.Id)
	e.CommandTopic = c.SwitchCommandTopic(s.Id)
	e.PayloadOn, e.PayloadOff = MQTT_PAYLOAD_ON, MQTT_PAYLOAD_OFF
	return e
}

func (c *MQTTClient) numberEntity(n domain.GenericInputNumber) haEntity {
	e := c.baseEntity(n.Device, n.Name, n.UniqueId, n.Icon)
	e.Category = domain.ENTITY_CLASS_CONFIG
	e.StateTopic = c.InputNumberStateTopic(n.Id)
	e.CommandTopic = c.InputNumberCommandTopic(n.Id)
	// a zero bound is meaningful for offsets, so bounds are always sent
	e.Min, e.Max = &n.Min, &n.Max
	e.Step = n.Step
	e.Mode = n.Mode
	if n.InitialValue != 0 {
		e.Initial = &n.InitialValue
	}
	return e
}

func (c *MQTTClient) buttonEntity(b domain.GenericButton) haEntity {
	e := c.baseEntity(b.Device, b.Name, b.UniqueId, b.Icon)
	e.Category = domain.ENTITY_CLASS_DIAGNOSTIC
	e.CommandTopic = c.ButtonCommandTopic(b.Id)
	e.PayloadPress = haPayloadPress
	return e
}
