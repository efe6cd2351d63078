package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	BUTTON_ID_MODBUS_RECONNECT   = "modbus_reconnect"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_TEMPERATURE     = "temperature"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	INPUT_NUMBER_MODE_BOX        = "box"
	INPUT_NUMBER_MODE_SLIDER     = "slider"
)

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing
	DeviceClass       string // temperature, power, energy
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
	Precision         *uint
}

type GenericSwitch struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
}

type GenericButton struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
}

// HAEntities is everything announced through Home Assistant discovery.
type HAEntities struct {
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
	Buttons      []GenericButton
}

type GenericInputNumber struct {
	Device       Device
	Id           string
	Name         string
	UniqueId     string
	Icon         string
	Max          float64
	Min          float64
	Step         float64
	Mode         string
	InitialValue float64
}

func CurveOffsetSensorId(prefix string) string {
	return fmt.Sprintf("%s_pv_offset", prefix)
}

func CurveFlowTargetSensorId(prefix string) string {
	return fmt.Sprintf("%s_flow_target", prefix)
}

func CurvePVSwitchId(prefix string) string {
	return fmt.Sprintf("%s_pv_optimization", prefix)
}

func CurveExternalSwitchId(prefix string) string {
	return fmt.Sprintf("%s_external_offset_enable", prefix)
}

func CurveExternalOffsetSensorId(prefix string) string {
	return fmt.Sprintf("%s_external_offset_active", prefix)
}

func CurveParamId(prefix, param string) string {
	return fmt.Sprintf("%s_%s", prefix, param)
}

func COPSensorId(name string, period Period) string {
	return fmt.Sprintf("cop_%s_%s", name, period)
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("heatpump_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "heatpump2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Heat pump bridge %s", md5HashShort(baseTopic)),
	}
}

func HeatPumpDevice(baseTopic, model string, slaveId uint8) Device {
	return Device{
		Id:           fmt.Sprintf("heatpump_%s_%d_%s", model, slaveId, md5HashShort(baseTopic)),
		Manufacturer: "R290 Heat Pump",
		Model:        model,
		Name:         fmt.Sprintf("Heat pump %s (slave %d)", model, slaveId),
	}
}

func CurveDevice(baseTopic string, curve CurveConfig) Device {
	return Device{
		Id:           fmt.Sprintf("heatpump_curve_%s_%s", curve.Prefix, md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Temperature curve",
		Name:         curve.Name,
	}
}

func COPDevice(baseTopic, name string) Device {
	return Device{
		Id:           fmt.Sprintf("heatpump_cop_%s_%s", name, md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "COP calculator",
		Name:         fmt.Sprintf("COP %s", name),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func BridgeButtons(bridgeDevice Device) []GenericButton {
	return []GenericButton{{
		Device:   IdDevice(bridgeDevice),
		Id:       BUTTON_ID_MODBUS_RECONNECT,
		Name:     "Reconnect Modbus",
		UniqueId: uniqueId(bridgeDevice.Id, BUTTON_ID_MODBUS_RECONNECT),
		Icon:     "mdi:lan-connect",
	}}
}

func RegisterSensors(device Device, slaveId uint8, specs []RegisterSpec) []GenericSensor {

	var sensors []GenericSensor

	for i, spec := range specs {
		dev := device
		// full device info only travels with the first entity
		if i > 0 {
			dev = IdDevice(device)
		}
		id := ReadingSensorId(slaveId, spec.Id)
		sensors = append(sensors, GenericSensor{
			Device:            dev,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              spec.Name,
			UnitOfMeasurement: spec.Unit,
			StateClass:        spec.StateClass,
			DeviceClass:       spec.DeviceClass,
			EnabledByDefault:  optionalBool(slaveId == 1),
			UniqueId:          uniqueId(device.Id, id),
			Precision:         optionalUint(spec.Precision),
		})
	}

	return sensors
}

func CurveSensors(curveDevice Device, prefix string) []GenericSensor {

	var sensors []GenericSensor

	// PV offset
	sensors = append(sensors, GenericSensor{
		Device:            curveDevice,
		Id:                CurveOffsetSensorId(prefix),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "PV offset",
		UnitOfMeasurement: "°C",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_TEMPERATURE,
		UniqueId:          uniqueId(curveDevice.Id, CurveOffsetSensorId(prefix)),
		Icon:              "mdi:solar-power",
	})
	// Commanded flow temperature
	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(curveDevice),
		Id:                CurveFlowTargetSensorId(prefix),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Flow target",
		UnitOfMeasurement: "°C",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_TEMPERATURE,
		UniqueId:          uniqueId(curveDevice.Id, CurveFlowTargetSensorId(prefix)),
	})
	// Active external offset
	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(curveDevice),
		Id:                CurveExternalOffsetSensorId(prefix),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "External offset",
		UnitOfMeasurement: "°C",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_TEMPERATURE,
		UniqueId:          uniqueId(curveDevice.Id, CurveExternalOffsetSensorId(prefix)),
		Icon:              "mdi:thermometer-lines",
	})

	return sensors
}

func CurveSwitches(curveDevice Device, prefix string) []GenericSwitch {
	return []GenericSwitch{{
		Device:   IdDevice(curveDevice),
		Id:       CurvePVSwitchId(prefix),
		Name:     "PV optimization",
		UniqueId: uniqueId(curveDevice.Id, CurvePVSwitchId(prefix)),
		Icon:     "mdi:solar-power-variant",
	}, {
		Device:   IdDevice(curveDevice),
		Id:       CurveExternalSwitchId(prefix),
		Name:     "External offset",
		UniqueId: uniqueId(curveDevice.Id, CurveExternalSwitchId(prefix)),
		Icon:     "mdi:thermometer-plus",
	}}
}

func CurveInputNumbers(curveDevice Device, curve CurveConfig) []GenericInputNumber {

	var inputNumbers []GenericInputNumber

	add := func(param, name, icon string, min, max, step float64) {
		id := CurveParamId(curve.Prefix, param)
		inputNumbers = append(inputNumbers, GenericInputNumber{
			Device:       IdDevice(curveDevice),
			Id:           id,
			Name:         name,
			UniqueId:     uniqueId(curveDevice.Id, id),
			Icon:         icon,
			Min:          min,
			Max:          max,
			Step:         step,
			Mode:         INPUT_NUMBER_MODE_BOX,
			InitialValue: curve.ParameterValue(param),
		})
	}

	add(CURVE_PARAM_PV_GRID_OFFSET, "PV grid offset", "mdi:thermometer-plus", -MaxOffset, MaxOffset, 0.5)
	add(CURVE_PARAM_PV_GRID_THRESHOLD, "PV grid threshold", "mdi:flash", 0, 30, 0.1)
	add(CURVE_PARAM_PV_BATTERY_OFFSET, "PV battery offset", "mdi:thermometer-minus", -MaxOffset, MaxOffset, 0.5)
	add(CURVE_PARAM_PV_BATTERY_THRESHOLD, "PV battery threshold", "mdi:battery-50", 0, 100, 1)
	add(CURVE_PARAM_PV_COOLDOWN, "PV cooldown", "mdi:timer-sand", 0, 240, 1)
	add(CURVE_PARAM_EXTERNAL_OFFSET, "External offset", "mdi:thermometer-lines", -MaxOffset, MaxOffset, 0.5)
	add(CURVE_PARAM_EXTERNAL_HOLD, "External offset hold", "mdi:timer-sand", 0, 240, 1)
	if curve.OutdoorRegister == "" {
		add(CURVE_PARAM_BASE_SETPOINT, "Base setpoint", "mdi:thermometer", curve.TFlowMin, curve.TFlowMax, 0.5)
	}

	return inputNumbers
}

func COPSensors(copDevice Device, name string) []GenericSensor {

	var sensors []GenericSensor

	for i, period := range Periods {
		dev := copDevice
		if i > 0 {
			dev = IdDevice(copDevice)
		}
		id := COPSensorId(name, period)
		sensors = append(sensors, GenericSensor{
			Device:     dev,
			Id:         id,
			SensorType: SENSOR_TYPE_SENSOR,
			Name:       fmt.Sprintf("COP %s", period),
			StateClass: STATE_CLASS_MEASUREMENT,
			UniqueId:   uniqueId(copDevice.Id, id),
			Icon:       "mdi:heat-pump",
			Precision:  optionalUint(2),
		})
	}

	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}

func optionalUint(value uint) *uint {
	return &value
}
