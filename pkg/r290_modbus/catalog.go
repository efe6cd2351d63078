package r290_modbus

import (
	"fmt"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
)

const (
	MODEL_R290 = "r290"

	REG_OUTDOOR_TEMPERATURE     = "outdoor_temperature"
	REG_FLOW_TEMPERATURE        = "flow_temperature"
	REG_RETURN_TEMPERATURE      = "return_temperature"
	REG_HOT_WATER_TEMPERATURE   = "hot_water_temperature"
	REG_ROOM_TEMPERATURE        = "room_temperature"
	REG_COMPRESSOR_FREQUENCY    = "compressor_frequency"
	REG_FAN_SPEED               = "fan_speed"
	REG_WATER_FLOW              = "water_flow"
	REG_ELECTRICAL_POWER        = "electrical_power"
	REG_HEAT_POWER              = "heat_power"
	REG_OPERATING_MODE          = "operating_mode"
	REG_ELECTRICAL_ENERGY_TOTAL = "electrical_energy_total"
	REG_HEAT_ENERGY_TOTAL       = "heat_energy_total"
	REG_COMPRESSOR_RUNTIME      = "compressor_runtime"
	REG_COMPRESSOR_STARTS       = "compressor_starts"
	REG_DEFROST_COUNT           = "defrost_count"
	REG_SOFTWARE_VERSION        = "software_version"
	REG_COOLING_SETPOINT        = "cooling_setpoint"
	REG_HEATING_SETPOINT        = "heating_setpoint"
	REG_HOT_WATER_SETPOINT      = "hotwater_setpoint"
	REG_FLOOR_HEATING_SETPOINT  = "floor_heating_setpoint"
)

var r290Catalog = []domain.RegisterSpec{
	// realtime block
	temperature(REG_OUTDOOR_TEMPERATURE, "Outdoor temperature", 0x0100),
	temperature(REG_FLOW_TEMPERATURE, "Flow temperature", 0x0101),
	temperature(REG_RETURN_TEMPERATURE, "Return temperature", 0x0102),
	temperature(REG_HOT_WATER_TEMPERATURE, "Hot water temperature", 0x0103),
	temperature(REG_ROOM_TEMPERATURE, "Room temperature", 0x0104),
	{Id: REG_COMPRESSOR_FREQUENCY, Name: "Compressor frequency", Address: 0x0105, Words: 1, Scale: 1, Unit: "Hz",
		StateClass: domain.STATE_CLASS_MEASUREMENT, Cadence: domain.CadenceFast},
	{Id: REG_FAN_SPEED, Name: "Fan speed", Address: 0x0106, Words: 1, Scale: 1, Unit: "rpm",
		StateClass: domain.STATE_CLASS_MEASUREMENT, Cadence: domain.CadenceFast},
	{Id: REG_WATER_FLOW, Name: "Water flow", Address: 0x0107, Words: 1, Scale: 0.1, Unit: "L/min", Precision: 1,
		StateClass: domain.STATE_CLASS_MEASUREMENT, Cadence: domain.CadenceFast},
	{Id: REG_ELECTRICAL_POWER, Name: "Electrical power", Address: 0x0108, Words: 1, Scale: 1, Unit: "W",
		DeviceClass: domain.DEVICE_CLASS_POWER, StateClass: domain.STATE_CLASS_MEASUREMENT, Cadence: domain.CadenceFast},
	{Id: REG_HEAT_POWER, Name: "Heat power", Address: 0x0109, Words: 1, Scale: 1, Unit: "W",
		DeviceClass: domain.DEVICE_CLASS_POWER, StateClass: domain.STATE_CLASS_MEASUREMENT, Cadence: domain.CadenceFast},
	{Id: REG_OPERATING_MODE, Name: "Operating mode", Address: 0x010A, Words: 1, Scale: 1, Cadence: domain.CadenceFast},

	// meters
	energy(REG_ELECTRICAL_ENERGY_TOTAL, "Electrical energy total", 0x0110),
	energy(REG_HEAT_ENERGY_TOTAL, "Heat energy total", 0x0112),

	// diagnostic counters
	{Id: REG_COMPRESSOR_RUNTIME, Name: "Compressor runtime", Address: 0x0200, Words: 2, Scale: 1, Unit: "h",
		StateClass: domain.STATE_CLASS_TOTAL_INCREASING, Cadence: domain.CadenceLong},
	{Id: REG_COMPRESSOR_STARTS, Name: "Compressor starts", Address: 0x0202, Words: 2, Scale: 1,
		StateClass: domain.STATE_CLASS_TOTAL_INCREASING, Cadence: domain.CadenceLong},
	{Id: REG_DEFROST_COUNT, Name: "Defrost cycles", Address: 0x0204, Words: 1, Scale: 1,
		StateClass: domain.STATE_CLASS_TOTAL_INCREASING, Cadence: domain.CadenceLong},
	{Id: REG_SOFTWARE_VERSION, Name: "Software version", Address: 0x0210, Words: 1, Scale: 1, Cadence: domain.CadenceLong},

	// curve targets, whole degrees
	setpoint(REG_COOLING_SETPOINT, "Cooling setpoint", 0x0300, 7, 25),
	setpoint(REG_HEATING_SETPOINT, "Heating setpoint", 0x0301, 20, 60),
	setpoint(REG_HOT_WATER_SETPOINT, "Hot water setpoint", 0x0302, 30, 75),
	setpoint(REG_FLOOR_HEATING_SETPOINT, "Floor heating setpoint", 0x0303, 20, 45),
}

// CurveTargetRegisters maps a curve prefix to the register its flow target is written to.
var CurveTargetRegisters = map[string]string{
	domain.CURVE_COOLING:       REG_COOLING_SETPOINT,
	domain.CURVE_HEATING:       REG_HEATING_SETPOINT,
	domain.CURVE_HOT_WATER:     REG_HOT_WATER_SETPOINT,
	domain.CURVE_FLOOR_HEATING: REG_FLOOR_HEATING_SETPOINT,
}

// Catalog returns a copy of the register table of a device model.
func Catalog(model string) ([]domain.RegisterSpec, error) {
	switch model {
	case MODEL_R290, "":
		specs := make([]domain.RegisterSpec, len(r290Catalog))
		copy(specs, r290Catalog)
		return specs, nil
	default:
		return nil, fmt.Errorf("%w: unknown device model %s", domain.ErrConfiguration, model)
	}
}

// CatalogIndex indexes a register table by id.
func CatalogIndex(specs []domain.RegisterSpec) map[string]domain.RegisterSpec {
	index := make(map[string]domain.RegisterSpec, len(specs))
	for _, s := range specs {
		index[s.Id] = s
	}
	return index
}

// ByCadence filters a register table, keeping the ids in wanted when it is not empty.
func ByCadence(specs []domain.RegisterSpec, cadence domain.Cadence, wanted []string) []domain.RegisterSpec {
	var keep map[string]bool
	if len(wanted) > 0 {
		keep = make(map[string]bool, len(wanted))
		for _, id := range wanted {
			keep[id] = true
		}
	}
	var out []domain.RegisterSpec
	for _, s := range specs {
		if s.Cadence != cadence {
			continue
		}
		if keep != nil && !keep[s.Id] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func temperature(id, name string, address uint16) domain.RegisterSpec {
	return domain.RegisterSpec{
		Id:          id,
		Name:        name,
		Address:     address,
		Words:       1,
		Scale:       0.1,
		Signed:      true,
		Unit:        "°C",
		DeviceClass: domain.DEVICE_CLASS_TEMPERATURE,
		StateClass:  domain.STATE_CLASS_MEASUREMENT,
		Precision:   1,
		Cadence:     domain.CadenceFast,
	}
}

func energy(id, name string, address uint16) domain.RegisterSpec {
	return domain.RegisterSpec{
		Id:          id,
		Name:        name,
		Address:     address,
		Words:       2,
		Scale:       0.01,
		Unit:        "kWh",
		DeviceClass: domain.DEVICE_CLASS_ENERGY,
		StateClass:  domain.STATE_CLASS_TOTAL_INCREASING,
		Precision:   2,
		Cadence:     domain.CadenceFast,
	}
}

func setpoint(id, name string, address uint16, min, max float64) domain.RegisterSpec {
	return domain.RegisterSpec{
		Id:          id,
		Name:        name,
		Address:     address,
		Words:       1,
		Scale:       1,
		Signed:      true,
		Writable:    true,
		Unit:        "°C",
		DeviceClass: domain.DEVICE_CLASS_TEMPERATURE,
		Min:         &min,
		Max:         &max,
		Cadence:     domain.CadenceLong,
	}
}
