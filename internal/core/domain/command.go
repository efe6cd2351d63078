package domain

import "fmt"

const (
	CURVE_PARAM_PV_GRID_OFFSET       = "pv_grid_offset"
	CURVE_PARAM_PV_GRID_THRESHOLD    = "pv_grid_threshold"
	CURVE_PARAM_PV_BATTERY_OFFSET    = "pv_battery_offset"
	CURVE_PARAM_PV_BATTERY_THRESHOLD = "pv_battery_threshold"
	CURVE_PARAM_PV_COOLDOWN          = "pv_cooldown"
	CURVE_PARAM_BASE_SETPOINT        = "base_setpoint"
	CURVE_PARAM_EXTERNAL_OFFSET      = "external_offset"
	CURVE_PARAM_EXTERNAL_HOLD        = "external_offset_hold"
)

var CurveParams = []string{
	CURVE_PARAM_PV_GRID_OFFSET,
	CURVE_PARAM_PV_GRID_THRESHOLD,
	CURVE_PARAM_PV_BATTERY_OFFSET,
	CURVE_PARAM_PV_BATTERY_THRESHOLD,
	CURVE_PARAM_PV_COOLDOWN,
	CURVE_PARAM_BASE_SETPOINT,
	CURVE_PARAM_EXTERNAL_OFFSET,
	CURVE_PARAM_EXTERNAL_HOLD,
}

// CurveRequest

type CurveRequest interface {
	ActorRequest
	CurvePrefix() string
}

type CurveRequestMixIn struct {
	ActorRequestMixIn
	Prefix string
}

func (r CurveRequestMixIn) CurvePrefix() string {
	return r.Prefix
}

// CurveResponse

type CurveConfigUpdateResponse struct {
	ActorResponseMixIn
	Config CurveConfig
}

// Curve commands

type CurveSetPVOptimizationRequest struct {
	CurveRequestMixIn
	Enable bool
}

type CurveSetExternalOffsetRequest struct {
	CurveRequestMixIn
	Enable bool
}

type CurveSetParameterRequest struct {
	CurveRequestMixIn
	Param string
	Value float64
}

// ApplyParameter returns a copy of the config with the parameter replaced.
func (c CurveConfig) ApplyParameter(param string, value float64) (CurveConfig, error) {
	switch param {
	case CURVE_PARAM_PV_GRID_OFFSET:
		c.PVGridOffset = value
	case CURVE_PARAM_PV_GRID_THRESHOLD:
		c.PVGridThresholdKW = value
	case CURVE_PARAM_PV_BATTERY_OFFSET:
		c.PVBatteryOffset = value
	case CURVE_PARAM_PV_BATTERY_THRESHOLD:
		c.PVBatteryThresholdPct = value
	case CURVE_PARAM_PV_COOLDOWN:
		c.PVCooldownMinutes = value
	case CURVE_PARAM_BASE_SETPOINT:
		c.BaseSetpoint = value
	case CURVE_PARAM_EXTERNAL_OFFSET:
		c.ExternalOffset = value
	case CURVE_PARAM_EXTERNAL_HOLD:
		c.ExternalHoldMinutes = value
	default:
		return c, fmt.Errorf("%w: unknown curve parameter %s", ErrConfiguration, param)
	}
	return c, c.Validate()
}

// ParameterValue is the inverse of ApplyParameter.
func (c CurveConfig) ParameterValue(param string) float64 {
	switch param {
	case CURVE_PARAM_PV_GRID_OFFSET:
		return c.PVGridOffset
	case CURVE_PARAM_PV_GRID_THRESHOLD:
		return c.PVGridThresholdKW
	case CURVE_PARAM_PV_BATTERY_OFFSET:
		return c.PVBatteryOffset
	case CURVE_PARAM_PV_BATTERY_THRESHOLD:
		return c.PVBatteryThresholdPct
	case CURVE_PARAM_PV_COOLDOWN:
		return c.PVCooldownMinutes
	case CURVE_PARAM_BASE_SETPOINT:
		return c.BaseSetpoint
	case CURVE_PARAM_EXTERNAL_OFFSET:
		return c.ExternalOffset
	case CURVE_PARAM_EXTERNAL_HOLD:
		return c.ExternalHoldMinutes
	}
	return 0
}

// ensure interface compliance
var _ CurveRequest = (*CurveSetPVOptimizationRequest)(nil)
var _ CurveRequest = (*CurveSetParameterRequest)(nil)
var _ CurveRequest = (*CurveSetExternalOffsetRequest)(nil)
