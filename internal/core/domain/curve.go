package domain

import (
	"fmt"
	"time"
)

const (
	CURVE_HEATING       = "heating"
	CURVE_FLOOR_HEATING = "floor_heating"
	CURVE_HOT_WATER     = "hotwater"
	CURVE_COOLING       = "cooling"

	MaxOffset = 10.0
)

type CurveConfig struct {
	Prefix                string
	Name                  string
	TargetRegister        string
	TFlowMin              float64
	TFlowMax              float64
	PVGridOffset          float64
	PVGridThresholdKW     float64
	PVBatteryOffset       float64
	PVBatteryThresholdPct float64
	PVCooldownMinutes     float64
	PVOptimizationEnabled bool

	// manual offset added on top of the PV offset once it has been stable
	// for ExternalHoldMinutes
	ExternalOffsetEnabled bool
	ExternalOffset        float64
	ExternalHoldMinutes   float64

	// base setpoint source: a fixed value, or a linear outdoor curve when
	// OutdoorRegister is set
	BaseSetpoint    float64
	OutdoorRegister string
	OutdoorMin      float64
	OutdoorMax      float64
	InertiaHours    float64
}

func (c CurveConfig) Cooldown() time.Duration {
	return time.Duration(c.PVCooldownMinutes * float64(time.Minute))
}

func (c CurveConfig) ExternalHold() time.Duration {
	return time.Duration(c.ExternalHoldMinutes * float64(time.Minute))
}

func (c CurveConfig) Validate() error {
	if c.Prefix == "" {
		return fmt.Errorf("%w: curve without prefix", ErrConfiguration)
	}
	if c.TFlowMin > c.TFlowMax {
		return fmt.Errorf("%w: curve %s t_flow_min %.1f > t_flow_max %.1f", ErrConfiguration, c.Prefix, c.TFlowMin, c.TFlowMax)
	}
	if c.PVGridOffset < -MaxOffset || c.PVGridOffset > MaxOffset {
		return fmt.Errorf("%w: curve %s pv_grid_offset must be within ±%.0f", ErrConfiguration, c.Prefix, MaxOffset)
	}
	if c.PVBatteryOffset < -MaxOffset || c.PVBatteryOffset > MaxOffset {
		return fmt.Errorf("%w: curve %s pv_battery_offset must be within ±%.0f", ErrConfiguration, c.Prefix, MaxOffset)
	}
	if c.PVCooldownMinutes < 0 {
		return fmt.Errorf("%w: curve %s pv_cooldown_minutes must be >= 0", ErrConfiguration, c.Prefix)
	}
	if c.PVBatteryThresholdPct < 0 || c.PVBatteryThresholdPct > 100 {
		return fmt.Errorf("%w: curve %s pv_battery_threshold_pct must be within 0..100", ErrConfiguration, c.Prefix)
	}
	if c.ExternalOffset < -MaxOffset || c.ExternalOffset > MaxOffset {
		return fmt.Errorf("%w: curve %s external_offset must be within ±%.0f", ErrConfiguration, c.Prefix, MaxOffset)
	}
	if c.ExternalHoldMinutes < 0 {
		return fmt.Errorf("%w: curve %s external_offset_hold_minutes must be >= 0", ErrConfiguration, c.Prefix)
	}
	if c.OutdoorRegister != "" && c.OutdoorMin >= c.OutdoorMax {
		return fmt.Errorf("%w: curve %s t_out_min must be < t_out_max", ErrConfiguration, c.Prefix)
	}
	if c.InertiaHours < 0 {
		return fmt.Errorf("%w: curve %s inertia_hours must be >= 0", ErrConfiguration, c.Prefix)
	}
	return nil
}

// CurveRuntimeState is owned by the offset engine of a single curve.
type CurveRuntimeState struct {
	CurrentOffset float64
	LastChangeAt  time.Time
}

// ExternalOffsetState tracks the manual offset of a curve. Pending is the
// requested value still waiting for its hold time.
type ExternalOffsetState struct {
	Active  float64
	Pending *float64
	Since   time.Time
}
