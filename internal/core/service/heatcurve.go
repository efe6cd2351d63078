package service

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
)

// FlowTemperature is the linear outdoor curve: TFlowMax at or below OutdoorMin,
// TFlowMin at or above OutdoorMax.
func FlowTemperature(curve domain.CurveConfig, tOut float64) float64 {
	if tOut <= curve.OutdoorMin {
		return curve.TFlowMax
	}
	if tOut >= curve.OutdoorMax {
		return curve.TFlowMin
	}
	slope := (curve.TFlowMax - curve.TFlowMin) / (curve.OutdoorMin - curve.OutdoorMax)
	return curve.TFlowMin + slope*(tOut-curve.OutdoorMax)
}

// HeatCurve produces the base setpoint of a curve, smoothing the outdoor curve
// with an exponential moving average when inertia is configured.
type HeatCurve struct {
	smoothed *float64
	lastAt   time.Time
}

func NewHeatCurve() *HeatCurve {
	return &HeatCurve{}
}

func (h *HeatCurve) BaseSetpoint(curve domain.CurveConfig, tOut *float64, now time.Time) (float64, error) {
	if curve.OutdoorRegister == "" {
		return curve.BaseSetpoint, nil
	}
	if tOut == nil {
		if h.smoothed != nil {
			return *h.smoothed, nil
		}
		return 0, fmt.Errorf("%w: outdoor temperature for curve %s", domain.ErrMissingInput, curve.Prefix)
	}

	raw := FlowTemperature(curve, *tOut)
	if h.smoothed == nil || curve.InertiaHours <= 0 {
		h.smoothed = &raw
		h.lastAt = now
		return raw, nil
	}

	dt := now.Sub(h.lastAt).Seconds()
	if dt > 0 {
		alpha := 1 - math.Exp(-dt/(curve.InertiaHours*3600))
		next := *h.smoothed + alpha*(raw-*h.smoothed)
		h.smoothed = &next
		h.lastAt = now
	}
	return *h.smoothed, nil
}

func (h *HeatCurve) Reset() {
	h.smoothed = nil
	h.lastAt = time.Time{}
}
