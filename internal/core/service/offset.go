package service

import (
	"math"
	"strings"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"
)

// OffsetEngine decides the PV offset of a single curve. It owns the runtime
// state of that curve and must not be shared between curves.
type OffsetEngine struct {
	state domain.CurveRuntimeState
}

func NewOffsetEngine() *OffsetEngine {
	return &OffsetEngine{}
}

func (e *OffsetEngine) State() domain.CurveRuntimeState {
	return e.state
}

func (e *OffsetEngine) Evaluate(curve domain.CurveConfig, pvPowerKW *float64, batterySoCPct *float64, now time.Time) float64 {

	if !curve.PVOptimizationEnabled {
		// explicit disable bypasses the cooldown, and a later enable starts fresh
		e.state.CurrentOffset = 0
		e.state.LastChangeAt = time.Time{}
		return 0
	}

	candidate := clampOffset(e.candidate(curve, pvPowerKW, batterySoCPct))
	if candidate == e.state.CurrentOffset {
		return e.state.CurrentOffset
	}

	if !e.state.LastChangeAt.IsZero() && now.Sub(e.state.LastChangeAt) < curve.Cooldown() {
		return e.state.CurrentOffset
	}

	e.state.CurrentOffset = candidate
	e.state.LastChangeAt = now
	return candidate
}

func (e *OffsetEngine) candidate(curve domain.CurveConfig, pvPowerKW *float64, batterySoCPct *float64) float64 {
	gridFires := pvPowerKW != nil && *pvPowerKW >= curve.PVGridThresholdKW
	batteryFires := batterySoCPct != nil && *batterySoCPct <= curve.PVBatteryThresholdPct

	switch {
	case gridFires && batteryFires:
		grid, battery := curve.PVGridOffset, curve.PVBatteryOffset
		switch {
		case math.Abs(grid) > math.Abs(battery):
			return grid
		case math.Abs(battery) > math.Abs(grid):
			return battery
		case grid == battery:
			return grid
		default:
			// +x against -x, no forced switch
			return e.state.CurrentOffset
		}
	case gridFires:
		return curve.PVGridOffset
	case batteryFires:
		return curve.PVBatteryOffset
	default:
		return 0
	}
}

func clampOffset(offset float64) float64 {
	return math.Max(-domain.MaxOffset, math.Min(domain.MaxOffset, offset))
}

// NormalizePowerKW converts a power reading to kW using the declared unit of its
// source. Unknown units are not usable.
func NormalizePowerKW(value float64, unit string) (float64, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "w", "wh":
		return value / 1000, true
	case "kw", "kwh", "":
		return value, true
	case "mw", "mwh":
		return value * 1000, true
	default:
		return 0, false
	}
}

type powerSample struct {
	at    time.Time
	value float64
}

// PowerAverager keeps a sliding time window of power samples.
type PowerAverager struct {
	window  time.Duration
	samples []powerSample
}

func NewPowerAverager(window time.Duration) *PowerAverager {
	return &PowerAverager{window: window}
}

// Add records a sample and returns the average over the window ending at at.
func (a *PowerAverager) Add(at time.Time, value float64) float64 {
	if a.window <= 0 {
		return value
	}
	// a repeated observation of the same reading is not a new sample
	if n := len(a.samples); n == 0 || !a.samples[n-1].at.Equal(at) {
		a.samples = append(a.samples, powerSample{at: at, value: value})
	}
	a.evict(at)

	sum := 0.0
	for _, s := range a.samples {
		sum += s.value
	}
	return sum / float64(len(a.samples))
}

func (a *PowerAverager) evict(now time.Time) {
	cut := 0
	for cut < len(a.samples)-1 && now.Sub(a.samples[cut].at) > a.window {
		cut++
	}
	a.samples = a.samples[cut:]
}

// ensure interface compliance
var _ port.OffsetDecider = (*OffsetEngine)(nil)
