package service

import (
	"fmt"
	"math"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
)

// WritePath turns base setpoint + offset into register writes for one curve.
// Writes whose raw value equals the last acknowledged one are suppressed.
type WritePath struct {
	slaveId uint8
	target  domain.RegisterSpec
	lastRaw *uint16
}

func NewWritePath(slaveId uint8, target domain.RegisterSpec) *WritePath {
	return &WritePath{
		slaveId: slaveId,
		target:  target,
	}
}

func (w *WritePath) Target() domain.RegisterSpec {
	return w.target
}

// Commanded returns base+offset clamped to the curve bounds (intersected with the
// register's declared bounds) and quantized to the register resolution.
func (w *WritePath) Commanded(curve domain.CurveConfig, baseSetpoint, offset float64) float64 {
	lo, hi := w.bounds(curve)
	value := math.Max(lo, math.Min(hi, baseSetpoint+offset))

	scale := w.target.Scale
	if scale <= 0 {
		return value
	}
	raw := math.Round(value / scale)
	rawLo, rawHi := rawBounds(lo, hi, scale)
	if rawLo <= rawHi {
		raw = math.Max(rawLo, math.Min(rawHi, raw))
	} else {
		// unreachable through Apply, which rejects such a curve
		return value
	}
	return raw * scale
}

// Check reports a ConfigurationError when no register value lies inside the
// curve bounds intersected with the register bounds.
func (w *WritePath) Check(curve domain.CurveConfig) error {
	lo, hi := curve.TFlowMin, curve.TFlowMax
	if w.target.Min != nil {
		lo = math.Max(lo, *w.target.Min)
	}
	if w.target.Max != nil {
		hi = math.Min(hi, *w.target.Max)
	}
	if lo > hi {
		return fmt.Errorf("%w: curve %s range %.1f..%.1f is outside register %s bounds",
			domain.ErrConfiguration, curve.Prefix, curve.TFlowMin, curve.TFlowMax, w.target.Id)
	}
	if w.target.Scale > 0 {
		if rawLo, rawHi := rawBounds(lo, hi, w.target.Scale); rawLo > rawHi {
			return fmt.Errorf("%w: curve %s range %.2f..%.2f holds no %s step of %g",
				domain.ErrConfiguration, curve.Prefix, lo, hi, w.target.Id, w.target.Scale)
		}
	}
	return nil
}

func (w *WritePath) Apply(curve domain.CurveConfig, baseSetpoint, offset float64) (*domain.RegisterWrite, error) {
	if err := w.Check(curve); err != nil {
		return nil, err
	}
	commanded := w.Commanded(curve, baseSetpoint, offset)
	raw, err := w.target.Encode(commanded)
	if err != nil {
		return nil, err
	}
	if w.lastRaw != nil && *w.lastRaw == raw {
		return nil, nil
	}
	return &domain.RegisterWrite{
		SlaveId:  w.slaveId,
		Register: w.target,
		Raw:      raw,
		Value:    commanded,
	}, nil
}

// Acknowledge records a write confirmed by the device.
func (w *WritePath) Acknowledge(write domain.RegisterWrite) {
	raw := write.Raw
	w.lastRaw = &raw
}

// Forget drops the last write, so the next Apply writes again.
func (w *WritePath) Forget() {
	w.lastRaw = nil
}

func (w *WritePath) LastWritten() *float64 {
	if w.lastRaw == nil {
		return nil
	}
	var v float64
	if w.target.Signed {
		v = float64(int16(*w.lastRaw)) * w.target.Scale
	} else {
		v = float64(*w.lastRaw) * w.target.Scale
	}
	return &v
}

func (w *WritePath) bounds(curve domain.CurveConfig) (float64, float64) {
	lo, hi := curve.TFlowMin, curve.TFlowMax
	if w.target.Min != nil && *w.target.Min > lo {
		lo = *w.target.Min
	}
	if w.target.Max != nil && *w.target.Max < hi {
		hi = *w.target.Max
	}
	if lo > hi {
		return curve.TFlowMin, curve.TFlowMax
	}
	return lo, hi
}

func rawBounds(lo, hi, scale float64) (float64, float64) {
	return math.Ceil(lo/scale - 1e-9), math.Floor(hi/scale + 1e-9)
}
