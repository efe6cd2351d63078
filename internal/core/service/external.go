package service

import (
	"math"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
)

const externalOffsetTolerance = 0.01

// ExternalOffsetHold debounces the manual offset of a curve: a requested value
// only becomes active after it stayed unchanged for the curve's hold time.
// Switching the offset off requests 0 and goes through the same hold.
type ExternalOffsetHold struct {
	active    float64
	candidate *float64
	since     time.Time
}

func NewExternalOffsetHold() *ExternalOffsetHold {
	return &ExternalOffsetHold{}
}

// Evaluate returns the active offset and the time left until a pending value
// takes over, zero when nothing is pending.
func (h *ExternalOffsetHold) Evaluate(curve domain.CurveConfig, now time.Time) (float64, time.Duration) {
	requested := 0.0
	if curve.ExternalOffsetEnabled {
		requested = clampOffset(curve.ExternalOffset)
	}

	if h.candidate == nil || !sameOffset(*h.candidate, requested) {
		h.candidate = &requested
		h.since = now
	}
	if sameOffset(requested, h.active) {
		return h.active, 0
	}

	remaining := curve.ExternalHold() - now.Sub(h.since)
	if remaining <= 0 {
		h.active = requested
		h.since = now
		return h.active, 0
	}
	return h.active, remaining
}

func (h *ExternalOffsetHold) State() domain.ExternalOffsetState {
	state := domain.ExternalOffsetState{
		Active: h.active,
		Since:  h.since,
	}
	if h.candidate != nil && !sameOffset(*h.candidate, h.active) {
		pending := *h.candidate
		state.Pending = &pending
	}
	return state
}

func sameOffset(a, b float64) bool {
	return math.Abs(a-b) < externalOffsetTolerance
}
