package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalOffsetDisabled(t *testing.T) {

	hold := NewExternalOffsetHold()
	curve := heatingCurve()
	curve.ExternalOffset = 4

	offset, remaining := hold.Evaluate(curve, t0)
	assert.Equal(t, 0.0, offset, "switch off means no offset")
	assert.Zero(t, remaining)
	assert.Nil(t, hold.State().Pending)
}

func TestExternalOffsetHoldTime(t *testing.T) {

	hold := NewExternalOffsetHold()
	curve := heatingCurve()
	curve.ExternalOffsetEnabled = true
	curve.ExternalOffset = 2.5
	curve.ExternalHoldMinutes = 5

	offset, remaining := hold.Evaluate(curve, t0)
	assert.Equal(t, 0.0, offset)
	assert.Equal(t, 5*time.Minute, remaining)
	require.NotNil(t, hold.State().Pending)
	assert.Equal(t, 2.5, *hold.State().Pending)

	offset, remaining = hold.Evaluate(curve, t0.Add(3*time.Minute))
	assert.Equal(t, 0.0, offset)
	assert.Equal(t, 2*time.Minute, remaining)

	offset, remaining = hold.Evaluate(curve, t0.Add(5*time.Minute))
	assert.Equal(t, 2.5, offset)
	assert.Zero(t, remaining)
	assert.Nil(t, hold.State().Pending)
	assert.Equal(t, 2.5, hold.State().Active)
}

func TestExternalOffsetChangeRestartsHold(t *testing.T) {

	hold := NewExternalOffsetHold()
	curve := heatingCurve()
	curve.ExternalOffsetEnabled = true
	curve.ExternalOffset = 2
	curve.ExternalHoldMinutes = 5

	hold.Evaluate(curve, t0)
	curve.ExternalOffset = 3
	offset, remaining := hold.Evaluate(curve, t0.Add(4*time.Minute))
	assert.Equal(t, 0.0, offset)
	assert.Equal(t, 5*time.Minute, remaining, "a new value waits its own hold")

	// going back to the active value cancels the pending one
	curve.ExternalOffsetEnabled = false
	offset, remaining = hold.Evaluate(curve, t0.Add(5*time.Minute))
	assert.Equal(t, 0.0, offset)
	assert.Zero(t, remaining)
	assert.Nil(t, hold.State().Pending)
}

func TestExternalOffsetWithoutHoldIsImmediate(t *testing.T) {

	hold := NewExternalOffsetHold()
	curve := heatingCurve()
	curve.ExternalOffsetEnabled = true
	curve.ExternalOffset = 25

	offset, remaining := hold.Evaluate(curve, t0)
	assert.Equal(t, 10.0, offset, "clamped to the offset range")
	assert.Zero(t, remaining)

	// switching off also waits for the hold once one is configured
	curve.ExternalOffsetEnabled = false
	curve.ExternalHoldMinutes = 1
	offset, remaining = hold.Evaluate(curve, t0.Add(time.Second))
	assert.Equal(t, 10.0, offset)
	assert.Equal(t, time.Minute, remaining)
	offset, _ = hold.Evaluate(curve, t0.Add(61*time.Second))
	assert.Equal(t, 0.0, offset)
}
