package domain

import (
	"fmt"
	"math"
	"time"
)

type Cadence string

const (
	CadenceFast Cadence = "fast"
	CadenceLong Cadence = "long"
)

type RegisterSpec struct {
	Id          string
	Name        string
	Address     uint16
	Words       uint16 // 1 or 2, 32-bit values are high word first
	Scale       float64
	Signed      bool
	Writable    bool
	Unit        string
	DeviceClass string
	StateClass  string
	Precision   uint
	Min         *float64
	Max         *float64
	Cadence     Cadence
}

type Reading struct {
	SlaveId    uint8
	RegisterId string
	Value      float64
	Unit       string
	ObservedAt time.Time
}

// End returns the last address covered by the register.
func (r RegisterSpec) End() uint16 {
	if r.Words == 0 {
		return r.Address
	}
	return r.Address + r.Words - 1
}

func (r RegisterSpec) Decode(words []uint16) (float64, error) {
	if r.Scale == 0 {
		return 0, fmt.Errorf("%w: register %s has zero scale", ErrDecode, r.Id)
	}
	if len(words) != int(r.Words) {
		return 0, fmt.Errorf("%w: register %s expects %d words, got %d", ErrDecode, r.Id, r.Words, len(words))
	}

	var raw float64
	switch r.Words {
	case 1:
		if r.Signed {
			raw = float64(int16(words[0]))
		} else {
			raw = float64(words[0])
		}
	case 2:
		v := uint32(words[0])<<16 | uint32(words[1])
		if r.Signed {
			raw = float64(int32(v))
		} else {
			raw = float64(v)
		}
	default:
		return 0, fmt.Errorf("%w: register %s has unsupported width %d", ErrDecode, r.Id, r.Words)
	}
	return raw * r.Scale, nil
}

// Encode converts an engineering value to the raw single-word register value,
// rounded to the register resolution.
func (r RegisterSpec) Encode(value float64) (uint16, error) {
	if r.Scale == 0 {
		return 0, fmt.Errorf("%w: register %s has zero scale", ErrDecode, r.Id)
	}
	if r.Words != 1 {
		return 0, fmt.Errorf("%w: register %s is not a single word register", ErrDecode, r.Id)
	}
	raw := math.Round(value / r.Scale)
	if r.Signed {
		if raw < math.MinInt16 || raw > math.MaxInt16 {
			return 0, fmt.Errorf("%w: value %.2f out of range for register %s", ErrDecode, value, r.Id)
		}
		return uint16(int16(raw)), nil
	}
	if raw < 0 || raw > math.MaxUint16 {
		return 0, fmt.Errorf("%w: value %.2f out of range for register %s", ErrDecode, value, r.Id)
	}
	return uint16(raw), nil
}

type RegisterWrite struct {
	SlaveId  uint8
	Register RegisterSpec
	Raw      uint16
	Value    float64
}
