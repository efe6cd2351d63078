package port

import (
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
)

type OffsetDecider interface {
	Evaluate(curve domain.CurveConfig, pvPowerKW *float64, batterySoCPct *float64, now time.Time) float64
	State() domain.CurveRuntimeState
}

type COPAccumulator interface {
	Ingest(heatTotal, electricalTotal float64, now time.Time) error
	Rollover(now time.Time) bool
	Compute(period domain.Period) (float64, bool)
	Buckets() []domain.EnergyBucket
	Persist() error
}

// PollObserver receives poll outcomes, used for metrics.
type PollObserver interface {
	BlockRead(slaveId uint8, cadence domain.Cadence, address uint16, count uint16, duration time.Duration, err error)
	DecodeFailed(slaveId uint8, registerId string)
	ReadingStored(reading domain.Reading)
}

type CurveObserver interface {
	CurveEvaluated(prefix string, offset float64, commanded float64)
	CurveWrite(prefix string, err error)
}

type COPObserver interface {
	COPUpdated(name string, buckets []domain.EnergyBucket)
}
