package domain

import (
	"fmt"
	"time"
)

type Period string

const (
	PeriodToday     Period = "today"
	PeriodYesterday Period = "yesterday"
	Period7d        Period = "7d"
	Period30d       Period = "30d"
	Period365d      Period = "365d"
	PeriodOverall   Period = "overall"
)

var Periods = []Period{PeriodToday, PeriodYesterday, Period7d, Period30d, Period365d, PeriodOverall}

// Days returns the rolling window length in days, 0 for periods without one.
func (p Period) Days() int {
	switch p {
	case Period7d:
		return 7
	case Period30d:
		return 30
	case Period365d:
		return 365
	}
	return 0
}

func ParsePeriod(s string) (Period, error) {
	for _, p := range Periods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown period %q", s)
}

type EnergyBucket struct {
	Period           Period
	HeatEnergy       float64
	ElectricalEnergy float64
	WindowStart      time.Time
	WindowEnd        time.Time
}

// COP returns heat/electrical, absent when nothing was consumed.
func (b EnergyBucket) COP() (float64, bool) {
	if b.ElectricalEnergy <= 0 {
		return 0, false
	}
	return b.HeatEnergy / b.ElectricalEnergy, true
}

type MeterSnapshot struct {
	LastHeatTotal       float64
	LastElectricalTotal float64
	LastSeenAt          time.Time
}

type COPSourceConfig struct {
	Name             string
	HeatSource       SourceRef
	ElectricalSource SourceRef
}

func (c COPSourceConfig) Validate() error {
	if c.HeatSource.IsZero() || c.ElectricalSource.IsZero() {
		return fmt.Errorf("%w: cop %s needs both heat and electrical sources", ErrConfiguration, c.Name)
	}
	if c.HeatSource == c.ElectricalSource {
		return fmt.Errorf("%w: cop %s heat and electrical meters resolve to the same source %s", ErrConfiguration, c.Name, c.HeatSource)
	}
	return nil
}
