package service

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"

	"go.uber.org/zap"
)

const (
	COPStateVersion = 1
	// per-day history kept for the rolling windows
	COPHistoryDays = 365
	dayLayout      = "2006-01-02"
)

type energyTotals struct {
	Heat       float64 `json:"heat"`
	Electrical float64 `json:"electrical"`
}

type meterSnapshotState struct {
	Heat       float64   `json:"heat"`
	Electrical float64   `json:"electrical"`
	SeenAt     time.Time `json:"seen_at"`
}

type copSources struct {
	Heat       string `json:"heat"`
	Electrical string `json:"electrical"`
}

type copState struct {
	Version      int                     `json:"version"`
	Sources      copSources              `json:"sources"`
	Snapshot     *meterSnapshotState     `json:"snapshot,omitempty"`
	CurrentDay   string                  `json:"current_day,omitempty"`
	Days         map[string]energyTotals `json:"days"`
	Yesterday    energyTotals            `json:"yesterday"`
	Overall      energyTotals            `json:"overall"`
	OverallSince time.Time               `json:"overall_since,omitempty"`
}

// Accumulator derives energy deltas from two meter totals and keeps them in
// per-day buckets, from which the six COP periods are computed.
type Accumulator struct {
	name     string
	sources  copSources
	location *time.Location
	blob     port.BlobStore
	state    copState
	dirty    bool
	logger   *zap.Logger
}

func NewAccumulator(cfg domain.COPSourceConfig, blob port.BlobStore, location *time.Location, logger *zap.Logger) *Accumulator {
	if location == nil {
		location = time.Local
	}
	sources := copSources{
		Heat:       cfg.HeatSource.String(),
		Electrical: cfg.ElectricalSource.String(),
	}
	return &Accumulator{
		name:     cfg.Name,
		sources:  sources,
		location: location,
		blob:     blob,
		state:    emptyCOPState(sources),
		logger:   logger,
	}
}

func emptyCOPState(sources copSources) copState {
	return copState{
		Version: COPStateVersion,
		Sources: sources,
		Days:    map[string]energyTotals{},
	}
}

func (a *Accumulator) Name() string {
	return a.name
}

// Load restores the persisted state. Any failure leaves a zeroed state in place
// and is returned as a PersistenceError for the caller to log.
func (a *Accumulator) Load() error {
	if a.blob == nil {
		return nil
	}
	data, err := a.blob.Load()
	if err != nil {
		a.state = emptyCOPState(a.sources)
		return fmt.Errorf("%w: load cop %s: %w", domain.ErrPersistence, a.name, err)
	}
	if data == nil {
		return nil
	}
	return a.Restore(data)
}

func (a *Accumulator) Restore(data []byte) error {
	var st copState
	if err := json.Unmarshal(data, &st); err != nil {
		a.state = emptyCOPState(a.sources)
		return fmt.Errorf("%w: corrupt cop state %s: %w", domain.ErrPersistence, a.name, err)
	}
	if st.Version != COPStateVersion {
		a.state = emptyCOPState(a.sources)
		return fmt.Errorf("%w: cop state %s has unsupported version %d", domain.ErrPersistence, a.name, st.Version)
	}
	if st.Days == nil {
		st.Days = map[string]energyTotals{}
	}
	if st.Sources != a.sources {
		// another meter now feeds this accumulator, its totals are not comparable
		a.logger.Info("cop meters changed, reseeding snapshot",
			zap.String("cop", a.name),
			zap.String("heat", a.sources.Heat),
			zap.String("electrical", a.sources.Electrical))
		st.Snapshot = nil
		st.Sources = a.sources
		a.dirty = true
	}
	a.state = st
	return nil
}

func (a *Accumulator) Snapshot() ([]byte, error) {
	return json.Marshal(a.state)
}

// Persist saves the state when it changed since the last successful save.
func (a *Accumulator) Persist() error {
	if !a.dirty || a.blob == nil {
		return nil
	}
	data, err := a.Snapshot()
	if err != nil {
		return fmt.Errorf("%w: encode cop %s: %w", domain.ErrPersistence, a.name, err)
	}
	if err := a.blob.Save(data); err != nil {
		return fmt.Errorf("%w: save cop %s: %w", domain.ErrPersistence, a.name, err)
	}
	a.dirty = false
	return nil
}

func (a *Accumulator) Dirty() bool {
	return a.dirty
}

func (a *Accumulator) MeterSnapshot() (domain.MeterSnapshot, bool) {
	if a.state.Snapshot == nil {
		return domain.MeterSnapshot{}, false
	}
	return domain.MeterSnapshot{
		LastHeatTotal:       a.state.Snapshot.Heat,
		LastElectricalTotal: a.state.Snapshot.Electrical,
		LastSeenAt:          a.state.Snapshot.SeenAt,
	}, true
}

func (a *Accumulator) Ingest(heatTotal, electricalTotal float64, now time.Time) error {
	if !finite(heatTotal) || !finite(electricalTotal) {
		return fmt.Errorf("%w: cop %s got non finite totals", domain.ErrMissingInput, a.name)
	}

	a.Rollover(now)

	prev := a.state.Snapshot
	a.state.Snapshot = &meterSnapshotState{
		Heat:       heatTotal,
		Electrical: electricalTotal,
		SeenAt:     now,
	}
	a.dirty = true
	if prev == nil {
		if a.state.OverallSince.IsZero() {
			a.state.OverallSince = now
		}
		return nil
	}

	// a decreasing total is a meter reset and contributes nothing
	deltaHeat := math.Max(0, heatTotal-prev.Heat)
	deltaElectrical := math.Max(0, electricalTotal-prev.Electrical)
	if deltaHeat == 0 && deltaElectrical == 0 {
		return nil
	}

	day := a.dayKey(now)
	if a.daysBefore(day) >= COPHistoryDays {
		// too old for any rolling window
		day = ""
	}
	if day != "" {
		totals := a.state.Days[day]
		totals.Heat += deltaHeat
		totals.Electrical += deltaElectrical
		a.state.Days[day] = totals
	}
	a.state.Overall.Heat += deltaHeat
	a.state.Overall.Electrical += deltaElectrical
	return nil
}

// Rollover advances the current day. It is a no-op when called again within the
// same calendar day, and never moves the day backwards.
func (a *Accumulator) Rollover(now time.Time) bool {
	day := a.dayKey(now)
	if a.state.CurrentDay == "" {
		a.state.CurrentDay = day
		a.dirty = true
		return true
	}
	if day <= a.state.CurrentDay {
		return false
	}

	yesterday := shiftDay(day, -1)
	a.state.Yesterday = a.state.Days[yesterday]
	a.state.CurrentDay = day
	for d := range a.state.Days {
		if daysBetween(d, day) >= COPHistoryDays {
			delete(a.state.Days, d)
		}
	}
	a.dirty = true
	a.logger.Debug("cop rollover", zap.String("cop", a.name), zap.String("day", day))
	return true
}

func (a *Accumulator) Compute(period domain.Period) (float64, bool) {
	return a.bucket(period).COP()
}

func (a *Accumulator) Buckets() []domain.EnergyBucket {
	buckets := make([]domain.EnergyBucket, 0, len(domain.Periods))
	for _, p := range domain.Periods {
		buckets = append(buckets, a.bucket(p))
	}
	return buckets
}

func (a *Accumulator) bucket(period domain.Period) domain.EnergyBucket {
	current := a.state.CurrentDay
	if current == "" {
		return domain.EnergyBucket{Period: period}
	}
	start := a.dayStart(current)
	end := start.AddDate(0, 0, 1)

	b := domain.EnergyBucket{Period: period, WindowStart: start, WindowEnd: end}
	switch period {
	case domain.PeriodToday:
		t := a.state.Days[current]
		b.HeatEnergy, b.ElectricalEnergy = t.Heat, t.Electrical
	case domain.PeriodYesterday:
		b.HeatEnergy, b.ElectricalEnergy = a.state.Yesterday.Heat, a.state.Yesterday.Electrical
		b.WindowStart, b.WindowEnd = start.AddDate(0, 0, -1), start
	case domain.PeriodOverall:
		b.HeatEnergy, b.ElectricalEnergy = a.state.Overall.Heat, a.state.Overall.Electrical
		if !a.state.OverallSince.IsZero() {
			b.WindowStart = a.state.OverallSince.In(a.location)
		}
	default:
		n := period.Days()
		for d, t := range a.state.Days {
			age := daysBetween(d, current)
			if age >= 0 && age < n {
				b.HeatEnergy += t.Heat
				b.ElectricalEnergy += t.Electrical
			}
		}
		b.WindowStart = start.AddDate(0, 0, -(n - 1))
	}
	return b
}

func (a *Accumulator) dayKey(t time.Time) string {
	return t.In(a.location).Format(dayLayout)
}

func (a *Accumulator) dayStart(day string) time.Time {
	t, err := time.ParseInLocation(dayLayout, day, a.location)
	if err != nil {
		return time.Time{}
	}
	return t
}

// daysBefore returns how many days day lies before the current day.
func (a *Accumulator) daysBefore(day string) int {
	if a.state.CurrentDay == "" {
		return 0
	}
	return daysBetween(day, a.state.CurrentDay)
}

// daysBetween returns to - from in calendar days.
func daysBetween(from, to string) int {
	f, err1 := time.Parse(dayLayout, from)
	t, err2 := time.Parse(dayLayout, to)
	if err1 != nil || err2 != nil {
		return math.MaxInt32
	}
	return int(t.Sub(f).Hours() / 24)
}

func shiftDay(day string, n int) string {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, n).Format(dayLayout)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ensure interface compliance
var _ port.COPAccumulator = (*Accumulator)(nil)
