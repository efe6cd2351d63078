package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
)

type key struct {
	slaveId    uint8
	registerId string
}

// ValueStore keeps the latest Reading per (slave, register id). Readings are
// stored and returned by value, so readers never see a partial update.
type ValueStore struct {
	mu     sync.RWMutex
	values map[key]domain.Reading
}

func NewValueStore() *ValueStore {
	return &ValueStore{
		values: map[key]domain.Reading{},
	}
}

// Put stores the reading unless an entry with a later ObservedAt exists.
func (s *ValueStore) Put(r domain.Reading) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(r)
}

// PutAll stores readings under one lock and returns the accepted ones.
func (s *ValueStore) PutAll(readings []domain.Reading) []domain.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := make([]domain.Reading, 0, len(readings))
	for _, r := range readings {
		if s.putLocked(r) {
			accepted = append(accepted, r)
		}
	}
	return accepted
}

func (s *ValueStore) Get(slaveId uint8, registerId string) (domain.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.values[key{slaveId: slaveId, registerId: registerId}]
	return r, ok
}

// Fresh returns the reading when present and not older than maxAge at now.
// A zero maxAge disables the age check.
func (s *ValueStore) Fresh(slaveId uint8, registerId string, now time.Time, maxAge time.Duration) (domain.Reading, error) {
	r, ok := s.Get(slaveId, registerId)
	if !ok {
		return r, fmt.Errorf("%w: no reading for %d/%s", domain.ErrMissingInput, slaveId, registerId)
	}
	if maxAge > 0 && now.Sub(r.ObservedAt) > maxAge {
		return r, fmt.Errorf("%w: reading for %d/%s is stale (%s old)", domain.ErrMissingInput, slaveId, registerId, now.Sub(r.ObservedAt).Round(time.Second))
	}
	return r, nil
}

// All returns every reading ordered by slave and register id.
func (s *ValueStore) All() []domain.Reading {
	s.mu.RLock()
	result := make([]domain.Reading, 0, len(s.values))
	for _, r := range s.values {
		result = append(result, r)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].SlaveId != result[j].SlaveId {
			return result[i].SlaveId < result[j].SlaveId
		}
		return result[i].RegisterId < result[j].RegisterId
	})
	return result
}

func (s *ValueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func (s *ValueStore) putLocked(r domain.Reading) bool {
	k := key{slaveId: r.SlaveId, registerId: r.RegisterId}
	if prev, ok := s.values[k]; ok && r.ObservedAt.Before(prev.ObservedAt) {
		return false
	}
	s.values[k] = r
	return true
}

// Sources resolves a SourceRef against the register store or the external
// sensor store.
type Sources struct {
	Registers  *ValueStore
	Sensors    *ValueStore
	StaleAfter time.Duration
}

func (s Sources) Lookup(ref domain.SourceRef, now time.Time) (domain.Reading, error) {
	if ref.IsZero() {
		return domain.Reading{}, fmt.Errorf("%w: source not configured", domain.ErrMissingInput)
	}
	switch ref.Kind {
	case domain.SOURCE_KIND_SENSOR:
		if s.Sensors == nil {
			return domain.Reading{}, fmt.Errorf("%w: no sensor feed for %s", domain.ErrMissingInput, ref)
		}
		return s.Sensors.Fresh(0, ref.Id, now, s.StaleAfter)
	default:
		if s.Registers == nil {
			return domain.Reading{}, fmt.Errorf("%w: no register store for %s", domain.ErrMissingInput, ref)
		}
		return s.Registers.Fresh(ref.SlaveId, ref.Id, now, s.StaleAfter)
	}
}

// Optional returns a pointer to the value, nil when the source is missing or stale.
func (s Sources) Optional(ref domain.SourceRef, now time.Time) (*domain.Reading, error) {
	r, err := s.Lookup(ref, now)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Matches reports whether the reading is the one the ref points at.
func Matches(ref domain.SourceRef, r domain.Reading, external bool) bool {
	if ref.IsZero() {
		return false
	}
	if external {
		return ref.Kind == domain.SOURCE_KIND_SENSOR && ref.Id == r.RegisterId
	}
	return ref.Kind == domain.SOURCE_KIND_REGISTER && ref.SlaveId == r.SlaveId && ref.Id == r.RegisterId
}
