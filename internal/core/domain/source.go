package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	SOURCE_KIND_REGISTER = "register"
	SOURCE_KIND_SENSOR   = "sensor"
)

// SourceRef points at a value either in the register Value Store or in the
// external sensor feed.
type SourceRef struct {
	Kind    string
	SlaveId uint8
	Id      string
}

func (s SourceRef) String() string {
	if s.Kind == SOURCE_KIND_SENSOR {
		return fmt.Sprintf("sensor:%s", s.Id)
	}
	return fmt.Sprintf("%d/%s", s.SlaveId, s.Id)
}

func (s SourceRef) IsZero() bool {
	return s.Id == ""
}

// ParseSourceRef accepts "register_id", "slave/register_id" or "sensor:name".
func ParseSourceRef(ref string, defaultSlave uint8) (SourceRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return SourceRef{}, nil
	}
	if name, ok := strings.CutPrefix(ref, "sensor:"); ok {
		if name == "" {
			return SourceRef{}, fmt.Errorf("%w: empty sensor name in %q", ErrConfiguration, ref)
		}
		return SourceRef{Kind: SOURCE_KIND_SENSOR, Id: name}, nil
	}
	if slave, id, ok := strings.Cut(ref, "/"); ok {
		n, err := strconv.ParseUint(slave, 10, 8)
		if err != nil || id == "" {
			return SourceRef{}, fmt.Errorf("%w: invalid source %q", ErrConfiguration, ref)
		}
		return SourceRef{Kind: SOURCE_KIND_REGISTER, SlaveId: uint8(n), Id: id}, nil
	}
	return SourceRef{Kind: SOURCE_KIND_REGISTER, SlaveId: defaultSlave, Id: ref}, nil
}
